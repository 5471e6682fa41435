package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/afm-storefront/pkg/config"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	allowed, count, err := client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatalf("expected allowed on first request")
	}
	if count != 1 {
		t.Fatalf("expected counter 1 got %d", count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expected expire for first increment")
	}

	allowed, count, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed || count != 2 {
		t.Fatalf("unexpected second call state allowed=%v count=%d", allowed, count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expire should not be set again")
	}

	allowed, _, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected limit reached")
	}
}

func TestJSONRoundTripAndMiss(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	type snapshot struct {
		ID    string `json:"id"`
		Count int    `json:"count"`
	}

	var out snapshot
	if err := client.GetJSON(ctx, client.CartSnapshotKey("c1"), &out); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}

	if err := client.SetJSON(ctx, client.CartSnapshotKey("c1"), snapshot{ID: "c1", Count: 3}, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := client.GetJSON(ctx, client.CartSnapshotKey("c1"), &out); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if out.ID != "c1" || out.Count != 3 {
		t.Fatalf("unexpected snapshot %+v", out)
	}

	if err := client.Del(ctx, client.CartSnapshotKey("c1")); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if err := client.GetJSON(ctx, client.CartSnapshotKey("c1"), &out); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if _, _, err := client.FixedWindowAllow(context.Background(), "s", 1, time.Second); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close of unopened client: %v", err)
	}
}

func TestLeaseOnlyHonoursOwner(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	ok, err := client.AcquireLease(ctx, "jobs", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to win, got %v %v", ok, err)
	}
	if ok, _ := client.AcquireLease(ctx, "jobs", "b", time.Minute); ok {
		t.Fatal("expected second owner to be refused")
	}

	if ok, _ := client.ExtendLease(ctx, "jobs", "b", time.Minute); ok {
		t.Fatal("non-owner must not extend the lease")
	}
	if ok, _ := client.ExtendLease(ctx, "jobs", "a", 2*time.Minute); !ok {
		t.Fatal("owner should extend the lease")
	}
	last := mock.expireCalls[len(mock.expireCalls)-1]
	if last.key != client.LeaseKey("jobs") || last.ttl != 2*time.Minute {
		t.Fatalf("unexpected extend %+v", last)
	}

	if ok, _ := client.ReleaseLease(ctx, "jobs", "b"); ok {
		t.Fatal("non-owner must not release the lease")
	}
	if ok, _ := client.ReleaseLease(ctx, "jobs", "a"); !ok {
		t.Fatal("owner should release the lease")
	}
	if ok, _ := client.AcquireLease(ctx, "jobs", "b", time.Minute); !ok {
		t.Fatal("expected lease to be free after release")
	}
}

func TestOptionsFillsURLGaps(t *testing.T) {
	opts, err := options(config.RedisConfig{URL: "redis://:pw@cache:6380/2", PoolSize: 7, DB: 5, DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.DB != 2 || opts.Password != "pw" {
		t.Fatalf("url values should win, got %+v", opts)
	}
	if opts.PoolSize != 7 || opts.DialTimeout != time.Second {
		t.Fatalf("expected discrete settings to fill gaps, got pool=%d dial=%s", opts.PoolSize, opts.DialTimeout)
	}

	opts, err = options(config.RedisConfig{Address: "localhost:6379", DB: 3})
	if err != nil || opts.Addr != "localhost:6379" || opts.DB != 3 {
		t.Fatalf("unexpected address options %+v (%v)", opts, err)
	}

	if _, err := options(config.RedisConfig{}); err == nil {
		t.Fatal("expected an error without url or address")
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "afm:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.RateLimitKey("scope"); got != "afm:rate_limit:scope" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.AccessSessionKey(" jti "); got != "afm:session:jti" {
		t.Fatalf("unexpected session key %s", got)
	}
	if got := client.CartSnapshotKey("abc"); got != "afm:cart:abc" {
		t.Fatalf("unexpected cart key %s", got)
	}
	if got := client.LeaseKey("cron-worker:prod"); got != "afm:lease:cron-worker:prod" {
		t.Fatalf("unexpected lease key %s", got)
	}
	if got := client.IdempotencyKey("scope", ""); got != "afm:idempotency:scope" {
		t.Fatalf("key builder should skip empty parts, got %s", got)
	}
}

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	expireCalls []expireCall
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		incr: make(map[string]int64),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	if raw, ok := value.([]byte); ok {
		m.data[key] = string(raw)
	} else {
		m.data[key] = fmt.Sprint(value)
	}
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: expiration})
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	if m.data[keys[0]] != fmt.Sprint(args[0]) {
		return redis.NewCmdResult(int64(0), nil)
	}
	switch script {
	case releaseLeaseScript:
		delete(m.data, keys[0])
	case extendLeaseScript:
		ms, _ := args[1].(int64)
		m.expireCalls = append(m.expireCalls, expireCall{key: keys[0], ttl: time.Duration(ms) * time.Millisecond})
	}
	return redis.NewCmdResult(int64(1), nil)
}
