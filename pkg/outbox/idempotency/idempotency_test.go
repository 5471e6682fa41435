package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	values map[string]string
	ttls   map[string]time.Duration
	// vanish drops the key after the next SetNX miss, as if it expired.
	vanish bool
	err    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.values[key]; ok {
		if m.vanish {
			m.vanish = false
			delete(m.values, key)
		}
		return false, nil
	}
	m.values[key], m.ttls[key] = value.(string), ttl
	return true, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.values[key], m.ttls[key] = value.(string), ttl
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "afm:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

const stripeEvent = "evt_1Nq2Ab"

func newTestLedger(t *testing.T, store *memoryStore) *Ledger {
	t.Helper()
	ledger, err := NewLedger(store, 72*time.Hour, time.Minute)
	require.NoError(t, err)
	return ledger
}

func TestLedgerLifecycle(t *testing.T) {
	store := newMemoryStore()
	ledger := newTestLedger(t, store)
	ctx := context.Background()
	key := "afm:idempotency:evt:stripe-webhook:" + stripeEvent

	status, err := ledger.Claim(ctx, "stripe-webhook", stripeEvent)
	require.NoError(t, err)
	require.Equal(t, Claimed, status)
	require.Equal(t, markerProcessing, store.values[key])
	require.Equal(t, time.Minute, store.ttls[key])

	status, err = ledger.Claim(ctx, "stripe-webhook", stripeEvent)
	require.NoError(t, err)
	require.Equal(t, InFlight, status)

	require.NoError(t, ledger.Complete(ctx, "stripe-webhook", stripeEvent))
	require.Equal(t, 72*time.Hour, store.ttls[key])

	status, err = ledger.Claim(ctx, "stripe-webhook", stripeEvent)
	require.NoError(t, err)
	require.Equal(t, Done, status)
}

func TestLedgerReleaseAllowsRetry(t *testing.T) {
	ledger := newTestLedger(t, newMemoryStore())
	ctx := context.Background()

	_, err := ledger.Claim(ctx, "stripe-webhook", stripeEvent)
	require.NoError(t, err)
	require.NoError(t, ledger.Release(ctx, "stripe-webhook", stripeEvent))

	status, err := ledger.Claim(ctx, "stripe-webhook", stripeEvent)
	require.NoError(t, err)
	require.Equal(t, Claimed, status)
}

func TestLedgerReclaimsExpiredClaim(t *testing.T) {
	store := newMemoryStore()
	ledger := newTestLedger(t, store)
	ctx := context.Background()

	_, err := ledger.Claim(ctx, "stripe-webhook", stripeEvent)
	require.NoError(t, err)
	store.vanish = true

	status, err := ledger.Claim(ctx, "stripe-webhook", stripeEvent)
	require.NoError(t, err)
	require.Equal(t, Claimed, status)
}

func TestLedgerConsumersAreIndependent(t *testing.T) {
	ledger := newTestLedger(t, newMemoryStore())
	ctx := context.Background()

	_, err := ledger.Claim(ctx, "stripe-webhook", stripeEvent)
	require.NoError(t, err)
	status, err := ledger.Claim(ctx, "order-mailer", stripeEvent)
	require.NoError(t, err)
	require.Equal(t, Claimed, status)
}

func TestLedgerRejectsBadInput(t *testing.T) {
	_, err := NewLedger(nil, time.Hour, 0)
	require.Error(t, err)
	_, err = NewLedger(newMemoryStore(), -time.Second, 0)
	require.Error(t, err)

	ledger := newTestLedger(t, newMemoryStore())
	_, err = ledger.Claim(context.Background(), "", stripeEvent)
	require.Error(t, err)
	_, err = ledger.Claim(context.Background(), "stripe-webhook", "  ")
	require.Error(t, err)
}

func TestLedgerPropagatesStoreErrors(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("redis unavailable")
	ledger := newTestLedger(t, store)

	_, err := ledger.Claim(context.Background(), "stripe-webhook", stripeEvent)
	require.ErrorContains(t, err, "redis unavailable")
}

func TestNewLedgerDefaultsClaimTTL(t *testing.T) {
	ledger, err := NewLedger(newMemoryStore(), time.Hour, 0)
	require.NoError(t, err)
	require.Equal(t, DefaultClaimTTL, ledger.claimTTL)
	require.Equal(t, "in_flight", InFlight.String())
}
