// Package idempotency keeps a per-consumer ledger of handled event ids so
// redelivered webhooks and messages are applied once.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/afm-storefront/pkg/redis"
)

// Status is the outcome of a Claim.
type Status int

const (
	// Claimed means the caller owns the event and must Complete or Release it.
	Claimed Status = iota
	// InFlight means another delivery holds the claim.
	InFlight
	// Done means the event was already handled.
	Done
)

func (s Status) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case InFlight:
		return "in_flight"
	case Done:
		return "done"
	}
	return "unknown"
}

const (
	markerProcessing = "processing"
	markerDone       = "done"

	// DefaultClaimTTL bounds how long a crashed handler blocks redelivery.
	DefaultClaimTTL = 5 * time.Minute
)

// Ledger stores one Redis key per consumer and event:
// `afm:idempotency:evt:<consumer>:<event_id>`. The key holds "processing"
// while a handler runs and "done" once it succeeded.
type Ledger struct {
	store    redis.IdempotencyStore
	claimTTL time.Duration
	doneTTL  time.Duration
}

// NewLedger remembers handled events for doneTTL. A zero claimTTL uses
// DefaultClaimTTL.
func NewLedger(store redis.IdempotencyStore, doneTTL, claimTTL time.Duration) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if doneTTL < 0 || claimTTL < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if claimTTL == 0 {
		claimTTL = DefaultClaimTTL
	}
	return &Ledger{store: store, claimTTL: claimTTL, doneTTL: doneTTL}, nil
}

// Claim takes the event for consumer unless it is done or already claimed.
func (l *Ledger) Claim(ctx context.Context, consumer, eventID string) (Status, error) {
	key, err := l.key(consumer, eventID)
	if err != nil {
		return 0, err
	}
	// a claim can expire between SetNX and Get; one more SetNX settles it
	for range 2 {
		ok, err := l.store.SetNX(ctx, key, markerProcessing, l.claimTTL)
		if err != nil {
			return 0, err
		}
		if ok {
			return Claimed, nil
		}
		marker, err := l.store.Get(ctx, key)
		switch {
		case errors.Is(err, goredis.Nil) || (err == nil && marker == ""):
			continue
		case err != nil:
			return 0, err
		case marker == markerDone:
			return Done, nil
		default:
			return InFlight, nil
		}
	}
	return InFlight, nil
}

// Complete marks a claimed event as handled.
func (l *Ledger) Complete(ctx context.Context, consumer, eventID string) error {
	key, err := l.key(consumer, eventID)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, key, markerDone, l.doneTTL)
}

// Release drops a claim so a failed handler can be retried.
func (l *Ledger) Release(ctx context.Context, consumer, eventID string) error {
	key, err := l.key(consumer, eventID)
	if err != nil {
		return err
	}
	return l.store.Del(ctx, key)
}

func (l *Ledger) key(consumer, eventID string) (string, error) {
	consumer, eventID = strings.TrimSpace(consumer), strings.TrimSpace(eventID)
	switch {
	case consumer == "":
		return "", errors.New("consumer name is required")
	case eventID == "":
		return "", errors.New("event id is required")
	}
	return l.store.IdempotencyKey("evt:"+consumer, eventID), nil
}
