package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultLeaseTTL = 10 * time.Minute

// ErrLeaseLost means another worker took over after the lease expired.
var ErrLeaseLost = errors.New("cron lease lost")

// LeaseName scopes the worker lease to one environment.
func LeaseName(env string) string {
	env = strings.TrimSpace(env)
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}

// Lock coordinates exclusive cron cycles. Extend is called between jobs so a
// long cycle keeps the lease while a crashed worker's lease still lapses.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
}

type leaseStore interface {
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ExtendLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, owner string) (bool, error)
}

// Lease is a Lock backed by an owner-checked Redis lease.
type Lease struct {
	store leaseStore
	name  string
	ttl   time.Duration
	owner string
}

func NewLease(store leaseStore, name string, ttl time.Duration) (*Lease, error) {
	switch {
	case store == nil:
		return nil, errors.New("lease store required")
	case name == "":
		return nil, errors.New("lease name required")
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &Lease{store: store, name: name, ttl: ttl}, nil
}

func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.store.AcquireLease(ctx, l.name, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.name, err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

func (l *Lease) Extend(ctx context.Context) error {
	if l.owner == "" {
		return ErrLeaseLost
	}
	ok, err := l.store.ExtendLease(ctx, l.name, l.owner, l.ttl)
	if err != nil {
		return fmt.Errorf("extend %s: %w", l.name, err)
	}
	if !ok {
		l.owner = ""
		return ErrLeaseLost
	}
	return nil
}

// Release is a no-op when the lease was never held or has already lapsed.
func (l *Lease) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	owner := l.owner
	l.owner = ""
	if _, err := l.store.ReleaseLease(ctx, l.name, owner); err != nil {
		return fmt.Errorf("release %s: %w", l.name, err)
	}
	return nil
}
