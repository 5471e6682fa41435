package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/afm-storefront/pkg/logger"
)

// GuestCartJobParams configure the guest cart cleanup job.
type GuestCartJobParams struct {
	Logger    *logger.Logger
	Carts     guestCartRepo
	Cache     snapshotForgetter
	BatchSize int
}

type guestCartRepo interface {
	FindExpiredGuests(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	Abandon(ctx context.Context, ids []uuid.UUID) (int64, error)
}

type snapshotForgetter interface {
	Forget(ctx context.Context, cartIDs ...uuid.UUID)
}

// NewGuestCartJob abandons guest carts whose expiry has passed and evicts
// their cached snapshots.
func NewGuestCartJob(params GuestCartJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &guestCartJob{
		logg:  params.Logger,
		carts: params.Carts,
		cache: params.Cache,
		batch: batch,
		now:   time.Now,
	}, nil
}

type guestCartJob struct {
	logg  *logger.Logger
	carts guestCartRepo
	cache snapshotForgetter
	batch int
	now   func() time.Time
}

func (j *guestCartJob) Name() string { return "guest-cart-cleanup" }

func (j *guestCartJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var total int64
	for {
		ids, err := j.carts.FindExpiredGuests(ctx, now, j.batch)
		if err != nil {
			return fmt.Errorf("find expired guest carts: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		n, err := j.carts.Abandon(ctx, ids)
		if err != nil {
			return fmt.Errorf("abandon guest carts: %w", err)
		}
		if j.cache != nil {
			j.cache.Forget(ctx, ids...)
		}
		total += n
		if len(ids) < j.batch || n == 0 {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	j.logg.Info(j.logg.WithField(ctx, "abandoned", total), "guest cart cleanup complete")
	return nil
}
