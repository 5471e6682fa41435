package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/afm-storefront/pkg/logger"
	"github.com/angelmondragon/afm-storefront/pkg/redis"
)

type jsonStore interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
	Del(ctx context.Context, keys ...string) error
	CartSnapshotKey(cartID string) string
}

// SnapshotCache keeps rendered cart snapshots in Redis. Cache failures are
// logged and treated as misses; the database stays authoritative.
type SnapshotCache struct {
	store jsonStore
	ttl   time.Duration
	logg  *logger.Logger
}

// NewSnapshotCache returns nil when store is nil or ttl is not positive.
func NewSnapshotCache(store jsonStore, ttl time.Duration, logg *logger.Logger) *SnapshotCache {
	if store == nil || ttl <= 0 {
		return nil
	}
	return &SnapshotCache{store: store, ttl: ttl, logg: logg}
}

func (c *SnapshotCache) Get(ctx context.Context, cartID string) (*CartDTO, bool) {
	if c == nil {
		return nil, false
	}
	var dto CartDTO
	if err := c.store.GetJSON(ctx, c.store.CartSnapshotKey(cartID), &dto); err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) && c.logg != nil {
			c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "cart snapshot cache read failed")
		}
		return nil, false
	}
	return &dto, true
}

func (c *SnapshotCache) Put(ctx context.Context, dto *CartDTO) {
	if c == nil || dto == nil {
		return
	}
	if err := c.store.SetJSON(ctx, c.store.CartSnapshotKey(dto.ID.String()), dto, c.ttl); err != nil && c.logg != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "cart snapshot cache write failed")
	}
}

func (c *SnapshotCache) Invalidate(ctx context.Context, cartIDs ...string) {
	if c == nil || len(cartIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(cartIDs))
	for _, id := range cartIDs {
		keys = append(keys, c.store.CartSnapshotKey(id))
	}
	if err := c.store.Del(ctx, keys...); err != nil && c.logg != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "cart snapshot cache invalidate failed")
	}
}

// Forget invalidates snapshots by cart id.
func (c *SnapshotCache) Forget(ctx context.Context, cartIDs ...uuid.UUID) {
	ids := make([]string, 0, len(cartIDs))
	for _, id := range cartIDs {
		ids = append(ids, id.String())
	}
	c.Invalidate(ctx, ids...)
}
