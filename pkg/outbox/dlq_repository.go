package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/afm-storefront/pkg/db/models"
	"github.com/angelmondragon/afm-storefront/pkg/enums"
)

const (
	defaultDLQPage = 50
	maxDLQPage     = 200
)

// ErrDeadLetterNotFound is returned by Requeue for an unknown event id.
var ErrDeadLetterNotFound = errors.New("dead letter not found")

// DLQFilter narrows a dead-letter listing. A zero Reason lists every reason.
type DLQFilter struct {
	Reason enums.OutboxDLQErrorReason
	Limit  int
}

// DLQRepository stores outbox rows the publisher gave up on and puts them
// back in the queue on request.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx records a dead letter inside the publisher's batch transaction.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if !entry.ErrorReason.IsValid() {
		return fmt.Errorf("unknown dead letter reason %q", entry.ErrorReason)
	}
	if entry.ErrorMessage != nil {
		msg := truncate(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// List returns the newest dead letters first.
func (r *DLQRepository) List(ctx context.Context, filter DLQFilter) ([]models.OutboxDLQ, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultDLQPage
	}
	q := r.db.WithContext(ctx).Order("failed_at DESC").Order("id DESC").Limit(min(limit, maxDLQPage))
	if filter.Reason != "" {
		q = q.Where("error_reason = ?", filter.Reason)
	}
	var rows []models.OutboxDLQ
	return rows, q.Find(&rows).Error
}

// Requeue makes a dead-lettered event publishable again with a fresh attempt
// budget and drops it from the DLQ. An outbox row already pruned by
// retention is recreated from the dead-letter copy under its original id.
func (r *DLQRepository) Requeue(ctx context.Context, eventID uuid.UUID) (*models.OutboxEvent, error) {
	var event models.OutboxEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dead models.OutboxDLQ
		if err := tx.Where("event_id = ?", eventID).First(&dead).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDeadLetterNotFound
			}
			return err
		}

		res := tx.Model(&models.OutboxEvent{}).Where("id = ?", eventID).Updates(map[string]any{
			"published_at":  nil,
			"attempt_count": 0,
			"last_error":    nil,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			recreated := dead.Requeued()
			if err := tx.Create(&recreated).Error; err != nil {
				return fmt.Errorf("recreate outbox row: %w", err)
			}
		}

		if err := tx.Delete(&models.OutboxDLQ{}, "id = ?", dead.ID).Error; err != nil {
			return err
		}
		return tx.First(&event, "id = ?", eventID).Error
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// DeleteFailedBefore prunes at most limit dead letters that failed before
// cutoff.
func (r *DLQRepository) DeleteFailedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	ids := tx.Session(&gorm.Session{NewDB: true}).
		Model(&models.OutboxDLQ{}).
		Select("id").
		Where("failed_at < ?", cutoff).
		Order("failed_at").
		Limit(limit)
	res := tx.Where("id IN (?)", ids).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}
