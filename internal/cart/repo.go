package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/afm-storefront/pkg/db/models"
	"github.com/angelmondragon/afm-storefront/pkg/enums"
)

// Repository exposes persistence operations for server carts and their lines.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create inserts a new cart.
func (r *Repository) Create(ctx context.Context, cart *models.Cart) error {
	if cart.Status == "" {
		cart.Status = enums.CartStatusActive
	}
	return r.db.WithContext(ctx).Create(cart).Error
}

// FindByID loads a cart with its lines in insertion order.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&cart, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// FindActiveByCustomer loads the latest active cart for the customer.
func (r *Repository) FindActiveByCustomer(ctx context.Context, customerID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("customer_id = ? AND status = ?", customerID, enums.CartStatusActive).
		Order("created_at DESC").
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// UpsertLine sets the quantity and price of the (cart, line key) row,
// appending it at the end of the cart when it does not exist yet.
func (r *Repository) UpsertLine(ctx context.Context, line *models.CartLine) error {
	db := r.db.WithContext(ctx)
	var existing models.CartLine
	err := db.Where("cart_id = ? AND line_key = ?", line.CartID, line.LineKey).First(&existing).Error
	switch {
	case err == nil:
		line.ID = existing.ID
		line.Position = existing.Position
		line.CreatedAt = existing.CreatedAt
		return db.Model(&existing).Updates(map[string]any{
			"quantity":   line.Quantity,
			"unit_price": line.UnitPrice,
		}).Error
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	var maxPos *int
	if err := db.Model(&models.CartLine{}).
		Where("cart_id = ?", line.CartID).
		Select("MAX(position)").
		Scan(&maxPos).Error; err != nil {
		return err
	}
	line.Position = 0
	if maxPos != nil {
		line.Position = *maxPos + 1
	}
	return db.Create(line).Error
}

// DeleteLine removes the line and reports whether it existed.
func (r *Repository) DeleteLine(ctx context.Context, cartID uuid.UUID, lineKey string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("cart_id = ? AND line_key = ?", cartID, lineKey).
		Delete(&models.CartLine{})
	return res.RowsAffected > 0, res.Error
}

// ClearLines removes every line of the cart.
func (r *Repository) ClearLines(ctx context.Context, cartID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&models.CartLine{}).Error
}

// UpdateStatus moves the cart from one status to another. It reports false
// when the cart was not in the expected status.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.CartStatus) (bool, error) {
	updates := map[string]any{"status": to}
	if to == enums.CartStatusConverted {
		updates["converted_at"] = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// AssignCustomer hands a guest cart to a customer and removes its expiry.
func (r *Repository) AssignCustomer(ctx context.Context, id, customerID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", id).
		Updates(map[string]any{"customer_id": customerID, "expires_at": nil}).Error
}

// MarkMerged closes a guest cart after its lines moved into another cart.
func (r *Repository) MarkMerged(ctx context.Context, id, into uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": enums.CartStatusMerged, "merged_into": into}).Error
}

// Touch bumps updated_at so the cart snapshot reflects the latest mutation.
func (r *Repository) Touch(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", id).
		Update("updated_at", time.Now().UTC()).Error
}

// FindExpiredGuests lists active guest carts whose expiry passed before cutoff.
func (r *Repository) FindExpiredGuests(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("customer_id IS NULL AND status = ? AND expires_at IS NOT NULL AND expires_at < ?", enums.CartStatusActive, cutoff).
		Order("expires_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// Abandon closes the given active carts and drops their lines. Carts stay
// in place because orders reference them.
func (r *Repository) Abandon(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var affected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Cart{}).
			Where("id IN ? AND status = ?", ids, enums.CartStatusActive).
			Update("status", enums.CartStatusAbandoned)
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		return tx.Where("cart_id IN ?", ids).Delete(&models.CartLine{}).Error
	})
	return affected, err
}
