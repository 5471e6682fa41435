package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/afm-storefront/pkg/enums"
)

// Cart is the server-side authoritative cart. Guest carts have no customer.
type Cart struct {
	ID          uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID  *uuid.UUID       `gorm:"column:customer_id;type:uuid;index"`
	Status      enums.CartStatus `gorm:"column:status;type:text;not null;default:'active'"`
	Currency    string           `gorm:"column:currency;type:text;not null;default:'USD'"`
	MergedInto  *uuid.UUID       `gorm:"column:merged_into;type:uuid"`
	ExpiresAt   *time.Time       `gorm:"column:expires_at"`
	ConvertedAt *time.Time       `gorm:"column:converted_at"`
	Lines       []CartLine       `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// CartLine is unique per (cart, line key). LineKey is "product" or
// "product:variant" so the constraint also holds when there is no variant.
type CartLine struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	CartID    uuid.UUID       `gorm:"column:cart_id;type:uuid;not null;uniqueIndex:ux_cart_lines_cart_key,priority:1"`
	LineKey   string          `gorm:"column:line_key;not null;uniqueIndex:ux_cart_lines_cart_key,priority:2"`
	ProductID uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	VariantID *uuid.UUID      `gorm:"column:variant_id;type:uuid"`
	Quantity  int             `gorm:"column:quantity;not null"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	Position  int             `gorm:"column:position;not null;default:0"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
