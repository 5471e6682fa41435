package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/afm-storefront/pkg/enums"
	"github.com/angelmondragon/afm-storefront/pkg/types"
)

// Order is created once per checkout attempt and carries its public number.
type Order struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Number          string              `gorm:"column:number;not null;uniqueIndex:ux_orders_number"`
	CartID          uuid.UUID           `gorm:"column:cart_id;type:uuid;not null;index"`
	CustomerID      *uuid.UUID          `gorm:"column:customer_id;type:uuid;index"`
	Email           string              `gorm:"column:email;not null"`
	Phone           *string             `gorm:"column:phone"`
	ShippingAddress types.Address       `gorm:"column:shipping_address;type:text;serializer:json;not null"`
	Status          enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'pending_payment'"`
	PaymentStatus   enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	PaymentIntentID *string             `gorm:"column:payment_intent_id;uniqueIndex"`
	FailureReason   *string             `gorm:"column:failure_reason"`
	Currency        string              `gorm:"column:currency;type:text;not null"`
	Subtotal        decimal.Decimal     `gorm:"column:subtotal;type:numeric(12,2);not null"`
	Total           decimal.Decimal     `gorm:"column:total;type:numeric(12,2);not null"`
	Lines           []OrderLine         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	PlacedAt        time.Time           `gorm:"column:placed_at;not null"`
	PaidAt          *time.Time          `gorm:"column:paid_at"`
	FulfilledAt     *time.Time          `gorm:"column:fulfilled_at"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderLine freezes the product name and price at placement time.
type OrderLine struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID   uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	VariantID   *uuid.UUID      `gorm:"column:variant_id;type:uuid"`
	ProductName string          `gorm:"column:product_name;not null"`
	VariantName *string         `gorm:"column:variant_name"`
	Quantity    int             `gorm:"column:quantity;not null"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	LineTotal   decimal.Decimal `gorm:"column:line_total;type:numeric(12,2);not null"`
}
