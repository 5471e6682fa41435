package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/afm-storefront/pkg/enums"
)

// OrderLine is the line summary carried on order events.
type OrderLine struct {
	ProductID uuid.UUID       `json:"product_id"`
	VariantID *uuid.UUID      `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderCreatedEvent is emitted when checkout opens an order awaiting payment.
type OrderCreatedEvent struct {
	OrderID    uuid.UUID       `json:"order_id"`
	Number     string          `json:"number"`
	CartID     uuid.UUID       `json:"cart_id"`
	CustomerID *uuid.UUID      `json:"customer_id,omitempty"`
	Email      string          `json:"email"`
	Currency   enums.Currency  `json:"currency"`
	Total      decimal.Decimal `json:"total"`
	Lines      []OrderLine     `json:"lines"`
}

// OrderPaidEvent is emitted once the gateway confirms payment.
type OrderPaidEvent struct {
	OrderID         uuid.UUID       `json:"order_id"`
	Number          string          `json:"number"`
	PaymentIntentID string          `json:"payment_intent_id"`
	Total           decimal.Decimal `json:"total"`
	Currency        enums.Currency  `json:"currency"`
	PaidAt          time.Time       `json:"paid_at"`
}

// OrderPaymentFailedEvent reports a declined or failed payment.
type OrderPaymentFailedEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	Number          string    `json:"number"`
	PaymentIntentID string    `json:"payment_intent_id"`
	Reason          string    `json:"reason,omitempty"`
}

// OrderFulfilledEvent is emitted when the merchant marks the order shipped.
type OrderFulfilledEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	Number      string    `json:"number"`
	FulfilledAt time.Time `json:"fulfilled_at"`
}

// OrderExpiredEvent is emitted when an unpaid order times out.
type OrderExpiredEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	Number          string    `json:"number"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	ExpiredAt       time.Time `json:"expired_at"`
}

// CartConvertedEvent tells cache holders the cart is closed.
type CartConvertedEvent struct {
	CartID      uuid.UUID  `json:"cart_id"`
	OrderID     uuid.UUID  `json:"order_id"`
	CustomerID  *uuid.UUID `json:"customer_id,omitempty"`
	ConvertedAt time.Time  `json:"converted_at"`
}
