package cart

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/afm-storefront/pkg/enums"
)

// CartDTO is the authoritative cart snapshot returned to clients. Its items
// decode into cartstore.ServerCart.
type CartDTO struct {
	ID              uuid.UUID        `json:"id"`
	CustomerID      *uuid.UUID       `json:"customerId,omitempty"`
	Status          enums.CartStatus `json:"status"`
	Currency        string           `json:"currency"`
	Items           []LineDTO        `json:"items"`
	ItemCount       int              `json:"itemCount"`
	Subtotal        decimal.Decimal  `json:"subtotal"`
	DisplaySubtotal string           `json:"displaySubtotal,omitempty"`
	ExpiresAt       *time.Time       `json:"expiresAt,omitempty"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// LineDTO prices a line with the current catalog offer. Available is the
// stock the catalog reports for the line; Unavailable marks lines whose
// product or variant can no longer be bought.
type LineDTO struct {
	ProductID   string          `json:"productId"`
	VariantID   string          `json:"variantId,omitempty"`
	Name        string          `json:"name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
	Available   int             `json:"available"`
	Unavailable bool            `json:"unavailable,omitempty"`
}

// Shortfall reports whether the line asks for more than the catalog holds.
func (l LineDTO) Shortfall() bool {
	return l.Unavailable || l.Quantity > l.Available
}

// LineInput is an absolute set-quantity request. Quantity zero removes the line.
type LineInput struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	VariantID string `json:"variantId" validate:"omitempty,uuid"`
	Quantity  int    `json:"quantity" validate:"gte=0"`
}
