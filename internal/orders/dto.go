package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/afm-storefront/pkg/db/models"
	"github.com/angelmondragon/afm-storefront/pkg/enums"
	"github.com/angelmondragon/afm-storefront/pkg/pricing"
	"github.com/angelmondragon/afm-storefront/pkg/types"
)

// OrderDTO is the order view shared by customers and admins.
type OrderDTO struct {
	ID              uuid.UUID           `json:"id"`
	Number          string              `json:"number"`
	Status          enums.OrderStatus   `json:"status"`
	PaymentStatus   enums.PaymentStatus `json:"paymentStatus"`
	FailureReason   *string             `json:"failureReason,omitempty"`
	Email           string              `json:"email"`
	Phone           *string             `json:"phone,omitempty"`
	ShippingAddress types.Address       `json:"shippingAddress"`
	Currency        string              `json:"currency"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	Total           decimal.Decimal     `json:"total"`
	DisplayTotal    string              `json:"displayTotal,omitempty"`
	Lines           []OrderLineDTO      `json:"lines"`
	PlacedAt        time.Time           `json:"placedAt"`
	PaidAt          *time.Time          `json:"paidAt,omitempty"`
	FulfilledAt     *time.Time          `json:"fulfilledAt,omitempty"`
}

type OrderLineDTO struct {
	ProductID   uuid.UUID       `json:"productId"`
	VariantID   *uuid.UUID      `json:"variantId,omitempty"`
	ProductName string          `json:"productName"`
	VariantName *string         `json:"variantName,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

// OrderList wraps a page of orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderDTO `json:"orders"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// NewOrderDTO maps the stored order. The display total is omitted when the
// currency cannot be formatted.
func NewOrderDTO(order *models.Order, locale string) OrderDTO {
	dto := OrderDTO{
		ID:              order.ID,
		Number:          order.Number,
		Status:          order.Status,
		PaymentStatus:   order.PaymentStatus,
		FailureReason:   order.FailureReason,
		Email:           order.Email,
		Phone:           order.Phone,
		ShippingAddress: order.ShippingAddress,
		Currency:        order.Currency,
		Subtotal:        order.Subtotal,
		Total:           order.Total,
		Lines:           make([]OrderLineDTO, 0, len(order.Lines)),
		PlacedAt:        order.PlacedAt,
		PaidAt:          order.PaidAt,
		FulfilledAt:     order.FulfilledAt,
	}
	if display, err := pricing.FormatPrice(order.Total, order.Currency, locale); err == nil {
		dto.DisplayTotal = display
	}
	for _, line := range order.Lines {
		dto.Lines = append(dto.Lines, OrderLineDTO{
			ProductID:   line.ProductID,
			VariantID:   line.VariantID,
			ProductName: line.ProductName,
			VariantName: line.VariantName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			LineTotal:   line.LineTotal,
		})
	}
	return dto
}
