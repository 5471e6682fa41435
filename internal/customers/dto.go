package customers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/afm-storefront/internal/cart"
	"github.com/angelmondragon/afm-storefront/pkg/db/models"
	"github.com/angelmondragon/afm-storefront/pkg/enums"
)

// RegisterRequest creates a shopper account. GuestCartID, when present, is
// claimed for the new customer.
type RegisterRequest struct {
	Email       string     `json:"email" validate:"required,email"`
	Password    string     `json:"password" validate:"required"`
	FirstName   string     `json:"firstName" validate:"required,max=100"`
	LastName    string     `json:"lastName" validate:"required,max=100"`
	GuestCartID *uuid.UUID `json:"guestCartId,omitempty"`
}

// LoginRequest captures the credentials sent to the login endpoint.
type LoginRequest struct {
	Email       string     `json:"email" validate:"required,email"`
	Password    string     `json:"password" validate:"required"`
	GuestCartID *uuid.UUID `json:"guestCartId,omitempty"`
}

// RefreshRequest exchanges a refresh token for a new token pair. The access
// token may be expired.
type RefreshRequest struct {
	AccessToken  string `json:"accessToken" validate:"required"`
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// CustomerDTO is the public view of a customer.
type CustomerDTO struct {
	ID          uuid.UUID          `json:"id"`
	Email       string             `json:"email"`
	FirstName   string             `json:"firstName"`
	LastName    string             `json:"lastName"`
	Role        enums.CustomerRole `json:"role"`
	LastLoginAt *time.Time         `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// AuthResponse carries the token pair and, after a guest cart claim, the
// merged server cart the client store should adopt.
type AuthResponse struct {
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	ExpiresIn    int           `json:"expiresIn"`
	Customer     *CustomerDTO  `json:"customer"`
	Cart         *cart.CartDTO `json:"cart,omitempty"`
}

// FromModel maps a persisted customer to its DTO.
func FromModel(m *models.Customer) *CustomerDTO {
	if m == nil {
		return nil
	}
	return &CustomerDTO{
		ID:          m.ID,
		Email:       m.Email,
		FirstName:   m.FirstName,
		LastName:    m.LastName,
		Role:        m.Role,
		LastLoginAt: m.LastLoginAt,
		CreatedAt:   m.CreatedAt,
	}
}
