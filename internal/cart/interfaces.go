package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/afm-storefront/pkg/db/models"
	"github.com/angelmondragon/afm-storefront/pkg/enums"
)

// CartRepository defines the persistence surface required by the cart service.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	Create(ctx context.Context, cart *models.Cart) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error)
	FindActiveByCustomer(ctx context.Context, customerID uuid.UUID) (*models.Cart, error)
	UpsertLine(ctx context.Context, line *models.CartLine) error
	DeleteLine(ctx context.Context, cartID uuid.UUID, lineKey string) (bool, error)
	ClearLines(ctx context.Context, cartID uuid.UUID) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.CartStatus) (bool, error)
	AssignCustomer(ctx context.Context, id, customerID uuid.UUID) error
	MarkMerged(ctx context.Context, id, into uuid.UUID) error
	Touch(ctx context.Context, id uuid.UUID) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
