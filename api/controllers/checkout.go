package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/afm-storefront/api/middleware"
	"github.com/angelmondragon/afm-storefront/api/responses"
	"github.com/angelmondragon/afm-storefront/api/validators"
	checkoutsvc "github.com/angelmondragon/afm-storefront/internal/checkout"
	pkgcheckout "github.com/angelmondragon/afm-storefront/pkg/checkout"
	pkgerrors "github.com/angelmondragon/afm-storefront/pkg/errors"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
)

// CheckoutStarter is the part of the checkout service the HTTP layer needs.
type CheckoutStarter interface {
	Begin(ctx context.Context, input checkoutsvc.BeginInput) (*checkoutsvc.BeginResult, error)
}

type checkoutRequest struct {
	CartID  uuid.UUID           `json:"cartId" validate:"required"`
	Contact pkgcheckout.Contact `json:"contact"`
}

var checkoutCodes = map[checkoutsvc.Kind]pkgerrors.Code{
	checkoutsvc.KindPaymentDeclined: pkgerrors.CodePaymentFailed,
	checkoutsvc.KindStockConflict:   pkgerrors.CodeOutOfStock,
	checkoutsvc.KindCartUnavailable: pkgerrors.CodeStateConflict,
	checkoutsvc.KindValidation:      pkgerrors.CodeValidation,
	checkoutsvc.KindNetwork:         pkgerrors.CodeDependency,
	checkoutsvc.KindServerFault:     pkgerrors.CodeInternal,
}

// Checkout turns the cart into an order awaiting payment and returns the
// PaymentIntent client secret. Every failure is rendered as a classified
// CheckoutError under error.details.
func Checkout(svc CheckoutStarter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			writeCheckoutError(r.Context(), logg, w, checkoutsvc.Classify(&checkoutsvc.ServerFaultError{Status: http.StatusServiceUnavailable}))
			return
		}

		var body checkoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			writeCheckoutError(r.Context(), logg, w, checkoutsvc.Classify(err))
			return
		}

		result, err := svc.Begin(r.Context(), checkoutsvc.BeginInput{
			CartID:     body.CartID,
			CustomerID: middleware.CustomerUUID(r.Context()),
			Contact:    body.Contact,
		})
		if err != nil {
			writeCheckoutError(r.Context(), logg, w, checkoutsvc.Classify(err))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func writeCheckoutError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, ce *checkoutsvc.CheckoutError) {
	code, ok := checkoutCodes[ce.Kind]
	if !ok {
		code = pkgerrors.CodeDependency
	}
	responses.WriteCheckoutError(ctx, logg, w, code, ce.Message, ce, ce)
}
