package stripe

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	pkgerrors "github.com/angelmondragon/afm-storefront/pkg/errors"
)

// PaymentRequest describes one order charge. Amount is in minor units.
type PaymentRequest struct {
	OrderID        string
	OrderNumber    string
	CartID         string
	Amount         int64
	Currency       string
	ReceiptEmail   string
	IdempotencyKey string
}

// PaymentIntent is the subset of the Stripe intent the storefront keeps.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
}

type intentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type packageIntentAPI struct{}

func (packageIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return paymentintent.New(params)
}

func (packageIntentAPI) Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	return paymentintent.Cancel(id, params)
}

// Payments creates and cancels PaymentIntents for orders.
type Payments struct {
	api intentAPI
}

// NewPayments requires an initialised Client so stripe.Key is set.
func NewPayments(client *Client) (*Payments, error) {
	if client == nil {
		return nil, errors.New("stripe client is required")
	}
	return &Payments{api: packageIntentAPI{}}, nil
}

func (p *Payments) CreatePaymentIntent(ctx context.Context, req PaymentRequest) (PaymentIntent, error) {
	if req.Amount <= 0 {
		return PaymentIntent{}, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Description: stripe.String("Order " + req.OrderNumber),
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	params.AddMetadata(MetadataOrderID, req.OrderID)
	params.AddMetadata(MetadataOrderNumber, req.OrderNumber)
	params.AddMetadata(MetadataCartID, req.CartID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	intent, err := p.api.New(params)
	if err != nil {
		return PaymentIntent{}, mapError(err, "create payment intent")
	}
	return PaymentIntent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
	}, nil
}

func (p *Payments) CancelPaymentIntent(ctx context.Context, id string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := p.api.Cancel(id, params); err != nil {
		return mapError(err, "cancel payment intent")
	}
	return nil
}

// mapError keeps the *stripe.Error in the chain so callers can still inspect it.
func mapError(err error, message string) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
	}
	if stripeErr.Type == stripe.ErrorTypeCard {
		msg := stripeErr.Msg
		if msg == "" {
			msg = "payment declined"
		}
		return pkgerrors.Wrap(pkgerrors.CodePaymentFailed, err, msg).WithDetails(map[string]string{
			"code":        string(stripeErr.Code),
			"declineCode": string(stripeErr.DeclineCode),
		})
	}
	if stripeErr.Type == stripe.ErrorTypeInvalidRequest && stripeErr.HTTPStatusCode < 500 {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, message)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
