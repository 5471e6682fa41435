package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/afm-storefront/api/responses"
	pkgerrors "github.com/angelmondragon/afm-storefront/pkg/errors"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
	"github.com/angelmondragon/afm-storefront/pkg/outbox/idempotency"
	pkgstripe "github.com/angelmondragon/afm-storefront/pkg/stripe"
)

// StripeConsumer names this handler in the processed-event ledger.
const StripeConsumer = "stripe-webhook"

const maxWebhookBytes = 1 << 16

type PaymentEventHandler interface {
	HandlePaymentEvent(ctx context.Context, event *stripe.Event) error
}

type eventParser interface {
	ParseEvent(payload []byte, signature string) (stripe.Event, error)
}

// EventLedger records which Stripe events were applied.
type EventLedger interface {
	Claim(ctx context.Context, consumer, eventID string) (idempotency.Status, error)
	Complete(ctx context.Context, consumer, eventID string) error
	Release(ctx context.Context, consumer, eventID string) error
}

// StripeWebhook applies payment_intent lifecycle events to orders. Each event
// id is applied at most once. A delivery that arrives while another is still
// running gets a 409 so Stripe retries it later; a failed event is released
// so the retry can run it again.
func StripeWebhook(svc PaymentEventHandler, parser eventParser, guard EventLedger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || parser == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		event, err := parser.ParseEvent(payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			if errors.Is(err, pkgstripe.ErrUnsignedEvent) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid stripe signature"))
			return
		}

		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"stripe_event_id": event.ID, "stripe_event_type": string(event.Type)})
		}

		status, err := guard.Claim(ctx, StripeConsumer, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		switch status {
		case idempotency.Done:
			if logg != nil {
				logg.Debug(ctx, "stripe.event.duplicate")
			}
			responses.WriteSuccess(w, map[string]bool{"received": true})
			return
		case idempotency.InFlight:
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "event is already being processed"))
			return
		}

		if err := svc.HandlePaymentEvent(ctx, &event); err != nil {
			if relErr := guard.Release(ctx, StripeConsumer, event.ID); relErr != nil && logg != nil {
				logg.Error(ctx, "stripe.event.release_failed", relErr)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := guard.Complete(ctx, StripeConsumer, event.ID); err != nil && logg != nil {
			logg.Error(ctx, "stripe.event.complete_failed", err)
		}

		if logg != nil {
			logg.Info(ctx, "stripe.event.processed")
		}
		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}
