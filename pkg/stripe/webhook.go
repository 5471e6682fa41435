package stripe

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

// Metadata keys stamped on every order PaymentIntent.
const (
	MetadataOrderID     = "order_id"
	MetadataOrderNumber = "order_number"
	MetadataCartID      = "cart_id"
)

var ErrUnsignedEvent = errors.New("stripe signature missing")

// ParseEvent verifies the signature header against the webhook secret.
func (c *Client) ParseEvent(payload []byte, signature string) (stripe.Event, error) {
	if signature == "" {
		return stripe.Event{}, ErrUnsignedEvent
	}
	return webhook.ConstructEvent(payload, signature, c.SigningSecret())
}

// PaymentIntentFromEvent decodes the PaymentIntent carried by a
// payment_intent.* event.
func PaymentIntentFromEvent(event *stripe.Event) (*stripe.PaymentIntent, error) {
	if event == nil || event.Data == nil {
		return nil, errors.New("stripe event data required")
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	if intent.ID == "" {
		return nil, errors.New("payment intent id missing")
	}
	return &intent, nil
}

// FailureMessage returns the last payment error recorded on the intent.
func FailureMessage(intent *stripe.PaymentIntent) string {
	if intent == nil || intent.LastPaymentError == nil {
		return "payment failed"
	}
	if intent.LastPaymentError.Msg != "" {
		return intent.LastPaymentError.Msg
	}
	if intent.LastPaymentError.DeclineCode != "" {
		return string(intent.LastPaymentError.DeclineCode)
	}
	return "payment failed"
}
