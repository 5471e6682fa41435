package routes

import "github.com/stripe/stripe-go/v84"

type webhookEventParser interface {
	ParseEvent(payload []byte, signature string) (stripe.Event, error)
}
