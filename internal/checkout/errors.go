package checkout

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse marks a payload from a collaborator that could not be
// understood.
var ErrMalformedResponse = errors.New("malformed response")

// ErrConfirmationInFlight is returned when a payment confirmation for the same
// cart is still outstanding.
var ErrConfirmationInFlight = errors.New("payment confirmation already in flight")

// PaymentDeclinedError is a gateway refusal to authorize the charge.
type PaymentDeclinedError struct {
	Code        string
	DeclineCode string
	Message     string
}

func (e *PaymentDeclinedError) Error() string {
	parts := []string{"payment declined"}
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	if e.DeclineCode != "" {
		parts = append(parts, e.DeclineCode)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, ": ")
}

// StockConflict is one cart line whose quantity no longer fits current stock.
type StockConflict struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Name      string `json:"name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// StockConflictError lists every line that changed since the cart was built.
type StockConflictError struct {
	Lines []StockConflict
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("stock changed for %d cart line(s)", len(e.Lines))
}

// CartUnavailableError means the cart cannot be checked out as it stands,
// e.g. it is empty or was already converted.
type CartUnavailableError struct {
	Reason string
}

func (e *CartUnavailableError) Error() string {
	return "cart unavailable: " + e.Reason
}

// ServerFaultError is an upstream 5xx.
type ServerFaultError struct {
	Status int
	Err    error
}

func (e *ServerFaultError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("server fault %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("server fault %d", e.Status)
}

func (e *ServerFaultError) Unwrap() error { return e.Err }
