package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/afm-storefront/internal/cartstore"
	"github.com/angelmondragon/afm-storefront/internal/cartsync"
	pkgerrors "github.com/angelmondragon/afm-storefront/pkg/errors"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// RecoveryAction is the symbolic next step offered to the shopper.
type RecoveryAction string

const (
	ActionRetryPayment      RecoveryAction = "retry-payment"
	ActionDifferentMethod   RecoveryAction = "use-different-method"
	ActionEditCart          RecoveryAction = "edit-cart"
	ActionRemoveUnavailable RecoveryAction = "remove-unavailable-items"
	ActionEditForm          RecoveryAction = "edit-form"
	ActionRetry             RecoveryAction = "retry"
	ActionContactSupport    RecoveryAction = "contact-support"
)

// Kind names the classification rule that matched. It doubles as a metrics label.
type Kind string

const (
	KindPaymentDeclined Kind = "payment_declined"
	KindStockConflict   Kind = "stock_conflict"
	KindCartUnavailable Kind = "cart_unavailable"
	KindValidation      Kind = "validation"
	KindNetwork         Kind = "network"
	KindServerFault     Kind = "server_fault"
)

type Action struct {
	Label   string         `json:"label"`
	Action  RecoveryAction `json:"action"`
	Variant string         `json:"variant"`
}

// CheckoutError is the only failure shape shown to a shopper during checkout.
type CheckoutError struct {
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Reasons  []string `json:"reasons,omitempty"`
	Actions  []Action `json:"actions"`

	cause error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Title)
}

func (e *CheckoutError) Unwrap() error { return e.cause }

// HasAction reports whether action is offered.
func (e *CheckoutError) HasAction(action RecoveryAction) bool {
	for _, a := range e.Actions {
		if a.Action == action {
			return true
		}
	}
	return false
}

type rule struct {
	kind  Kind
	match func(error) ([]string, bool)
	build func(reasons []string, cause error) *CheckoutError
}

var rules = []rule{
	{KindPaymentDeclined, matchPaymentDecline, paymentDeclined},
	{KindStockConflict, matchStockConflict, stockConflict},
	{KindCartUnavailable, matchCartUnavailable, cartUnavailable},
	{KindValidation, matchValidation, validationFailed},
	{KindNetwork, matchNetwork, networkFailure},
	{KindServerFault, matchServerFault, serverFault},
}

// Classify maps any checkout failure to exactly one CheckoutError. Rules are
// tried in priority order and the first match wins; anything unmatched is
// treated as a network failure so the shopper can retry. Classify performs no
// I/O.
func Classify(err error) *CheckoutError {
	if err == nil {
		return nil
	}
	var already *CheckoutError
	if errors.As(err, &already) {
		return already
	}
	for _, r := range rules {
		if reasons, ok := r.match(err); ok {
			return r.build(reasons, err)
		}
	}
	return networkFailure(nil, err)
}

func paymentDeclined(reasons []string, cause error) *CheckoutError {
	return &CheckoutError{
		Kind:     KindPaymentDeclined,
		Severity: SeverityError,
		Title:    "Payment was declined",
		Message:  "Your payment could not be authorized. No charge was made.",
		Reasons:  reasons,
		Actions: []Action{
			{Label: "Try again", Action: ActionRetryPayment, Variant: "primary"},
			{Label: "Use a different payment method", Action: ActionDifferentMethod, Variant: "secondary"},
		},
		cause: cause,
	}
}

func stockConflict(reasons []string, cause error) *CheckoutError {
	return &CheckoutError{
		Kind:     KindStockConflict,
		Severity: SeverityWarning,
		Title:    "Some items are no longer available",
		Message:  "Stock changed while you were checking out. Review your cart before paying.",
		Reasons:  reasons,
		Actions: []Action{
			{Label: "Edit cart", Action: ActionEditCart, Variant: "primary"},
			{Label: "Remove unavailable items", Action: ActionRemoveUnavailable, Variant: "secondary"},
		},
		cause: cause,
	}
}

func cartUnavailable(reasons []string, cause error) *CheckoutError {
	return &CheckoutError{
		Kind:     KindCartUnavailable,
		Severity: SeverityWarning,
		Title:    "Your cart cannot be checked out",
		Message:  "Review your cart and try again.",
		Reasons:  reasons,
		Actions: []Action{
			{Label: "Edit cart", Action: ActionEditCart, Variant: "primary"},
		},
		cause: cause,
	}
}

func validationFailed(reasons []string, cause error) *CheckoutError {
	return &CheckoutError{
		Kind:     KindValidation,
		Severity: SeverityWarning,
		Title:    "Check your details",
		Message:  "Some of the information you entered is missing or invalid.",
		Reasons:  reasons,
		Actions: []Action{
			{Label: "Edit details", Action: ActionEditForm, Variant: "primary"},
		},
		cause: cause,
	}
}

func networkFailure(reasons []string, cause error) *CheckoutError {
	return &CheckoutError{
		Kind:     KindNetwork,
		Severity: SeverityError,
		Title:    "Something went wrong",
		Message:  "We could not reach the store. Check your connection and try again.",
		Reasons:  reasons,
		Actions: []Action{
			{Label: "Try again", Action: ActionRetry, Variant: "primary"},
			{Label: "Contact support", Action: ActionContactSupport, Variant: "secondary"},
		},
		cause: cause,
	}
}

func serverFault(reasons []string, cause error) *CheckoutError {
	return &CheckoutError{
		Kind:     KindServerFault,
		Severity: SeverityFatal,
		Title:    "We could not complete your order",
		Message:  "An unexpected error occurred on our side. Your card has not been charged twice; please contact support.",
		Reasons:  reasons,
		Actions: []Action{
			{Label: "Contact support", Action: ActionContactSupport, Variant: "primary"},
		},
		cause: cause,
	}
}

func matchPaymentDecline(err error) ([]string, bool) {
	var declined *PaymentDeclinedError
	if errors.As(err, &declined) {
		return nonEmpty(declined.Message), true
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
		return nonEmpty(stripeErr.Msg), true
	}
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodePaymentFailed {
		return nonEmpty(typed.Message()), true
	}
	var rejected *cartsync.RejectedError
	if errors.As(err, &rejected) && rejected.Code == string(pkgerrors.CodePaymentFailed) {
		return nonEmpty(rejected.Message), true
	}
	return nil, false
}

func matchStockConflict(err error) ([]string, bool) {
	var conflict *StockConflictError
	if errors.As(err, &conflict) {
		return stockReasons(conflict.Lines), true
	}
	var outOfStock *cartstore.OutOfStockError
	if errors.As(err, &outOfStock) {
		productID, variantID := outOfStock.Key.Split()
		return stockReasons([]StockConflict{{
			ProductID: productID,
			VariantID: variantID,
			Name:      outOfStock.Name,
			Requested: outOfStock.Requested,
			Available: outOfStock.Available,
		}}), true
	}
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeOutOfStock {
		return stockReasonsFromDetails(typed.Details(), typed.Message()), true
	}
	var rejected *cartsync.RejectedError
	if errors.As(err, &rejected) && rejected.Code == string(pkgerrors.CodeOutOfStock) {
		return stockReasonsFromDetails(rejected.Details, rejected.Message), true
	}
	return nil, false
}

func matchCartUnavailable(err error) ([]string, bool) {
	var unavailable *CartUnavailableError
	if errors.As(err, &unavailable) {
		return nonEmpty(unavailable.Reason), true
	}
	return nil, false
}

func matchValidation(err error) ([]string, bool) {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		reasons := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			reasons = append(reasons, fmt.Sprintf("%s is invalid (%s)", fe.Namespace(), fe.Tag()))
		}
		return reasons, true
	}
	var invalidQty *cartstore.InvalidQuantityError
	if errors.As(err, &invalidQty) {
		return []string{invalidQty.Error()}, true
	}
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeValidation {
		return fieldReasons(typed.Details(), typed.Message()), true
	}
	var rejected *cartsync.RejectedError
	if errors.As(err, &rejected) && rejected.Code == string(pkgerrors.CodeValidation) {
		return fieldReasons(rejected.Details, rejected.Message), true
	}
	return nil, false
}

func matchNetwork(err error) ([]string, bool) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return nil, true
	}
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeDependency {
		return nil, true
	}
	var status *cartsync.HTTPStatusError
	if errors.As(err, &status) && status.Status < 500 {
		return nil, true
	}
	return nil, false
}

func matchServerFault(err error) ([]string, bool) {
	if errors.Is(err, ErrMalformedResponse) {
		return nil, true
	}
	var fault *ServerFaultError
	if errors.As(err, &fault) && fault.Status >= 500 {
		return nil, true
	}
	var status *cartsync.HTTPStatusError
	if errors.As(err, &status) && status.Status >= 500 {
		return nil, true
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return nil, true
	}
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeInternal {
		return nil, true
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode >= 500 {
		return nil, true
	}
	return nil, false
}

func stockReasons(lines []StockConflict) []string {
	reasons := make([]string, 0, len(lines))
	for _, line := range lines {
		name := line.Name
		if name == "" {
			name = string(cartstore.KeyFor(line.ProductID, line.VariantID))
		}
		if line.Available <= 0 {
			reasons = append(reasons, fmt.Sprintf("%s is out of stock", name))
			continue
		}
		reasons = append(reasons, fmt.Sprintf("%s: %d requested, only %d available", name, line.Requested, line.Available))
	}
	return reasons
}

// stockReasonsFromDetails handles both typed details and details decoded from
// a JSON error envelope.
func stockReasonsFromDetails(details any, fallback string) []string {
	switch d := details.(type) {
	case []StockConflict:
		return stockReasons(d)
	case *StockConflictError:
		return stockReasons(d.Lines)
	case map[string]any:
		if lines, ok := d["lines"]; ok {
			return stockReasonsFromDetails(lines, fallback)
		}
	case []any:
		raw, err := json.Marshal(d)
		if err == nil {
			var lines []StockConflict
			if json.Unmarshal(raw, &lines) == nil && len(lines) > 0 {
				return stockReasons(lines)
			}
		}
	}
	return nonEmpty(fallback)
}

func fieldReasons(details any, fallback string) []string {
	fields := map[string]string{}
	switch d := details.(type) {
	case map[string]string:
		fields = d
	case map[string]any:
		for k, v := range d {
			fields[k] = fmt.Sprint(v)
		}
	}
	if len(fields) == 0 {
		return nonEmpty(fallback)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	reasons := make([]string, 0, len(keys))
	for _, k := range keys {
		reasons = append(reasons, k+" "+fields[k])
	}
	return reasons
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
