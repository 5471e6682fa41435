package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/afm-storefront/internal/cartstore"
	"github.com/angelmondragon/afm-storefront/internal/cartsync"
	pkgerrors "github.com/angelmondragon/afm-storefront/pkg/errors"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyRules(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		kind     Kind
		severity Severity
		actions  []RecoveryAction
	}{
		{
			name:     "gateway decline",
			err:      &PaymentDeclinedError{Code: "card_declined", DeclineCode: "insufficient_funds", Message: "Your card has insufficient funds."},
			kind:     KindPaymentDeclined,
			severity: SeverityError,
			actions:  []RecoveryAction{ActionRetryPayment, ActionDifferentMethod},
		},
		{
			name:     "stripe card error",
			err:      fmt.Errorf("confirm: %w", &stripe.Error{Type: stripe.ErrorTypeCard, Msg: "Your card was declined."}),
			kind:     KindPaymentDeclined,
			severity: SeverityError,
			actions:  []RecoveryAction{ActionRetryPayment, ActionDifferentMethod},
		},
		{
			name:     "payment declined code",
			err:      pkgerrors.New(pkgerrors.CodePaymentFailed, "card expired"),
			kind:     KindPaymentDeclined,
			severity: SeverityError,
			actions:  []RecoveryAction{ActionRetryPayment, ActionDifferentMethod},
		},
		{
			name:     "stock conflict",
			err:      &StockConflictError{Lines: []StockConflict{{ProductID: "X", Name: "Walnut Board", Requested: 3, Available: 1}}},
			kind:     KindStockConflict,
			severity: SeverityWarning,
			actions:  []RecoveryAction{ActionEditCart, ActionRemoveUnavailable},
		},
		{
			name:     "local out of stock",
			err:      &cartstore.OutOfStockError{Key: "X", Name: "Walnut Board", Requested: 5, Available: 2},
			kind:     KindStockConflict,
			severity: SeverityWarning,
			actions:  []RecoveryAction{ActionEditCart, ActionRemoveUnavailable},
		},
		{
			name:     "cart no longer open",
			err:      fmt.Errorf("begin: %w", &CartUnavailableError{Reason: "cart is no longer open"}),
			kind:     KindCartUnavailable,
			severity: SeverityWarning,
			actions:  []RecoveryAction{ActionEditCart},
		},
		{
			name:     "validation error code",
			err:      pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(map[string]string{"email": "is required"}),
			kind:     KindValidation,
			severity: SeverityWarning,
			actions:  []RecoveryAction{ActionEditForm},
		},
		{
			name:     "invalid quantity",
			err:      &cartstore.InvalidQuantityError{Quantity: 0, Min: 1, Max: 99},
			kind:     KindValidation,
			severity: SeverityWarning,
			actions:  []RecoveryAction{ActionEditForm},
		},
		{
			name:     "deadline",
			err:      fmt.Errorf("create intent: %w", context.DeadlineExceeded),
			kind:     KindNetwork,
			severity: SeverityError,
			actions:  []RecoveryAction{ActionRetry, ActionContactSupport},
		},
		{
			name:     "net timeout",
			err:      timeoutErr{},
			kind:     KindNetwork,
			severity: SeverityError,
			actions:  []RecoveryAction{ActionRetry, ActionContactSupport},
		},
		{
			name:     "unknown falls back to retry",
			err:      errors.New("something odd"),
			kind:     KindNetwork,
			severity: SeverityError,
			actions:  []RecoveryAction{ActionRetry, ActionContactSupport},
		},
		{
			name:     "upstream 503",
			err:      &cartsync.HTTPStatusError{Status: 503},
			kind:     KindServerFault,
			severity: SeverityFatal,
			actions:  []RecoveryAction{ActionContactSupport},
		},
		{
			name:     "malformed response",
			err:      fmt.Errorf("decode: %w", ErrMalformedResponse),
			kind:     KindServerFault,
			severity: SeverityFatal,
			actions:  []RecoveryAction{ActionContactSupport},
		},
		{
			name:     "json syntax",
			err:      json.Unmarshal([]byte("{"), &struct{}{}),
			kind:     KindServerFault,
			severity: SeverityFatal,
			actions:  []RecoveryAction{ActionContactSupport},
		},
		{
			name:     "internal",
			err:      pkgerrors.Wrap(pkgerrors.CodeInternal, errors.New("db down"), "insert order"),
			kind:     KindServerFault,
			severity: SeverityFatal,
			actions:  []RecoveryAction{ActionContactSupport},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(tc.err)
			if got == nil {
				t.Fatal("expected classification")
			}
			if got.Kind != tc.kind {
				t.Fatalf("expected kind %s, got %s", tc.kind, got.Kind)
			}
			if got.Severity != tc.severity {
				t.Fatalf("expected severity %s, got %s", tc.severity, got.Severity)
			}
			if len(got.Actions) != len(tc.actions) {
				t.Fatalf("expected %d actions, got %+v", len(tc.actions), got.Actions)
			}
			for i, action := range tc.actions {
				if got.Actions[i].Action != action {
					t.Fatalf("action %d: expected %s, got %s", i, action, got.Actions[i].Action)
				}
				if got.Actions[i].Label == "" {
					t.Fatalf("action %d has no label", i)
				}
			}
			if got.Title == "" || got.Message == "" {
				t.Fatalf("expected title and message, got %+v", got)
			}
			if !errors.Is(got, tc.err) {
				t.Fatal("classified error should unwrap to its cause")
			}
		})
	}
}

func TestClassifyDeclineOffersRetryPayment(t *testing.T) {
	t.Parallel()

	got := Classify(&PaymentDeclinedError{Code: "card_declined"})
	if got.Severity != SeverityError {
		t.Fatalf("expected error severity, got %s", got.Severity)
	}
	if !got.HasAction(ActionRetryPayment) {
		t.Fatalf("expected retry-payment action, got %+v", got.Actions)
	}
}

func TestClassifyStockConflictNamesEveryLine(t *testing.T) {
	t.Parallel()

	got := Classify(&StockConflictError{Lines: []StockConflict{
		{ProductID: "X", Requested: 4, Available: 2},
		{ProductID: "Y", VariantID: "red", Name: "Mug - Red", Requested: 1, Available: 0},
	}})
	if len(got.Reasons) != 2 {
		t.Fatalf("expected two reasons, got %v", got.Reasons)
	}
	if !strings.Contains(got.Reasons[0], "X") {
		t.Fatalf("expected reason to reference X, got %q", got.Reasons[0])
	}
	if !strings.Contains(got.Reasons[1], "Mug - Red") || !strings.Contains(got.Reasons[1], "out of stock") {
		t.Fatalf("unexpected reason %q", got.Reasons[1])
	}
}

func TestClassifyStockDetailsFromEnvelope(t *testing.T) {
	t.Parallel()

	var details any
	raw := `{"lines":[{"productId":"X","name":"Walnut Board","requested":3,"available":1}]}`
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := Classify(&cartsync.RejectedError{Code: "OUT_OF_STOCK", Message: "stock changed", Details: details})
	if got.Kind != KindStockConflict {
		t.Fatalf("expected stock conflict, got %s", got.Kind)
	}
	if len(got.Reasons) != 1 || !strings.Contains(got.Reasons[0], "Walnut Board") {
		t.Fatalf("unexpected reasons %v", got.Reasons)
	}
}

func TestClassifyDeclineOutranksStock(t *testing.T) {
	t.Parallel()

	err := errors.Join(
		&StockConflictError{Lines: []StockConflict{{ProductID: "X", Requested: 2, Available: 1}}},
		&PaymentDeclinedError{Code: "card_declined"},
	)
	if got := Classify(err); got.Kind != KindPaymentDeclined {
		t.Fatalf("expected decline to win, got %s", got.Kind)
	}
}

func TestClassifyValidatorErrors(t *testing.T) {
	t.Parallel()

	type contact struct {
		Email string `validate:"required,email"`
	}
	err := validator.New().Struct(contact{})
	got := Classify(err)
	if got.Kind != KindValidation {
		t.Fatalf("expected validation, got %s", got.Kind)
	}
	if len(got.Reasons) != 1 || !strings.Contains(got.Reasons[0], "Email") {
		t.Fatalf("unexpected reasons %v", got.Reasons)
	}
}

func TestClassifyNilAndIdempotent(t *testing.T) {
	t.Parallel()

	if Classify(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
	first := Classify(&PaymentDeclinedError{})
	if again := Classify(fmt.Errorf("wrapped: %w", first)); again != first {
		t.Fatal("expected an existing CheckoutError to pass through")
	}
}

func TestEveryKindHasAnAction(t *testing.T) {
	t.Parallel()

	for _, r := range rules {
		got := r.build(nil, errors.New("x"))
		if len(got.Actions) == 0 {
			t.Fatalf("%s has no recovery action", r.kind)
		}
		if got.Severity == SeverityFatal && !got.HasAction(ActionContactSupport) {
			t.Fatalf("%s is fatal without contact-support", r.kind)
		}
	}
}
