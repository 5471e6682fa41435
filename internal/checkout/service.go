package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/afm-storefront/internal/cart"
	"github.com/angelmondragon/afm-storefront/internal/orders"
	pkgcheckout "github.com/angelmondragon/afm-storefront/pkg/checkout"
	"github.com/angelmondragon/afm-storefront/pkg/db"
	"github.com/angelmondragon/afm-storefront/pkg/db/models"
	"github.com/angelmondragon/afm-storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/afm-storefront/pkg/errors"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
	"github.com/angelmondragon/afm-storefront/pkg/metrics"
	"github.com/angelmondragon/afm-storefront/pkg/ordernumber"
	"github.com/angelmondragon/afm-storefront/pkg/outbox"
	"github.com/angelmondragon/afm-storefront/pkg/outbox/payloads"
	"github.com/angelmondragon/afm-storefront/pkg/pricing"
	"github.com/angelmondragon/afm-storefront/pkg/stripe"
	"github.com/angelmondragon/afm-storefront/pkg/telemetry"
)

const (
	eventPaymentSucceeded = "payment_intent.succeeded"
	eventPaymentFailed    = "payment_intent.payment_failed"

	maxNumberAttempts = 5
)

// PaymentGateway creates and cancels charges. Amounts are in minor units.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, req stripe.PaymentRequest) (stripe.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string) error
}

// Inventory removes sold units inside the payment transaction.
type Inventory interface {
	Decrement(ctx context.Context, tx *gorm.DB, productID uuid.UUID, variantID *uuid.UUID, qty int) (bool, error)
}

type cartService interface {
	Reprice(ctx context.Context, cartID uuid.UUID, customerID *uuid.UUID) (*cart.CartDTO, error)
	ConvertTx(ctx context.Context, tx *gorm.DB, cartID uuid.UUID) error
	Forget(ctx context.Context, cartIDs ...uuid.UUID)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service turns a cart into an order awaiting payment and completes it from
// gateway events. Every failure returned by Begin is a *CheckoutError.
type Service interface {
	Begin(ctx context.Context, input BeginInput) (*BeginResult, error)
	HandlePaymentEvent(ctx context.Context, event *stripego.Event) error
}

// BeginInput is one checkout submission. A nil CustomerID is a guest.
type BeginInput struct {
	CartID     uuid.UUID
	CustomerID *uuid.UUID
	Contact    pkgcheckout.Contact
}

// BeginResult carries what the client needs to confirm the payment.
type BeginResult struct {
	Order           orders.OrderDTO `json:"order"`
	PaymentIntentID string          `json:"paymentIntentId"`
	ClientSecret    string          `json:"clientSecret"`
}

type ServiceParams struct {
	Orders    orders.Repository
	Carts     cartService
	Inventory Inventory
	Payments  PaymentGateway
	Outbox    outboxPublisher
	DB        txRunner
	Guard     *ConfirmationGuard
	Logger    *logger.Logger
	Metrics   *metrics.CheckoutMetrics
	Reporter  *telemetry.Reporter
	Locale    string
	Numbers   func() (string, error)
	Clock     func() time.Time
}

type service struct {
	orders    orders.Repository
	carts     cartService
	inventory Inventory
	payments  PaymentGateway
	outbox    outboxPublisher
	tx        txRunner
	guard     *ConfirmationGuard
	logg      *logger.Logger
	metrics   *metrics.CheckoutMetrics
	reporter  *telemetry.Reporter
	locale    string
	numbers   func() (string, error)
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart service required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	guard := params.Guard
	if guard == nil {
		guard = NewConfirmationGuard()
	}
	numbers := params.Numbers
	if numbers == nil {
		numbers = ordernumber.Generate
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &service{
		orders:    params.Orders,
		carts:     params.Carts,
		inventory: params.Inventory,
		payments:  params.Payments,
		outbox:    params.Outbox,
		tx:        params.DB,
		guard:     guard,
		logg:      params.Logger,
		metrics:   params.Metrics,
		reporter:  params.Reporter,
		locale:    params.Locale,
		numbers:   numbers,
		now:       now,
	}, nil
}

// Begin validates the form, reprices the cart against live stock, opens an
// order and creates its PaymentIntent. Only one Begin per cart runs at a
// time.
func (s *service) Begin(ctx context.Context, input BeginInput) (*BeginResult, error) {
	start := s.now()
	ctx = s.logg.WithCartID(ctx, input.CartID.String())

	var result *BeginResult
	err := s.guard.Confirm(ctx, input.CartID.String(), func(ctx context.Context) error {
		var err error
		result, err = s.begin(ctx, input)
		return err
	})
	if err != nil {
		classified := Classify(err)
		s.metrics.Observe("begin", string(classified.Kind), s.now().Sub(start))
		if classified.Severity == SeverityFatal {
			s.logg.Error(ctx, "checkout failed", err)
			s.reporter.Capture(ctx, err, map[string]string{"stage": "begin", "kind": string(classified.Kind)}, map[string]any{"cart_id": input.CartID.String()})
		} else {
			s.logg.Warn(s.logg.WithField(ctx, "kind", classified.Kind), "checkout rejected")
		}
		return nil, classified
	}
	s.metrics.Observe("begin", "ok", s.now().Sub(start))
	return result, nil
}

func (s *service) begin(ctx context.Context, input BeginInput) (*BeginResult, error) {
	contact, err := pkgcheckout.ValidateContact(input.Contact)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.carts.Reprice(ctx, input.CartID, input.CustomerID)
	if err != nil {
		return nil, err
	}
	if snapshot.Status != enums.CartStatusActive {
		return nil, &CartUnavailableError{Reason: "cart is no longer open"}
	}
	if len(snapshot.Items) == 0 {
		return nil, &CartUnavailableError{Reason: "cart is empty"}
	}
	if conflicts := stockConflicts(snapshot); len(conflicts) > 0 {
		return nil, &StockConflictError{Lines: conflicts}
	}

	amount, err := pricing.ToMinorUnits(snapshot.Subtotal, snapshot.Currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "convert order total")
	}

	order, superseded, err := s.openOrder(ctx, input, contact, snapshot)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderNumber(ctx, order.Number)
	s.cancelIntents(ctx, superseded)

	intent, err := s.payments.CreatePaymentIntent(ctx, stripe.PaymentRequest{
		OrderID:        order.ID.String(),
		OrderNumber:    order.Number,
		CartID:         order.CartID.String(),
		Amount:         amount,
		Currency:       order.Currency,
		ReceiptEmail:   order.Email,
		IdempotencyKey: "order-" + order.ID.String(),
	})
	if err != nil {
		reason := "payment could not be started"
		if _, terr := s.orders.Transition(ctx, order.ID, []enums.OrderStatus{enums.OrderStatusPendingPayment}, enums.OrderStatusPaymentFailed, map[string]any{
			"payment_status": enums.PaymentStatusFailed,
			"failure_reason": reason,
		}); terr != nil {
			s.logg.Error(ctx, "mark order payment_failed", terr)
		}
		return nil, err
	}
	if err := s.orders.SetPaymentIntent(ctx, order.ID, intent.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store payment intent")
	}
	order.PaymentIntentID = &intent.ID

	s.logg.Info(s.logg.WithField(ctx, "payment_intent_id", intent.ID), "checkout started")
	return &BeginResult{
		Order:           orders.NewOrderDTO(order, s.locale),
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
	}, nil
}

// openOrder writes the order, cancels earlier unpaid attempts for the same
// cart and emits order_created in one transaction. A colliding order number
// is regenerated and the transaction retried.
func (s *service) openOrder(ctx context.Context, input BeginInput, contact pkgcheckout.Contact, snapshot *cart.CartDTO) (*models.Order, []string, error) {
	for attempt := 1; ; attempt++ {
		number, err := s.numbers()
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order number")
		}
		order, err := buildOrder(number, input, contact, snapshot, s.now().UTC())
		if err != nil {
			return nil, nil, err
		}

		var superseded []string
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.orders.WithTx(tx)
			previous, err := repo.FindUnpaidByCart(ctx, input.CartID)
			if err != nil {
				return err
			}
			for _, prev := range previous {
				ok, err := repo.Transition(ctx, prev.ID, []enums.OrderStatus{prev.Status}, enums.OrderStatusCancelled, map[string]any{
					"payment_status": enums.PaymentStatusCanceled,
				})
				if err != nil {
					return err
				}
				if ok && prev.PaymentIntentID != nil {
					superseded = append(superseded, *prev.PaymentIntentID)
				}
			}
			if err := repo.Create(ctx, order); err != nil {
				return err
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Actor:         actorFor(input.CustomerID),
				Data:          orderCreated(order),
			})
		})
		if err == nil {
			return order, superseded, nil
		}
		if (db.IsUniqueViolation(err, "ux_orders_number") || db.IsUniqueViolation(err, "orders.number")) && attempt < maxNumberAttempts {
			s.logg.Warn(s.logg.WithField(ctx, "order_number", number), "order number collision, regenerating")
			continue
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
	}
}

// cancelIntents releases PaymentIntents of superseded attempts. Failures are
// logged; the superseded orders are already cancelled.
func (s *service) cancelIntents(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := s.payments.CancelPaymentIntent(ctx, id); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "payment_intent_id", id), "cancel superseded payment intent: "+err.Error())
		}
	}
}

// HandlePaymentEvent completes or fails the order behind a payment_intent.*
// event. Replays are harmless: completed orders are left alone and events
// are emitted at most once per order.
func (s *service) HandlePaymentEvent(ctx context.Context, event *stripego.Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event required")
	}
	kind := string(event.Type)
	if kind != eventPaymentSucceeded && kind != eventPaymentFailed {
		s.logg.Debug(s.logg.WithField(ctx, "event_type", kind), "ignoring stripe event")
		return nil
	}
	intent, err := stripe.PaymentIntentFromEvent(event)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"event_type": kind, "payment_intent_id": intent.ID})

	start := s.now()
	order, err := s.findOrder(ctx, intent)
	if err != nil {
		s.metrics.Observe("payment", "unknown_order", s.now().Sub(start))
		return err
	}
	ctx = s.logg.WithOrderNumber(ctx, order.Number)

	if kind == eventPaymentSucceeded {
		err = s.markPaid(ctx, order, intent)
		s.metrics.Observe("payment", outcome(err, "succeeded"), s.now().Sub(start))
		return err
	}
	err = s.markFailed(ctx, order, intent)
	s.metrics.Observe("payment", outcome(err, "failed"), s.now().Sub(start))
	return err
}

// findOrder falls back to the order id in the intent metadata for events that
// arrive before the intent id was stored.
func (s *service) findOrder(ctx context.Context, intent *stripego.PaymentIntent) (*models.Order, error) {
	order, err := s.orders.FindByPaymentIntent(ctx, intent.ID)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	orderID, perr := uuid.Parse(intent.Metadata[stripe.MetadataOrderID])
	if perr != nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no order for payment intent")
	}
	order, err = s.orders.FindByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no order for payment intent")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// markPaid flips the order to paid, takes the sold units out of stock,
// converts the cart and emits order_paid and cart_converted together.
// Overselling is reported but does not undo a captured payment.
func (s *service) markPaid(ctx context.Context, order *models.Order, intent *stripego.PaymentIntent) error {
	if order.Status == enums.OrderStatusPaid || order.Status == enums.OrderStatusFulfilled {
		s.logg.Info(ctx, "payment already recorded")
		return nil
	}
	if expected, err := pricing.ToMinorUnits(order.Total, order.Currency); err == nil && intent.Amount != 0 && expected != intent.Amount {
		mismatch := fmt.Errorf("payment intent amount %d does not match order total %d", intent.Amount, expected)
		s.logg.Error(ctx, "payment amount mismatch", mismatch)
		s.reporter.Capture(ctx, mismatch, map[string]string{"stage": "payment"}, map[string]any{"order_number": order.Number})
	}

	paidAt := s.now().UTC()
	var oversold []string
	var cancelled bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		ok, err := repo.Transition(ctx, order.ID, []enums.OrderStatus{enums.OrderStatusPendingPayment, enums.OrderStatusPaymentFailed}, enums.OrderStatusPaid, map[string]any{
			"payment_status":    enums.PaymentStatusSucceeded,
			"payment_intent_id": intent.ID,
			"failure_reason":    nil,
			"paid_at":           paidAt,
		})
		if err != nil {
			return err
		}
		if !ok {
			current, err := repo.FindByID(ctx, order.ID)
			if err != nil {
				return err
			}
			cancelled = current.Status == enums.OrderStatusCancelled
			return nil
		}

		for _, line := range order.Lines {
			took, err := s.inventory.Decrement(ctx, tx, line.ProductID, line.VariantID, line.Quantity)
			if err != nil {
				return err
			}
			if !took {
				oversold = append(oversold, line.ProductName)
			}
		}
		if err := s.carts.ConvertTx(ctx, tx, order.CartID); err != nil {
			return err
		}
		if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.Actor{System: "stripe"},
			Data: payloads.OrderPaidEvent{
				OrderID:         order.ID,
				Number:          order.Number,
				PaymentIntentID: intent.ID,
				Total:           order.Total,
				Currency:        enums.Currency(order.Currency),
				PaidAt:          paidAt,
			},
		}); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCartConverted,
			AggregateType: enums.AggregateCart,
			AggregateID:   order.CartID,
			Actor:         &outbox.Actor{System: "stripe"},
			Data: payloads.CartConvertedEvent{
				CartID:      order.CartID,
				OrderID:     order.ID,
				CustomerID:  order.CustomerID,
				ConvertedAt: paidAt,
			},
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment")
	}
	if cancelled {
		paidCancelled := fmt.Errorf("payment %s succeeded for cancelled order %s", intent.ID, order.Number)
		s.logg.Error(ctx, "payment captured for cancelled order", paidCancelled)
		s.reporter.Capture(ctx, paidCancelled, map[string]string{"stage": "payment"}, nil)
		return nil
	}
	s.carts.Forget(ctx, order.CartID)
	if len(oversold) > 0 {
		oversell := fmt.Errorf("order %s oversold: %s", order.Number, strings.Join(oversold, ", "))
		s.logg.Error(ctx, "stock exhausted before payment completed", oversell)
		s.reporter.Capture(ctx, oversell, map[string]string{"stage": "payment"}, nil)
	}
	s.logg.Info(ctx, "order paid")
	return nil
}

func (s *service) markFailed(ctx context.Context, order *models.Order, intent *stripego.PaymentIntent) error {
	if order.Status != enums.OrderStatusPendingPayment && order.Status != enums.OrderStatusPaymentFailed {
		s.logg.Info(s.logg.WithField(ctx, "status", order.Status), "ignoring failure for settled order")
		return nil
	}
	reason := stripe.FailureMessage(intent)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.orders.WithTx(tx).Transition(ctx, order.ID, []enums.OrderStatus{enums.OrderStatusPendingPayment, enums.OrderStatusPaymentFailed}, enums.OrderStatusPaymentFailed, map[string]any{
			"payment_status": enums.PaymentStatusFailed,
			"failure_reason": reason,
		})
		if err != nil || !ok {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaymentFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.Actor{System: "stripe"},
			Data: payloads.OrderPaymentFailedEvent{
				OrderID:         order.ID,
				Number:          order.Number,
				PaymentIntentID: intent.ID,
				Reason:          reason,
			},
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment failure")
	}
	s.logg.Warn(s.logg.WithField(ctx, "reason", reason), "order payment failed")
	return nil
}

func stockConflicts(snapshot *cart.CartDTO) []StockConflict {
	var out []StockConflict
	for _, item := range snapshot.Items {
		if !item.Shortfall() {
			continue
		}
		available := item.Available
		if item.Unavailable {
			available = 0
		}
		out = append(out, StockConflict{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			Requested: item.Quantity,
			Available: available,
		})
	}
	return out
}

func buildOrder(number string, input BeginInput, contact pkgcheckout.Contact, snapshot *cart.CartDTO, now time.Time) (*models.Order, error) {
	order := &models.Order{
		ID:              uuid.New(),
		Number:          number,
		CartID:          snapshot.ID,
		CustomerID:      input.CustomerID,
		Email:           contact.Email,
		Phone:           contact.Phone,
		ShippingAddress: contact.ShippingAddress,
		Status:          enums.OrderStatusPendingPayment,
		PaymentStatus:   enums.PaymentStatusPending,
		Currency:        snapshot.Currency,
		Subtotal:        decimal.Zero,
		PlacedAt:        now,
		Lines:           make([]models.OrderLine, 0, len(snapshot.Items)),
	}
	for _, item := range snapshot.Items {
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cart line product id")
		}
		line := models.OrderLine{
			ProductID:   productID,
			ProductName: item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		}
		if item.VariantID != "" {
			variantID, err := uuid.Parse(item.VariantID)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cart line variant id")
			}
			line.VariantID = &variantID
		}
		order.Lines = append(order.Lines, line)
		order.Subtotal = order.Subtotal.Add(item.LineTotal)
	}
	order.Total = order.Subtotal
	return order, nil
}

func orderCreated(order *models.Order) payloads.OrderCreatedEvent {
	lines := make([]payloads.OrderLine, 0, len(order.Lines))
	for _, l := range order.Lines {
		lines = append(lines, payloads.OrderLine{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}
	return payloads.OrderCreatedEvent{
		OrderID:    order.ID,
		Number:     order.Number,
		CartID:     order.CartID,
		CustomerID: order.CustomerID,
		Email:      order.Email,
		Currency:   enums.Currency(order.Currency),
		Total:      order.Total,
		Lines:      lines,
	}
}

func actorFor(customerID *uuid.UUID) *outbox.Actor {
	if customerID == nil {
		return &outbox.Actor{System: "guest-checkout"}
	}
	return &outbox.Actor{CustomerID: customerID, Role: enums.CustomerRoleShopper}
}

func outcome(err error, ok string) string {
	if err != nil {
		return "error"
	}
	return ok
}
