package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/afm-storefront/internal/orders"
	"github.com/angelmondragon/afm-storefront/pkg/db/models"
	"github.com/angelmondragon/afm-storefront/pkg/enums"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
	"github.com/angelmondragon/afm-storefront/pkg/outbox"
	"github.com/angelmondragon/afm-storefront/pkg/outbox/payloads"
)

const (
	defaultPendingTTL = 24 * time.Hour
	defaultBatchSize  = 200
	expiredReason     = "expired"
)

// OrderExpiryJobParams configure the pending order expiry job.
type OrderExpiryJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Orders    orders.Repository
	Outbox    outboxEmitter
	Payments  intentCanceller
	TTL       time.Duration
	BatchSize int
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type intentCanceller interface {
	CancelPaymentIntent(ctx context.Context, id string) error
}

// NewOrderExpiryJob cancels orders left in pending_payment past the TTL.
// Stock is only taken on payment so nothing needs releasing.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &orderExpiryJob{
		logg:     params.Logger,
		db:       params.DB,
		orders:   params.Orders,
		outbox:   params.Outbox,
		payments: params.Payments,
		ttl:      ttl,
		batch:    batch,
		now:      time.Now,
	}, nil
}

type orderExpiryJob struct {
	logg     *logger.Logger
	db       txRunner
	orders   orders.Repository
	outbox   outboxEmitter
	payments intentCanceller
	ttl      time.Duration
	batch    int
	now      func() time.Time
}

func (j *orderExpiryJob) Name() string { return "order-expiry" }

func (j *orderExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.ttl)
	pending, err := j.orders.FindPendingBefore(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("find pending orders: %w", err)
	}

	var (
		errs    error
		expired int
	)
	for i := range pending {
		order := &pending[i]
		orderCtx := j.logg.WithOrderNumber(ctx, order.Number)
		ok, err := j.expire(orderCtx, order, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", order.Number, err))
			continue
		}
		if !ok {
			// paid or cancelled between the read and the update
			continue
		}
		expired++
		j.cancelIntent(orderCtx, order)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"scanned": len(pending),
		"expired": expired,
	}), "pending order expiry complete")
	return errs
}

func (j *orderExpiryJob) expire(ctx context.Context, order *models.Order, now time.Time) (bool, error) {
	var moved bool
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := j.orders.WithTx(tx).Transition(ctx, order.ID, []enums.OrderStatus{enums.OrderStatusPendingPayment}, enums.OrderStatusCancelled, map[string]any{
			"payment_status": enums.PaymentStatusCanceled,
			"failure_reason": expiredReason,
		})
		if err != nil || !ok {
			return err
		}
		moved = true
		event := payloads.OrderExpiredEvent{
			OrderID:   order.ID,
			Number:    order.Number,
			ExpiredAt: now,
		}
		if order.PaymentIntentID != nil {
			event.PaymentIntentID = *order.PaymentIntentID
		}
		return j.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderExpired,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.Actor{System: "cron"},
			Data:          event,
		})
	})
	if err != nil {
		return false, err
	}
	return moved, nil
}

// cancelIntent is best effort. A payment that still lands is recorded
// against the cancelled order by the webhook handler.
func (j *orderExpiryJob) cancelIntent(ctx context.Context, order *models.Order) {
	if j.payments == nil || order.PaymentIntentID == nil || *order.PaymentIntentID == "" {
		return
	}
	if err := j.payments.CancelPaymentIntent(ctx, *order.PaymentIntentID); err != nil {
		j.logg.Warn(j.logg.WithField(ctx, "payment_intent_id", *order.PaymentIntentID), "cancel expired payment intent: "+err.Error())
	}
}
