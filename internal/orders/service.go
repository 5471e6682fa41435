package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/afm-storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/afm-storefront/pkg/errors"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
	"github.com/angelmondragon/afm-storefront/pkg/outbox"
	"github.com/angelmondragon/afm-storefront/pkg/outbox/payloads"
	"github.com/angelmondragon/afm-storefront/pkg/pagination"
)

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines the customer and admin order operations. Payment state is
// driven by checkout; this service only reads orders and advances fulfilment.
type Service interface {
	ListForCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params) (*OrderList, error)
	GetForCustomer(ctx context.Context, number string, customerID uuid.UUID) (*OrderDTO, error)
	Lookup(ctx context.Context, number, email string) (*OrderDTO, error)
	AdminList(ctx context.Context, filters ListFilters, params pagination.Params) (*OrderList, error)
	AdminGet(ctx context.Context, number string) (*OrderDTO, error)
	Fulfil(ctx context.Context, number string, actor uuid.UUID) (*OrderDTO, error)
	Cancel(ctx context.Context, number string, actor uuid.UUID) (*OrderDTO, error)
}

type ServiceParams struct {
	Repo   Repository
	DB     txRunner
	Outbox outboxPublisher
	Logger *logger.Logger
	Locale string
	Clock  func() time.Time
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	logg   *logger.Logger
	locale string
	now    func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:   params.Repo,
		tx:     params.DB,
		outbox: params.Outbox,
		logg:   params.Logger,
		locale: params.Locale,
		now:    now,
	}, nil
}

func (s *service) ListForCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params) (*OrderList, error) {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, next, err := s.repo.ListByCustomer(ctx, customerID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	out := &OrderList{Orders: make([]OrderDTO, 0, len(rows)), NextCursor: next}
	for i := range rows {
		out.Orders = append(out.Orders, NewOrderDTO(&rows[i], s.locale))
	}
	return out, nil
}

// GetForCustomer hides orders placed by someone else behind NOT_FOUND.
func (s *service) GetForCustomer(ctx context.Context, number string, customerID uuid.UUID) (*OrderDTO, error) {
	order, err := s.repo.FindByNumber(ctx, number)
	if err != nil {
		return nil, notFound(err)
	}
	if order.CustomerID == nil || *order.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	dto := NewOrderDTO(order, s.locale)
	return &dto, nil
}

// Lookup lets a guest see an order by number when the email matches.
func (s *service) Lookup(ctx context.Context, number, email string) (*OrderDTO, error) {
	email = strings.TrimSpace(email)
	if strings.TrimSpace(number) == "" || email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number and email are required")
	}
	order, err := s.repo.FindByNumber(ctx, number)
	if err != nil {
		return nil, notFound(err)
	}
	if !strings.EqualFold(order.Email, email) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	dto := NewOrderDTO(order, s.locale)
	return &dto, nil
}

func (s *service) AdminList(ctx context.Context, filters ListFilters, params pagination.Params) (*OrderList, error) {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if filters.Status != nil && !filters.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	rows, next, err := s.repo.List(ctx, filters, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	out := &OrderList{Orders: make([]OrderDTO, 0, len(rows)), NextCursor: next}
	for i := range rows {
		out.Orders = append(out.Orders, NewOrderDTO(&rows[i], s.locale))
	}
	return out, nil
}

func (s *service) AdminGet(ctx context.Context, number string) (*OrderDTO, error) {
	order, err := s.repo.FindByNumber(ctx, number)
	if err != nil {
		return nil, notFound(err)
	}
	dto := NewOrderDTO(order, s.locale)
	return &dto, nil
}

// Fulfil marks a paid order shipped and emits order_fulfilled in the same
// transaction.
func (s *service) Fulfil(ctx context.Context, number string, actor uuid.UUID) (*OrderDTO, error) {
	ctx = s.logg.WithOrderNumber(ctx, number)
	var out *OrderDTO
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByNumber(ctx, number)
		if err != nil {
			return notFound(err)
		}
		if !order.Status.CanTransitionTo(enums.OrderStatusFulfilled) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s", order.Status))
		}
		now := s.now().UTC()
		ok, err := repo.Transition(ctx, order.ID, []enums.OrderStatus{enums.OrderStatusPaid}, enums.OrderStatusFulfilled, map[string]any{"fulfilled_at": now})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently")
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderFulfilled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.Actor{CustomerID: &actor, Role: enums.CustomerRoleAdmin},
			Data: payloads.OrderFulfilledEvent{
				OrderID:     order.ID,
				Number:      order.Number,
				FulfilledAt: now,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order_fulfilled")
		}
		order.Status = enums.OrderStatusFulfilled
		order.FulfilledAt = &now
		dto := NewOrderDTO(order, s.locale)
		out = &dto
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(ctx, "order fulfilled")
	return out, nil
}

// Cancel closes an order that was never paid. Paid orders need a refund and
// are rejected.
func (s *service) Cancel(ctx context.Context, number string, actor uuid.UUID) (*OrderDTO, error) {
	ctx = s.logg.WithOrderNumber(ctx, number)
	order, err := s.repo.FindByNumber(ctx, number)
	if err != nil {
		return nil, notFound(err)
	}
	unpaid := []enums.OrderStatus{enums.OrderStatusPendingPayment, enums.OrderStatusPaymentFailed}
	ok, err := s.repo.Transition(ctx, order.ID, unpaid, enums.OrderStatusCancelled, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s", order.Status))
	}
	order.Status = enums.OrderStatusCancelled
	s.logg.Info(s.logg.WithField(ctx, "actor", actor.String()), "order cancelled")
	dto := NewOrderDTO(order, s.locale)
	return &dto, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}
