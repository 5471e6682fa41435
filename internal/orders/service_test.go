package orders

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/afm-storefront/pkg/db"
	"github.com/angelmondragon/afm-storefront/pkg/db/models"
	"github.com/angelmondragon/afm-storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/afm-storefront/pkg/errors"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
	"github.com/angelmondragon/afm-storefront/pkg/outbox"
	"github.com/angelmondragon/afm-storefront/pkg/pagination"
	"github.com/angelmondragon/afm-storefront/pkg/types"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))
	return conn
}

func newTestService(t *testing.T, conn *gorm.DB, now time.Time) Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(conn),
		DB:     db.NewFromGorm(conn),
		Outbox: outbox.NewService(outbox.NewRepository(conn), logg),
		Logger: logg,
		Locale: "en-US",
		Clock:  func() time.Time { return now },
	})
	require.NoError(t, err)
	return svc
}

func seedOrder(t *testing.T, conn *gorm.DB, number string, customerID *uuid.UUID, status enums.OrderStatus, createdAt time.Time) *models.Order {
	t.Helper()
	order := &models.Order{
		Number:     number,
		CartID:     uuid.New(),
		CustomerID: customerID,
		Email:      "buyer@example.com",
		ShippingAddress: types.Address{
			Name: "Ada Buyer", Line1: "1 Main St", City: "Portland", State: "OR", PostalCode: "97201", Country: "US",
		},
		Status:        status,
		PaymentStatus: enums.PaymentStatusPending,
		Currency:      "USD",
		Subtotal:      decimal.RequireFromString("19"),
		Total:         decimal.RequireFromString("19"),
		Lines: []models.OrderLine{{
			ProductID:   uuid.New(),
			ProductName: "Mug",
			Quantity:    2,
			UnitPrice:   decimal.RequireFromString("9.5"),
			LineTotal:   decimal.RequireFromString("19"),
		}},
		PlacedAt:  createdAt,
		CreatedAt: createdAt,
	}
	require.NoError(t, NewRepository(conn).Create(context.Background(), order))
	return order
}

func TestRepositoryFindByNumberNormalizesInput(t *testing.T) {
	conn := setupOrdersTestDB(t)
	seeded := seedOrder(t, conn, "AFM-260301-ABC123", nil, enums.OrderStatusPendingPayment, time.Now())

	found, err := NewRepository(conn).FindByNumber(context.Background(), " afm-260301-abc123 ")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, found.ID)
	require.Len(t, found.Lines, 1)
	assert.Equal(t, "Mug", found.Lines[0].ProductName)
}

func TestRepositoryTransitionGuardsFromState(t *testing.T) {
	conn := setupOrdersTestDB(t)
	repo := NewRepository(conn)
	order := seedOrder(t, conn, "AFM-260301-AAAAAA", nil, enums.OrderStatusPendingPayment, time.Now())
	ctx := context.Background()

	ok, err := repo.Transition(ctx, order.ID, []enums.OrderStatus{enums.OrderStatusPaid}, enums.OrderStatusFulfilled, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Transition(ctx, order.ID, []enums.OrderStatus{enums.OrderStatusPendingPayment}, enums.OrderStatusPaid, map[string]any{
		"payment_status": enums.PaymentStatusSucceeded,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	reloaded, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, reloaded.Status)
	assert.Equal(t, enums.PaymentStatusSucceeded, reloaded.PaymentStatus)
}

func TestRepositoryFindUnpaidByCart(t *testing.T) {
	conn := setupOrdersTestDB(t)
	repo := NewRepository(conn)
	first := seedOrder(t, conn, "AFM-260301-BBBBBB", nil, enums.OrderStatusPaymentFailed, time.Now())
	paid := seedOrder(t, conn, "AFM-260301-CCCCCC", nil, enums.OrderStatusPaid, time.Now())
	require.NoError(t, conn.Model(&models.Order{}).Where("id = ?", paid.ID).Update("cart_id", first.CartID).Error)

	rows, err := repo.FindUnpaidByCart(context.Background(), first.CartID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, first.ID, rows[0].ID)
}

func TestListForCustomerPaginates(t *testing.T) {
	conn := setupOrdersTestDB(t)
	svc := newTestService(t, conn, time.Now())
	customer := uuid.New()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedOrder(t, conn, "AFM-260301-000001", &customer, enums.OrderStatusPaid, base)
	seedOrder(t, conn, "AFM-260302-000002", &customer, enums.OrderStatusPaid, base.Add(24*time.Hour))
	seedOrder(t, conn, "AFM-260303-000003", &customer, enums.OrderStatusPaid, base.Add(48*time.Hour))
	other := uuid.New()
	seedOrder(t, conn, "AFM-260303-000004", &other, enums.OrderStatusPaid, base)
	ctx := context.Background()

	first, err := svc.ListForCustomer(ctx, customer, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Orders, 2)
	assert.Equal(t, "AFM-260303-000003", first.Orders[0].Number)
	assert.Equal(t, "$19.00", first.Orders[0].DisplayTotal)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.ListForCustomer(ctx, customer, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Orders, 1)
	assert.Equal(t, "AFM-260301-000001", second.Orders[0].Number)
	assert.Empty(t, second.NextCursor)

	_, err = svc.ListForCustomer(ctx, customer, pagination.Params{Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestGetForCustomerHidesOtherCustomersOrders(t *testing.T) {
	conn := setupOrdersTestDB(t)
	svc := newTestService(t, conn, time.Now())
	owner := uuid.New()
	seedOrder(t, conn, "AFM-260301-OWNED1", &owner, enums.OrderStatusPaid, time.Now())
	ctx := context.Background()

	got, err := svc.GetForCustomer(ctx, "AFM-260301-OWNED1", owner)
	require.NoError(t, err)
	assert.Equal(t, owner, *seededCustomer(t, conn, got.ID))

	_, err = svc.GetForCustomer(ctx, "AFM-260301-OWNED1", uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.GetForCustomer(ctx, "AFM-260301-NOPE00", owner)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func seededCustomer(t *testing.T, conn *gorm.DB, id uuid.UUID) *uuid.UUID {
	t.Helper()
	var order models.Order
	require.NoError(t, conn.First(&order, "id = ?", id).Error)
	return order.CustomerID
}

func TestLookupRequiresMatchingEmail(t *testing.T) {
	conn := setupOrdersTestDB(t)
	svc := newTestService(t, conn, time.Now())
	seedOrder(t, conn, "AFM-260301-GUEST1", nil, enums.OrderStatusPendingPayment, time.Now())
	ctx := context.Background()

	got, err := svc.Lookup(ctx, "AFM-260301-GUEST1", "Buyer@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "AFM-260301-GUEST1", got.Number)

	_, err = svc.Lookup(ctx, "AFM-260301-GUEST1", "someone@example.com")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.Lookup(ctx, "AFM-260301-GUEST1", " ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestAdminListFiltersByStatus(t *testing.T) {
	conn := setupOrdersTestDB(t)
	svc := newTestService(t, conn, time.Now())
	seedOrder(t, conn, "AFM-260301-PAID01", nil, enums.OrderStatusPaid, time.Now())
	seedOrder(t, conn, "AFM-260301-PEND01", nil, enums.OrderStatusPendingPayment, time.Now())
	ctx := context.Background()

	paid := enums.OrderStatusPaid
	list, err := svc.AdminList(ctx, ListFilters{Status: &paid}, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, "AFM-260301-PAID01", list.Orders[0].Number)

	bogus := enums.OrderStatus("shipped")
	_, err = svc.AdminList(ctx, ListFilters{Status: &bogus}, pagination.Params{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestFulfilEmitsEventOnce(t *testing.T) {
	conn := setupOrdersTestDB(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, now)
	order := seedOrder(t, conn, "AFM-260301-SHIP01", nil, enums.OrderStatusPaid, time.Now())
	ctx := context.Background()
	admin := uuid.New()

	got, err := svc.Fulfil(ctx, order.Number, admin)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusFulfilled, got.Status)
	require.NotNil(t, got.FulfilledAt)
	assert.True(t, got.FulfilledAt.Equal(now))

	var events []models.OutboxEvent
	require.NoError(t, conn.Where("aggregate_id = ?", order.ID).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderFulfilled, events[0].EventType)

	_, err = svc.Fulfil(ctx, order.Number, admin)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestFulfilRejectsUnpaidOrder(t *testing.T) {
	conn := setupOrdersTestDB(t)
	svc := newTestService(t, conn, time.Now())
	order := seedOrder(t, conn, "AFM-260301-UNPAID", nil, enums.OrderStatusPendingPayment, time.Now())

	_, err := svc.Fulfil(context.Background(), order.Number, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCancelOnlyUnpaidOrders(t *testing.T) {
	conn := setupOrdersTestDB(t)
	svc := newTestService(t, conn, time.Now())
	pending := seedOrder(t, conn, "AFM-260301-CANCEL", nil, enums.OrderStatusPaymentFailed, time.Now())
	paid := seedOrder(t, conn, "AFM-260301-KEEP01", nil, enums.OrderStatusPaid, time.Now())
	ctx := context.Background()

	got, err := svc.Cancel(ctx, pending.Number, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, got.Status)

	_, err = svc.Cancel(ctx, paid.Number, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}
