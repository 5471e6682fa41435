package enums

// OrderStatus follows an order from checkout to fulfilment.
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusPaymentFailed  OrderStatus = "payment_failed"
	OrderStatusFulfilled      OrderStatus = "fulfilled"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

var orderStatuses = values[OrderStatus]{
	OrderStatusPendingPayment,
	OrderStatusPaid,
	OrderStatusPaymentFailed,
	OrderStatusFulfilled,
	OrderStatusCancelled,
}

// orderTransitions lists the statuses reachable from each status.
// Fulfilled and cancelled are terminal.
var orderTransitions = map[OrderStatus]values[OrderStatus]{
	OrderStatusPendingPayment: {OrderStatusPaid, OrderStatusPaymentFailed, OrderStatusCancelled},
	OrderStatusPaymentFailed:  {OrderStatusPendingPayment, OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:           {OrderStatusFulfilled, OrderStatusCancelled},
}

func (o OrderStatus) IsValid() bool { return orderStatuses.has(o) }

func ParseOrderStatus(raw string) (OrderStatus, error) {
	return orderStatuses.parse("order status", raw)
}

func (o OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return orderTransitions[o].has(next)
}
