package enums

// OutboxAggregateType names the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder OutboxAggregateType = "order"
	AggregateCart  OutboxAggregateType = "cart"
)

var aggregateTypes = values[OutboxAggregateType]{AggregateOrder, AggregateCart}

func (a OutboxAggregateType) IsValid() bool { return aggregateTypes.has(a) }

func ParseOutboxAggregateType(raw string) (OutboxAggregateType, error) {
	return aggregateTypes.parse("aggregate type", raw)
}

// OutboxEventType names the domain fact carried by an outbox row.
type OutboxEventType string

const (
	EventOrderCreated       OutboxEventType = "order_created"
	EventOrderPaid          OutboxEventType = "order_paid"
	EventOrderPaymentFailed OutboxEventType = "order_payment_failed"
	EventOrderFulfilled     OutboxEventType = "order_fulfilled"
	EventOrderExpired       OutboxEventType = "order_expired"
	EventCartConverted      OutboxEventType = "cart_converted"
)

var eventTypes = values[OutboxEventType]{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderPaymentFailed,
	EventOrderFulfilled,
	EventOrderExpired,
	EventCartConverted,
}

func (e OutboxEventType) IsValid() bool { return eventTypes.has(e) }

func ParseOutboxEventType(raw string) (OutboxEventType, error) {
	return eventTypes.parse("event type", raw)
}
