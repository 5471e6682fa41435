package cartstore

import "fmt"

// MutationKind is the server-side effect a local mutation needs.
type MutationKind string

const (
	MutationUpsert MutationKind = "upsert"
	MutationRemove MutationKind = "remove"
)

// Mutation carries the absolute intended quantity for a line so the server
// can apply it idempotently, last write wins.
type Mutation struct {
	Seq       uint64
	Kind      MutationKind
	CartID    string
	ProductID string
	VariantID string
	Quantity  int
}

// Key returns the line key the mutation targets.
func (m Mutation) Key() LineKey {
	return KeyFor(m.ProductID, m.VariantID)
}

// IdempotencyKey identifies the intended end state of the mutation.
func (m Mutation) IdempotencyKey() string {
	return fmt.Sprintf("%s|%s|%s|%d", m.CartID, m.ProductID, m.VariantID, m.Quantity)
}

// MutationSink receives mutations in call order for server persistence.
type MutationSink interface {
	Enqueue(Mutation)
}

// CartSwitcher is implemented by sinks that queue mutations. After a merge
// moves the store onto the customer's cart, AdoptCart is called before the
// merge mutations are delivered; queued mutations for any other cart are
// already folded into the merge.
type CartSwitcher interface {
	AdoptCart(cartID string)
}
