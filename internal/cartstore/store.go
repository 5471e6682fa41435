// Package cartstore holds the session-local cart: the single source of truth
// for what the shopper sees. Mutations apply locally first and are handed to a
// MutationSink for server persistence; server snapshots are folded back in
// through Reconcile.
package cartstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/afm-storefront/pkg/logger"
	"github.com/angelmondragon/afm-storefront/pkg/pricing"
)

const (
	DefaultMinQuantity = 1
	DefaultMaxQuantity = 99
)

// Listener observes cart changes. Listeners run after the store lock is
// released, in mutation order, and must not mutate the store synchronously.
type Listener func(Snapshot)

type Options struct {
	ID          string
	Currency    string
	MinQuantity int
	MaxQuantity int
	Sink        MutationSink
	Logger      *logger.Logger
	Now         func() time.Time
}

// Store is safe for concurrent use; every mutation is atomic with respect to
// Snapshot.
type Store struct {
	mu        sync.Mutex
	id        string
	currency  string
	lines     []Line
	stock     map[LineKey]int
	updatedAt time.Time
	syncError bool
	merged    bool
	seq       uint64
	adopt     string

	min     int
	max     int
	catalog Catalog
	sink    MutationSink
	logg    *logger.Logger
	now     func() time.Time

	notifyMu  sync.Mutex
	subsMu    sync.RWMutex
	subs      map[int]Listener
	nextSubID int
}

// New builds a store backed by catalog for price and stock checks.
func New(catalog Catalog, opts Options) (*Store, error) {
	if catalog == nil {
		return nil, errors.New("catalog required")
	}
	if opts.MinQuantity <= 0 {
		opts.MinQuantity = DefaultMinQuantity
	}
	if opts.MaxQuantity <= 0 {
		opts.MaxQuantity = DefaultMaxQuantity
	}
	if opts.MaxQuantity < opts.MinQuantity {
		return nil, fmt.Errorf("max quantity %d below min %d", opts.MaxQuantity, opts.MinQuantity)
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		id:        opts.ID,
		currency:  opts.Currency,
		stock:     make(map[LineKey]int),
		updatedAt: opts.Now().UTC(),
		min:       opts.MinQuantity,
		max:       opts.MaxQuantity,
		catalog:   catalog,
		sink:      opts.Sink,
		logg:      opts.Logger,
		now:       opts.Now,
		subs:      make(map[int]Listener),
	}, nil
}

// SetSink attaches the persistence sink after construction.
func (s *Store) SetSink(sink MutationSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// ID returns the cart identifier currently in use.
func (s *Store) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Subscribe registers fn for cart-changed notifications and returns a func
// that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

// Snapshot returns an immutable copy of the current cart.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// AddItem inserts a line or increments an existing one. quantity must lie in
// [min, max]; the resulting line quantity may not exceed catalog stock and is
// capped at max.
func (s *Store) AddItem(ctx context.Context, productID, variantID string, quantity int) (Snapshot, error) {
	if quantity < s.min || quantity > s.max {
		return Snapshot{}, &InvalidQuantityError{Quantity: quantity, Min: s.min, Max: s.max}
	}
	if productID == "" {
		return Snapshot{}, ErrProductNotFound
	}

	product, err := s.catalog.Product(ctx, productID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("catalog lookup %s: %w", productID, err)
	}
	o, err := Resolve(product, variantID)
	if err != nil {
		return Snapshot{}, err
	}

	key := KeyFor(productID, variantID)

	s.mu.Lock()
	idx := s.indexLocked(key)
	current := 0
	if idx >= 0 {
		current = s.lines[idx].Quantity
	}
	target := current + quantity
	s.stock[key] = o.Stock
	if target > o.Stock {
		s.mu.Unlock()
		return Snapshot{}, &OutOfStockError{Key: key, Name: o.Name, Requested: target, Available: o.Stock}
	}
	target = pricing.Clamp(target, s.min, s.max)

	if idx >= 0 {
		s.lines[idx].Quantity = target
	} else {
		s.lines = append(s.lines, Line{
			ProductID: productID,
			VariantID: variantID,
			Name:      o.Name,
			Quantity:  target,
			UnitPrice: o.Price,
		})
	}
	m := s.mutationLocked(MutationUpsert, key, target)
	return s.commitLocked(m), nil
}

// UpdateQuantity sets a line's quantity, clamped to [min, max]. Zero removes
// the line; negative values are rejected.
func (s *Store) UpdateQuantity(key LineKey, quantity int) (Snapshot, error) {
	if quantity < 0 {
		return Snapshot{}, &InvalidQuantityError{Quantity: quantity, Min: s.min, Max: s.max}
	}
	if quantity == 0 {
		return s.RemoveItem(key), nil
	}

	s.mu.Lock()
	idx := s.indexLocked(key)
	if idx < 0 {
		s.mu.Unlock()
		return Snapshot{}, ErrLineNotFound
	}
	target := pricing.Clamp(quantity, s.min, s.max)
	if available, ok := s.stock[key]; ok && target > available {
		line := s.lines[idx]
		s.mu.Unlock()
		return Snapshot{}, &OutOfStockError{Key: key, Name: line.Name, Requested: target, Available: available}
	}
	if s.lines[idx].Quantity == target {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	s.lines[idx].Quantity = target
	m := s.mutationLocked(MutationUpsert, key, target)
	return s.commitLocked(m), nil
}

// RemoveItem deletes the line if present. Removing an absent line is a no-op.
func (s *Store) RemoveItem(key LineKey) Snapshot {
	s.mu.Lock()
	idx := s.indexLocked(key)
	if idx < 0 {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap
	}
	s.lines = append(s.lines[:idx], s.lines[idx+1:]...)
	delete(s.stock, key)
	m := s.mutationLocked(MutationRemove, key, 0)
	return s.commitLocked(m)
}

// Clear empties the cart and asks the server to drop every line.
func (s *Store) Clear() Snapshot {
	s.mu.Lock()
	removed := make([]Mutation, 0, len(s.lines))
	for _, line := range s.lines {
		removed = append(removed, s.mutationLocked(MutationRemove, line.Key(), 0))
	}
	s.lines = nil
	s.stock = make(map[LineKey]int)
	return s.commitLocked(removed...)
}

// Reset discards local state without emitting mutations, e.g. after the
// server converted the cart into an order. id becomes the new cart id.
func (s *Store) Reset(id string) Snapshot {
	s.mu.Lock()
	s.id = id
	s.lines = nil
	s.stock = make(map[LineKey]int)
	s.syncError = false
	return s.commitLocked()
}

// SetSyncError raises or clears the passive persistence failure flag.
func (s *Store) SetSyncError(failed bool) {
	s.mu.Lock()
	if s.syncError == failed {
		s.mu.Unlock()
		return
	}
	s.syncError = failed
	s.publishLocked()
	if failed && s.logg != nil {
		s.logg.Warn(s.logg.WithCartID(context.Background(), s.ID()), "cart sync degraded")
	}
}

// SetID adopts the server-assigned cart id for a guest cart.
func (s *Store) SetID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

// Reconcile overwrites quantity and unit price of every local line that the
// server also reports. Local lines the server does not know about are kept,
// since their mutation may still be queued.
func (s *Store) Reconcile(server ServerCart) Snapshot {
	s.mu.Lock()
	if server.ID != "" {
		s.id = server.ID
	}
	if server.Currency != "" {
		s.currency = server.Currency
	}
	authoritative := make(map[LineKey]Line, len(server.Items))
	for _, line := range server.Items {
		authoritative[line.Key()] = line
	}
	for i := range s.lines {
		remote, ok := authoritative[s.lines[i].Key()]
		if !ok {
			continue
		}
		s.lines[i].Quantity = pricing.Clamp(remote.Quantity, s.min, s.max)
		s.lines[i].UnitPrice = remote.UnitPrice
		if remote.Name != "" {
			s.lines[i].Name = remote.Name
		}
	}
	return s.commitLocked()
}

// Revert puts one line back to the server's view after the server refused a
// mutation for it. A nil remote means the server holds no such line.
func (s *Store) Revert(key LineKey, remote *Line) Snapshot {
	s.mu.Lock()
	idx := s.indexLocked(key)
	switch {
	case remote == nil || remote.Quantity < s.min:
		if idx >= 0 {
			s.lines = append(s.lines[:idx], s.lines[idx+1:]...)
		}
	case idx >= 0:
		s.lines[idx].Quantity = pricing.Clamp(remote.Quantity, s.min, s.max)
		s.lines[idx].UnitPrice = remote.UnitPrice
	default:
		line := *remote
		line.Quantity = pricing.Clamp(line.Quantity, s.min, s.max)
		s.lines = append(s.lines, line)
	}
	return s.commitLocked()
}

// MergeServerCart folds the customer's server cart into the guest cart after
// authentication. Server lines win on conflicting keys and keep their order;
// guest-only lines are appended. Every line is clamped to catalog stock and
// dropped when none is left. It may only run once per store.
func (s *Store) MergeServerCart(ctx context.Context, server ServerCart) (Snapshot, error) {
	s.mu.Lock()
	if s.merged {
		s.mu.Unlock()
		return Snapshot{}, ErrAlreadyMerged
	}
	guest := append([]Line(nil), s.lines...)
	s.mu.Unlock()

	merged := make([]Line, 0, len(server.Items)+len(guest))
	fromServer := make(map[LineKey]int, len(server.Items))
	for _, line := range server.Items {
		if _, dup := fromServer[line.Key()]; dup {
			continue
		}
		fromServer[line.Key()] = line.Quantity
		merged = append(merged, line)
	}
	for _, line := range guest {
		if _, ok := fromServer[line.Key()]; ok {
			continue
		}
		merged = append(merged, line)
	}

	products := make(map[string]CatalogProduct)
	stock := make(map[LineKey]int, len(merged))
	for _, line := range merged {
		product, ok := products[line.ProductID]
		if !ok {
			p, err := s.catalog.Product(ctx, line.ProductID)
			switch {
			case errors.Is(err, ErrProductNotFound):
				stock[line.Key()] = 0
				continue
			case err != nil:
				return Snapshot{}, fmt.Errorf("catalog lookup %s: %w", line.ProductID, err)
			}
			products[line.ProductID] = p
			product = p
		}
		o, err := Resolve(product, line.VariantID)
		if err != nil {
			stock[line.Key()] = 0
			continue
		}
		stock[line.Key()] = o.Stock
	}

	s.mu.Lock()
	if s.merged {
		s.mu.Unlock()
		return Snapshot{}, ErrAlreadyMerged
	}
	s.merged = true
	if server.ID != "" {
		s.id = server.ID
		s.adopt = server.ID
	}
	if server.Currency != "" {
		s.currency = server.Currency
	}

	var mutations []Mutation
	kept := make([]Line, 0, len(merged))
	for _, line := range merged {
		key := line.Key()
		available := stock[key]
		serverQty, onServer := fromServer[key]
		if available < s.min {
			if onServer {
				mutations = append(mutations, s.mutationLocked(MutationRemove, key, 0))
			}
			continue
		}
		line.Quantity = pricing.Clamp(line.Quantity, s.min, min(s.max, available))
		kept = append(kept, line)
		s.stock[key] = available
		if !onServer || serverQty != line.Quantity {
			mutations = append(mutations, s.mutationLocked(MutationUpsert, key, line.Quantity))
		}
	}
	s.lines = kept
	return s.commitLocked(mutations...), nil
}

func (s *Store) indexLocked(key LineKey) int {
	for i, line := range s.lines {
		if line.Key() == key {
			return i
		}
	}
	return -1
}

func (s *Store) mutationLocked(kind MutationKind, key LineKey, quantity int) Mutation {
	s.seq++
	productID, variantID := key.Split()
	return Mutation{
		Seq:       s.seq,
		Kind:      kind,
		CartID:    s.id,
		ProductID: productID,
		VariantID: variantID,
		Quantity:  quantity,
	}
}

func (s *Store) snapshotLocked() Snapshot {
	items := make([]Line, len(s.lines))
	for i, line := range s.lines {
		line.LineTotal = line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		items[i] = line
	}
	count, subtotal := totals(items)
	return Snapshot{
		ID:        s.id,
		Currency:  s.currency,
		Items:     items,
		ItemCount: count,
		Subtotal:  subtotal,
		UpdatedAt: s.updatedAt,
		SyncError: s.syncError,
	}
}

// commitLocked stamps the change and publishes it. The caller must hold s.mu.
func (s *Store) commitLocked(mutations ...Mutation) Snapshot {
	s.updatedAt = s.now().UTC()
	return s.publishLocked(mutations...)
}

// publishLocked releases s.mu, forwards mutations to the sink and notifies
// listeners. notifyMu is taken before s.mu is released so notifications
// follow mutation order. The caller must hold s.mu.
func (s *Store) publishLocked(mutations ...Mutation) Snapshot {
	snap := s.snapshotLocked()
	sink := s.sink
	adopt := s.adopt
	s.adopt = ""
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	if switcher, ok := sink.(CartSwitcher); ok && adopt != "" {
		switcher.AdoptCart(adopt)
	}
	if sink != nil {
		for _, m := range mutations {
			sink.Enqueue(m)
		}
	}

	s.subsMu.RLock()
	listeners := make([]Listener, 0, len(s.subs))
	for id := 0; id < s.nextSubID; id++ {
		if fn, ok := s.subs[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	s.subsMu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
	return snap
}
