package cartstore

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubCatalog map[string]CatalogProduct

func (c stubCatalog) Product(_ context.Context, id string) (CatalogProduct, error) {
	p, ok := c[id]
	if !ok {
		return CatalogProduct{}, ErrProductNotFound
	}
	return p, nil
}

type recordingSink struct {
	mu        sync.Mutex
	mutations []Mutation
}

func (r *recordingSink) Enqueue(m Mutation) {
	r.mu.Lock()
	r.mutations = append(r.mutations, m)
	r.mu.Unlock()
}

func (r *recordingSink) all() []Mutation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Mutation(nil), r.mutations...)
}

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testCatalog() stubCatalog {
	return stubCatalog{
		"A": {ID: "A", Name: "Arabica", Price: price("9.50"), Stock: 50, Active: true},
		"B": {ID: "B", Name: "Blend", Price: price("4.25"), Stock: 10, Active: true},
		"C": {ID: "C", Name: "Cold brew", Price: price("12.00"), Stock: 2, Active: true},
		"D": {ID: "D", Name: "Decaf", Price: price("7.00"), Stock: 0, Active: true},
		"M": {ID: "M", Name: "Mug", Price: price("15.00"), Active: true, Variants: []CatalogVariant{
			{ID: "red", Name: "Red", Price: price("15.00"), Stock: 3},
			{ID: "blue", Name: "Blue", Price: price("16.00"), Stock: 5},
		}},
	}
}

func newTestStore(t *testing.T, sink MutationSink) *Store {
	t.Helper()
	store, err := New(testCatalog(), Options{ID: "cart-1", Sink: sink})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func assertTotals(t *testing.T, snap Snapshot) {
	t.Helper()
	count := 0
	subtotal := decimal.Zero
	for _, line := range snap.Items {
		count += line.Quantity
		expected := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		if !line.LineTotal.Equal(expected) {
			t.Fatalf("line %s total %s, want %s", line.Key(), line.LineTotal, expected)
		}
		subtotal = subtotal.Add(expected)
	}
	if snap.ItemCount != count {
		t.Fatalf("item count %d, want %d", snap.ItemCount, count)
	}
	if !snap.Subtotal.Equal(subtotal) {
		t.Fatalf("subtotal %s, want %s", snap.Subtotal, subtotal)
	}
}

func TestAddItemInsertsAndIncrements(t *testing.T) {
	sink := &recordingSink{}
	store := newTestStore(t, sink)
	ctx := context.Background()

	if _, err := store.AddItem(ctx, "A", "", 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	snap, err := store.AddItem(ctx, "A", "", 3)
	if err != nil {
		t.Fatalf("add again: %v", err)
	}
	if len(snap.Items) != 1 || snap.Items[0].Quantity != 5 {
		t.Fatalf("expected single line with quantity 5, got %+v", snap.Items)
	}
	if !snap.Subtotal.Equal(price("47.50")) {
		t.Fatalf("unexpected subtotal %s", snap.Subtotal)
	}
	assertTotals(t, snap)

	muts := sink.all()
	if len(muts) != 2 || muts[1].Quantity != 5 || muts[1].Kind != MutationUpsert {
		t.Fatalf("expected absolute upsert mutations, got %+v", muts)
	}
	if muts[0].Seq >= muts[1].Seq {
		t.Fatalf("mutation sequence not increasing: %+v", muts)
	}
}

func TestAddItemRejectsInvalidQuantity(t *testing.T) {
	store := newTestStore(t, nil)
	for _, qty := range []int{0, -1, 100} {
		_, err := store.AddItem(context.Background(), "A", "", qty)
		var invalid *InvalidQuantityError
		if !errors.As(err, &invalid) {
			t.Fatalf("qty %d: expected InvalidQuantityError, got %v", qty, err)
		}
	}
	if snap := store.Snapshot(); len(snap.Items) != 0 {
		t.Fatalf("invalid add must not mutate, got %+v", snap.Items)
	}
}

func TestAddItemOutOfStock(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := store.AddItem(ctx, "C", "", 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err := store.AddItem(ctx, "C", "", 1)
	var oos *OutOfStockError
	if !errors.As(err, &oos) {
		t.Fatalf("expected OutOfStockError, got %v", err)
	}
	if oos.Requested != 3 || oos.Available != 2 {
		t.Fatalf("unexpected error detail %+v", oos)
	}
	if line, _ := store.Snapshot().Line("C"); line.Quantity != 2 {
		t.Fatalf("failed add must not change the line, got %d", line.Quantity)
	}

	if _, err := store.AddItem(ctx, "D", "", 1); !errors.As(err, &oos) {
		t.Fatalf("sold out product should be out of stock, got %v", err)
	}
}

func TestAddItemClampsToMax(t *testing.T) {
	catalog := stubCatalog{"A": {ID: "A", Price: price("1"), Stock: 500, Active: true}}
	store, err := New(catalog, Options{MaxQuantity: 99})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, err := store.AddItem(ctx, "A", "", 90); err != nil {
		t.Fatalf("add: %v", err)
	}
	snap, err := store.AddItem(ctx, "A", "", 20)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if snap.Items[0].Quantity != 99 {
		t.Fatalf("expected clamp to 99, got %d", snap.Items[0].Quantity)
	}
}

func TestAddItemVariants(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := store.AddItem(ctx, "M", "", 1); !errors.Is(err, ErrVariantRequired) {
		t.Fatalf("expected ErrVariantRequired, got %v", err)
	}
	if _, err := store.AddItem(ctx, "M", "green", 1); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound for unknown variant, got %v", err)
	}
	if _, err := store.AddItem(ctx, "M", "red", 1); err != nil {
		t.Fatalf("add red: %v", err)
	}
	snap, err := store.AddItem(ctx, "M", "blue", 2)
	if err != nil {
		t.Fatalf("add blue: %v", err)
	}
	if len(snap.Items) != 2 {
		t.Fatalf("variants must be distinct lines, got %+v", snap.Items)
	}
	blue, ok := snap.Line(KeyFor("M", "blue"))
	if !ok || !blue.UnitPrice.Equal(price("16.00")) || blue.Name != "Mug - Blue" {
		t.Fatalf("unexpected blue line %+v", blue)
	}
	if _, err := store.AddItem(ctx, "nope", "", 1); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRemoveItemIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	store := newTestStore(t, sink)
	ctx := context.Background()
	if _, err := store.AddItem(ctx, "A", "", 1); err != nil {
		t.Fatalf("add: %v", err)
	}

	store.RemoveItem("A")
	snap := store.RemoveItem("A")
	if len(snap.Items) != 0 {
		t.Fatalf("expected empty cart, got %+v", snap.Items)
	}
	snap = store.RemoveItem("never-added")
	assertTotals(t, snap)

	if got := len(sink.all()); got != 2 {
		t.Fatalf("expected add+remove mutations only, got %d", got)
	}
}

func TestUpdateQuantityZeroEqualsRemove(t *testing.T) {
	ctx := context.Background()
	viaUpdate := newTestStore(t, nil)
	viaRemove := newTestStore(t, nil)
	for _, s := range []*Store{viaUpdate, viaRemove} {
		if _, err := s.AddItem(ctx, "A", "", 2); err != nil {
			t.Fatalf("add: %v", err)
		}
		if _, err := s.AddItem(ctx, "B", "", 1); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	updated, err := viaUpdate.UpdateQuantity("A", 0)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	removed := viaRemove.RemoveItem("A")

	if len(updated.Items) != len(removed.Items) || updated.ItemCount != removed.ItemCount || !updated.Subtotal.Equal(removed.Subtotal) {
		t.Fatalf("update to zero %+v differs from remove %+v", updated, removed)
	}
	if _, err := viaUpdate.UpdateQuantity("A", 0); err != nil {
		t.Fatalf("update to zero on absent line should be a no-op, got %v", err)
	}
}

func TestUpdateQuantityBounds(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	if _, err := store.AddItem(ctx, "B", "", 1); err != nil {
		t.Fatalf("add: %v", err)
	}

	var invalid *InvalidQuantityError
	if _, err := store.UpdateQuantity("B", -2); !errors.As(err, &invalid) {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
	var oos *OutOfStockError
	if _, err := store.UpdateQuantity("B", 500); !errors.As(err, &oos) {
		t.Fatalf("expected clamp to 99 then out of stock against 10, got %v", err)
	}
	snap, err := store.UpdateQuantity("B", 10)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if line, _ := snap.Line("B"); line.Quantity != 10 {
		t.Fatalf("expected 10, got %d", line.Quantity)
	}
	if _, err := store.UpdateQuantity("Z", 3); !errors.Is(err, ErrLineNotFound) {
		t.Fatalf("expected ErrLineNotFound, got %v", err)
	}
}

func TestTotalsInvariantUnderRandomOperations(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	products := []string{"A", "B", "C", "D"}

	for i := 0; i < 500; i++ {
		id := products[rng.Intn(len(products))]
		var snap Snapshot
		switch rng.Intn(3) {
		case 0:
			s, err := store.AddItem(ctx, id, "", rng.Intn(5)+1)
			if err != nil {
				snap = store.Snapshot()
			} else {
				snap = s
			}
		case 1:
			s, err := store.UpdateQuantity(LineKey(id), rng.Intn(12))
			if err != nil {
				snap = store.Snapshot()
			} else {
				snap = s
			}
		default:
			snap = store.RemoveItem(LineKey(id))
		}
		assertTotals(t, snap)
		seen := map[LineKey]bool{}
		for _, line := range snap.Items {
			if seen[line.Key()] {
				t.Fatalf("duplicate line %s", line.Key())
			}
			seen[line.Key()] = true
			if line.Quantity < 1 || line.Quantity > 99 {
				t.Fatalf("quantity %d out of bounds", line.Quantity)
			}
		}
	}
}

func TestMergeServerCartServerWins(t *testing.T) {
	sink := &recordingSink{}
	store, err := New(testCatalog(), Options{Sink: sink})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, err := store.AddItem(ctx, "A", "", 2); err != nil {
		t.Fatalf("add: %v", err)
	}

	server := ServerCart{ID: "server-cart", Items: []Line{
		{ProductID: "A", Quantity: 1, UnitPrice: price("9.50")},
		{ProductID: "B", Quantity: 3, UnitPrice: price("4.25")},
	}}
	snap, err := store.MergeServerCart(ctx, server)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	if len(snap.Items) != 2 {
		t.Fatalf("expected 2 lines, got %+v", snap.Items)
	}
	if snap.Items[0].ProductID != "A" || snap.Items[0].Quantity != 1 {
		t.Fatalf("expected A:1 first, got %+v", snap.Items[0])
	}
	if snap.Items[1].ProductID != "B" || snap.Items[1].Quantity != 3 {
		t.Fatalf("expected B:3 second, got %+v", snap.Items[1])
	}
	if snap.ID != "server-cart" {
		t.Fatalf("expected merged cart to adopt server id, got %q", snap.ID)
	}
	assertTotals(t, snap)

	if _, err := store.MergeServerCart(ctx, server); !errors.Is(err, ErrAlreadyMerged) {
		t.Fatalf("expected ErrAlreadyMerged, got %v", err)
	}
}

func TestMergeServerCartAppendsGuestAndClampsStock(t *testing.T) {
	sink := &recordingSink{}
	store, err := New(testCatalog(), Options{Sink: sink})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, err := store.AddItem(ctx, "A", "", 4); err != nil {
		t.Fatalf("add: %v", err)
	}
	before := len(sink.all())

	server := ServerCart{ID: "srv", Items: []Line{
		{ProductID: "C", Quantity: 6, UnitPrice: price("12.00")},
		{ProductID: "D", Quantity: 1, UnitPrice: price("7.00")},
		{ProductID: "gone", Quantity: 1, UnitPrice: price("1.00")},
	}}
	snap, err := store.MergeServerCart(ctx, server)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	if len(snap.Items) != 2 {
		t.Fatalf("expected C and A, got %+v", snap.Items)
	}
	if snap.Items[0].ProductID != "C" || snap.Items[0].Quantity != 2 {
		t.Fatalf("expected C clamped to stock 2, got %+v", snap.Items[0])
	}
	if snap.Items[1].ProductID != "A" || snap.Items[1].Quantity != 4 {
		t.Fatalf("expected guest line A appended, got %+v", snap.Items[1])
	}

	muts := sink.all()[before:]
	want := []struct {
		kind MutationKind
		key  LineKey
		qty  int
	}{
		{MutationUpsert, "C", 2},
		{MutationRemove, "D", 0},
		{MutationRemove, "gone", 0},
		{MutationUpsert, "A", 4},
	}
	if len(muts) != len(want) {
		t.Fatalf("expected %d merge mutations, got %+v", len(want), muts)
	}
	for i, w := range want {
		if muts[i].Kind != w.kind || muts[i].Key() != w.key || muts[i].Quantity != w.qty || muts[i].CartID != "srv" {
			t.Fatalf("mutation %d = %+v, want %+v", i, muts[i], w)
		}
	}
}

func TestReconcileOverwritesMatchingLines(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	if _, err := store.AddItem(ctx, "A", "", 3); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := store.AddItem(ctx, "B", "", 1); err != nil {
		t.Fatalf("add: %v", err)
	}

	snap := store.Reconcile(ServerCart{ID: "cart-1", Items: []Line{
		{ProductID: "A", Quantity: 2, UnitPrice: price("10.00")},
		{ProductID: "Z", Quantity: 7, UnitPrice: price("1.00")},
	}})

	a, _ := snap.Line("A")
	if a.Quantity != 2 || !a.UnitPrice.Equal(price("10.00")) {
		t.Fatalf("expected server values for A, got %+v", a)
	}
	if b, ok := snap.Line("B"); !ok || b.Quantity != 1 {
		t.Fatalf("unmatched local line B must be kept, got %+v", b)
	}
	if _, ok := snap.Line("Z"); ok {
		t.Fatalf("server-only lines are not imported by reconcile")
	}
	if !snap.Subtotal.Equal(price("24.25")) {
		t.Fatalf("unexpected subtotal %s", snap.Subtotal)
	}
}

func TestSubscribeNotifiesInOrderAndUnsubscribes(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	var counts []int
	unsubscribe := store.Subscribe(func(s Snapshot) { counts = append(counts, s.ItemCount) })

	if _, err := store.AddItem(ctx, "A", "", 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := store.AddItem(ctx, "B", "", 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	store.RemoveItem("A")
	unsubscribe()
	unsubscribe()
	store.RemoveItem("B")

	want := []int{1, 3, 2}
	if len(counts) != len(want) {
		t.Fatalf("expected %v notifications, got %v", want, counts)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Fatalf("notification %d = %d, want %d", i, counts[i], want[i])
		}
	}
}

func TestSyncErrorFlagAndClear(t *testing.T) {
	sink := &recordingSink{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store, err := New(testCatalog(), Options{ID: "c", Sink: sink, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, err := store.AddItem(ctx, "A", "", 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := store.AddItem(ctx, "B", "", 1); err != nil {
		t.Fatalf("add: %v", err)
	}

	notified := 0
	store.Subscribe(func(Snapshot) { notified++ })
	store.SetSyncError(true)
	store.SetSyncError(true)
	if !store.Snapshot().SyncError || notified != 1 {
		t.Fatalf("expected one sync error notification, got flag=%v notified=%d", store.Snapshot().SyncError, notified)
	}

	before := len(sink.all())
	snap := store.Clear()
	if len(snap.Items) != 0 || snap.ItemCount != 0 || !snap.Subtotal.IsZero() {
		t.Fatalf("expected empty cart after clear, got %+v", snap)
	}
	if got := len(sink.all()) - before; got != 2 {
		t.Fatalf("expected a remove per line, got %d", got)
	}

	snap = store.Reset("next")
	if snap.ID != "next" || snap.SyncError {
		t.Fatalf("reset should adopt new id and clear sync error, got %+v", snap)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Fatal("expected catalog required error")
	}
	if _, err := New(testCatalog(), Options{MinQuantity: 5, MaxQuantity: 2}); err == nil {
		t.Fatal("expected inverted bounds error")
	}
}

type switchingSink struct {
	recordingSink
	adopted []string
}

func (s *switchingSink) AdoptCart(id string) {
	s.mu.Lock()
	s.adopted = append(s.adopted, id)
	s.mutations = s.mutations[:0]
	s.mu.Unlock()
}

func TestMergeServerCartAdoptsCartBeforeDelivery(t *testing.T) {
	sink := &switchingSink{}
	store, err := New(testCatalog(), Options{ID: "guest-1", Sink: sink})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, err := store.AddItem(ctx, "A", "", 2); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := store.MergeServerCart(ctx, ServerCart{ID: "cust-1"}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(sink.adopted) != 1 || sink.adopted[0] != "cust-1" {
		t.Fatalf("expected cust-1 adopted once, got %v", sink.adopted)
	}
	muts := sink.all()
	if len(muts) != 1 || muts[0].CartID != "cust-1" || muts[0].Key() != "A" || muts[0].Quantity != 2 {
		t.Fatalf("expected only the merge upsert for cust-1, got %+v", muts)
	}

	store.RemoveItem("A")
	if len(sink.adopted) != 1 {
		t.Fatalf("adoption must not repeat on later changes, got %v", sink.adopted)
	}
}

func TestRevertRestoresServerView(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	if _, err := store.AddItem(ctx, "A", "", 5); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := store.AddItem(ctx, "C", "", 2); err != nil {
		t.Fatalf("add: %v", err)
	}

	snap := store.Revert("A", &Line{ProductID: "A", Quantity: 1, UnitPrice: price("9.00")})
	line, ok := snap.Line("A")
	if !ok || line.Quantity != 1 || !line.UnitPrice.Equal(price("9.00")) {
		t.Fatalf("expected A back at server quantity, got %+v", line)
	}

	snap = store.Revert("C", nil)
	if _, ok := snap.Line("C"); ok {
		t.Fatalf("expected C dropped, got %+v", snap.Items)
	}
	if !snap.Subtotal.Equal(price("9.00")) {
		t.Fatalf("subtotal %s, want 9.00", snap.Subtotal)
	}

	snap = store.Revert("B", &Line{ProductID: "B", Name: "Blend", Quantity: 2, UnitPrice: price("4.25")})
	if line, ok := snap.Line("B"); !ok || line.Quantity != 2 {
		t.Fatalf("expected removed line restored, got %+v", snap.Items)
	}
}
