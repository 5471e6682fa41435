// Package cartsync bridges local cart mutations to the server cart endpoint
// and tolerates intermittent connectivity.
package cartsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/angelmondragon/afm-storefront/internal/cartstore"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
	"github.com/angelmondragon/afm-storefront/pkg/metrics"
)

// Persister applies mutations to the server cart. Apply must be idempotent for
// a given (cart, product, variant, quantity).
type Persister interface {
	CreateCart(ctx context.Context) (cartstore.ServerCart, error)
	GetCart(ctx context.Context, cartID string) (cartstore.ServerCart, error)
	Apply(ctx context.Context, m cartstore.Mutation) (cartstore.ServerCart, error)
}

// Target is the local store the syncer reconciles into.
type Target interface {
	ID() string
	SetID(id string)
	Reconcile(server cartstore.ServerCart) cartstore.Snapshot
	Revert(key cartstore.LineKey, remote *cartstore.Line) cartstore.Snapshot
	SetSyncError(failed bool)
}

type Params struct {
	Persister Persister
	Target    Target
	Logger    *logger.Logger
	Metrics   *metrics.CartMetrics
	Debounce  time.Duration
	Online    bool
	OnReject  func(Rejection)
}

// Syncer keeps a FIFO queue of pending mutations and flushes it from a single
// goroutine at a time. Enqueue never calls back into the store synchronously.
type Syncer struct {
	persister Persister
	target    Target
	logg      *logger.Logger
	metrics   *metrics.CartMetrics
	debounce  time.Duration
	onReject  func(Rejection)

	mu       sync.Mutex
	queue    []cartstore.Mutation
	online   bool
	flushing bool
	timer    *time.Timer
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a syncer. Call Close to stop background flushes.
func New(params Params) (*Syncer, error) {
	if params.Persister == nil {
		return nil, errors.New("persister required")
	}
	if params.Target == nil {
		return nil, errors.New("sync target required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		persister: params.Persister,
		target:    params.Target,
		logg:      params.Logger,
		metrics:   params.Metrics,
		debounce:  params.Debounce,
		onReject:  params.OnReject,
		online:    params.Online,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Enqueue appends m to the queue and, when online, schedules a debounced flush.
func (s *Syncer) Enqueue(m cartstore.Mutation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, m)
	s.metrics.SetQueueDepth(len(s.queue))
	if s.online {
		s.scheduleLocked(s.debounce)
	}
}

// Pending returns a copy of the queued mutations in order.
func (s *Syncer) Pending() []cartstore.Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cartstore.Mutation(nil), s.queue...)
}

// Online reports the current connectivity belief.
func (s *Syncer) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetOnline records a connectivity signal. A false to true transition replays
// the queue immediately.
func (s *Syncer) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.online == online {
		return
	}
	s.online = online
	ctx := s.logg.WithField(s.ctx, "online", online)
	s.logg.Info(ctx, "cart connectivity changed")
	if online && len(s.queue) > 0 {
		s.scheduleLocked(0)
	}
}

// Close stops pending timers and waits for an in-flight flush.
func (s *Syncer) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Syncer) scheduleLocked(delay time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, s.flushAsync)
}

func (s *Syncer) flushAsync() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if err := s.Flush(s.ctx); err != nil && !errors.Is(err, ErrOffline) && !errors.Is(err, context.Canceled) {
		s.logg.Warn(s.logg.WithField(s.ctx, "error", err.Error()), "cart flush stopped early")
	}
}

// Flush sends queued mutations in order until the queue is empty or a
// transport or server error stops it. Only one flush runs at a time; a call
// made while another flush is running returns immediately and the running
// flush picks up the new mutations.
func (s *Syncer) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.online {
		s.mu.Unlock()
		return ErrOffline
	}
	if s.flushing {
		s.mu.Unlock()
		return nil
	}
	s.flushing = true
	s.mu.Unlock()

	rejected, drained := false, false
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || !s.online {
			// cleared under the lock that observed the queue; see Enqueue.
			drained = len(s.queue) == 0
			s.flushing = false
			s.mu.Unlock()
			break
		}
		m := s.queue[0]
		s.mu.Unlock()

		if err := ctx.Err(); err != nil {
			s.endFlush()
			return err
		}

		m, err := s.bindCart(ctx, m)
		if err == nil {
			var server cartstore.ServerCart
			server, err = s.persister.Apply(ctx, m)
			if err == nil {
				s.pop(m)
				s.metrics.ObserveSync(metrics.SyncApplied)
				if m.CartID == s.target.ID() {
					s.target.Reconcile(server)
				}
				continue
			}
		}

		var rejection *RejectedError
		if errors.As(err, &rejection) {
			s.pop(m)
			s.metrics.ObserveSync(metrics.SyncRejected)
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"cart_id":    m.CartID,
				"line":       string(m.Key()),
				"quantity":   m.Quantity,
				"error_code": rejection.Code,
			})
			if m.CartID != s.target.ID() {
				// the store moved to another cart while this one was in flight
				s.logg.Info(logCtx, "rejected mutation for superseded cart ignored")
				continue
			}
			rejected = true
			s.target.SetSyncError(true)
			s.logg.Warn(logCtx, "cart mutation rejected by server")
			s.revert(ctx, m)
			if s.onReject != nil {
				s.onReject(Rejection{Mutation: m, Err: rejection})
			}
			continue
		}

		s.metrics.ObserveSync(metrics.SyncFailed)
		s.target.SetSyncError(true)
		s.endFlush()
		syncErr := &SyncError{Mutation: m, Err: err}
		s.logg.Error(s.logg.WithCartID(ctx, m.CartID), "cart sync failed", syncErr)
		return syncErr
	}

	if drained && !rejected {
		s.target.SetSyncError(false)
	}
	return nil
}

// AdoptCart drops queued mutations addressed to any cart other than cartID,
// including ones recorded before a server cart existed.
func (s *Syncer) AdoptCart(cartID string) {
	s.mu.Lock()
	kept := make([]cartstore.Mutation, 0, len(s.queue))
	for _, m := range s.queue {
		if m.CartID == cartID {
			kept = append(kept, m)
		}
	}
	dropped := len(s.queue) - len(kept)
	s.queue = kept
	s.metrics.SetQueueDepth(len(kept))
	s.mu.Unlock()

	if dropped > 0 {
		ctx := s.logg.WithField(s.logg.WithCartID(s.ctx, cartID), "dropped", dropped)
		s.logg.Info(ctx, "superseded cart mutations dropped")
	}
}

// revert restores the rejected line to what the server holds. A later queued
// mutation for the same line supersedes the revert.
func (s *Syncer) revert(ctx context.Context, m cartstore.Mutation) {
	key := m.Key()
	s.mu.Lock()
	for _, queued := range s.queue {
		if queued.Key() == key && queued.CartID == m.CartID {
			s.mu.Unlock()
			return
		}
	}
	s.mu.Unlock()

	server, err := s.persister.GetCart(ctx, m.CartID)
	if err != nil {
		logCtx := s.logg.WithField(s.logg.WithCartID(ctx, m.CartID), "line", string(key))
		s.logg.Error(logCtx, "read back cart after rejection", err)
		return
	}
	var remote *cartstore.Line
	for i := range server.Items {
		if server.Items[i].Key() == key {
			remote = &server.Items[i]
			break
		}
	}
	s.target.Revert(key, remote)
}

// bindCart fills in the cart id for mutations recorded before the server cart
// existed, creating it on first use.
func (s *Syncer) bindCart(ctx context.Context, m cartstore.Mutation) (cartstore.Mutation, error) {
	if m.CartID != "" {
		return m, nil
	}
	id := s.target.ID()
	if id == "" {
		created, err := s.persister.CreateCart(ctx)
		if err != nil {
			return m, err
		}
		id = created.ID
		s.target.SetID(id)
		s.logg.Info(s.logg.WithCartID(ctx, id), "server cart created")
	}
	m.CartID = id
	return m, nil
}

func (s *Syncer) endFlush() {
	s.mu.Lock()
	s.flushing = false
	s.mu.Unlock()
}

func (s *Syncer) pop(m cartstore.Mutation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 && s.queue[0].Seq == m.Seq {
		s.queue = s.queue[1:]
	}
	s.metrics.SetQueueDepth(len(s.queue))
}
