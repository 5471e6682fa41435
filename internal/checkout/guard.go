package checkout

import (
	"context"
	"sync"
)

// ConfirmationGuard allows at most one outstanding payment confirmation per
// cart.
type ConfirmationGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewConfirmationGuard() *ConfirmationGuard {
	return &ConfirmationGuard{inFlight: make(map[string]struct{})}
}

// Confirm runs fn unless a confirmation for cartID is already running, in
// which case it returns ErrConfirmationInFlight. A caller that gives up before
// fn starts gets ctx.Err() and fn never runs. Once fn starts it sees a context
// detached from ctx's cancellation and Confirm waits for its result.
func (g *ConfirmationGuard) Confirm(ctx context.Context, cartID string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	if _, busy := g.inFlight[cartID]; busy {
		g.mu.Unlock()
		return ErrConfirmationInFlight
	}
	g.inFlight[cartID] = struct{}{}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.inFlight, cartID)
		g.mu.Unlock()
	}()
	return fn(context.WithoutCancel(ctx))
}

// InFlight reports whether a confirmation for cartID is outstanding.
func (g *ConfirmationGuard) InFlight(cartID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.inFlight[cartID]
	return busy
}
