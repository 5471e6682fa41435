package cartsync

import (
	"context"
	"time"

	"github.com/angelmondragon/afm-storefront/pkg/logger"
)

// Prober checks whether the server is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Ping(ctx context.Context) error { return f(ctx) }

// ConnectivityListener receives connectivity transitions.
type ConnectivityListener interface {
	SetOnline(online bool)
}

// Monitor polls a Prober and reports every result to the listener; the
// listener is expected to ignore repeats.
type Monitor struct {
	prober   Prober
	listener ConnectivityListener
	interval time.Duration
	timeout  time.Duration
	logg     *logger.Logger
}

func NewMonitor(prober Prober, listener ConnectivityListener, interval time.Duration, logg *logger.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := interval / 2
	if timeout > 3*time.Second {
		timeout = 3 * time.Second
	}
	return &Monitor{
		prober:   prober,
		listener: listener,
		interval: interval,
		timeout:  timeout,
		logg:     logg,
	}
}

// Check runs one probe and forwards the result.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.prober.Ping(probeCtx)
	online := err == nil
	if err != nil && m.logg != nil && ctx.Err() == nil {
		m.logg.Debug(m.logg.WithField(ctx, "error", err.Error()), "connectivity probe failed")
	}
	if ctx.Err() == nil {
		m.listener.SetOnline(online)
	}
	return online
}

// Run probes until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
