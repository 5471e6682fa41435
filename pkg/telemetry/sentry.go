package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/angelmondragon/afm-storefront/pkg/config"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
)

const flushTimeout = 2 * time.Second

// Reporter forwards unrecoverable errors to Sentry. A Reporter built without a
// DSN, or a nil Reporter, drops everything.
type Reporter struct {
	hub *sentry.Hub
}

// Options tweaks client construction; BeforeSend is mainly for tests.
type Options struct {
	Release    string
	BeforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event
}

func New(ctx context.Context, cfg config.SentryConfig, appEnv string, logg *logger.Logger, opts ...Options) (*Reporter, error) {
	if cfg.DSN == "" {
		if logg != nil {
			logg.Info(ctx, "sentry disabled: no DSN configured")
		}
		return &Reporter{}, nil
	}

	env := cfg.Environment
	if env == "" {
		env = appEnv
	}
	clientOpts := sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      env,
		SampleRate:       1.0,
		TracesSampleRate: cfg.TracesSampleRate,
	}
	for _, opt := range opts {
		if opt.Release != "" {
			clientOpts.Release = opt.Release
		}
		if opt.BeforeSend != nil {
			clientOpts.BeforeSend = opt.BeforeSend
		}
	}

	client, err := sentry.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "sentry_env", env), "sentry initialized")
	}
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Enabled reports whether events are forwarded.
func (r *Reporter) Enabled() bool {
	return r != nil && r.hub != nil
}

// Capture reports err with tags and extras. Request-scoped hubs set by
// Middleware take precedence over the reporter hub.
func (r *Reporter) Capture(ctx context.Context, err error, tags map[string]string, extras map[string]any) {
	if !r.Enabled() || err == nil {
		return
	}
	hub := r.hubFor(ctx)
	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		for k, v := range extras {
			scope.SetExtra(k, v)
		}
		hub.CaptureException(err)
	})
}

// Middleware attaches a per-request hub and reports panics before re-raising
// them for the router's recoverer.
func (r *Reporter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !r.Enabled() {
				next.ServeHTTP(w, req)
				return
			}
			hub := r.hub.Clone()
			hub.Scope().SetRequest(req)
			ctx := sentry.SetHubOnContext(req.Context(), hub)
			defer func() {
				if rec := recover(); rec != nil {
					hub.RecoverWithContext(ctx, rec)
					hub.Flush(flushTimeout)
					panic(rec)
				}
			}()
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

// Flush waits for buffered events; call on shutdown.
func (r *Reporter) Flush() bool {
	if !r.Enabled() {
		return true
	}
	return r.hub.Flush(flushTimeout)
}

func (r *Reporter) hubFor(ctx context.Context) *sentry.Hub {
	if ctx != nil {
		if hub := sentry.GetHubFromContext(ctx); hub != nil {
			return hub
		}
	}
	return r.hub
}
