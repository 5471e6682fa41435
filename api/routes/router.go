package routes

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/afm-storefront/api/controllers"
	cartcontrollers "github.com/angelmondragon/afm-storefront/api/controllers/cart"
	ordercontrollers "github.com/angelmondragon/afm-storefront/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/afm-storefront/api/controllers/webhooks"
	"github.com/angelmondragon/afm-storefront/api/middleware"
	"github.com/angelmondragon/afm-storefront/internal/cart"
	"github.com/angelmondragon/afm-storefront/internal/catalog"
	"github.com/angelmondragon/afm-storefront/internal/customers"
	"github.com/angelmondragon/afm-storefront/internal/orders"
	"github.com/angelmondragon/afm-storefront/pkg/config"
	"github.com/angelmondragon/afm-storefront/pkg/enums"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
	"github.com/angelmondragon/afm-storefront/pkg/redis"
	"github.com/angelmondragon/afm-storefront/pkg/telemetry"
)

type redisStore interface {
	redis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Deps carries everything the HTTP surface needs. Nil services answer with
// an internal error instead of panicking.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	Sessions middleware.SessionChecker
	Redis    redisStore
	Gatherer prometheus.Gatherer
	Reporter *telemetry.Reporter
	Ready    map[string]controllers.Pinger

	Customers    customers.Service
	Catalog      catalog.Service
	Carts        cart.Service
	Orders       orders.Service
	Checkout     controllers.CheckoutStarter
	Payments     webhookcontrollers.PaymentEventHandler
	StripeEvents webhookEventParser
	EventGuard   webhookcontrollers.EventLedger
	DeadLetters  controllers.DeadLetters
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		d.Reporter.Middleware(),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	requireAuth := middleware.Auth(cfg.JWT, d.Sessions, logg)
	shopperAuth := middleware.OptionalAuth(cfg.JWT, d.Sessions, logg)
	if !cfg.FeatureFlags.GuestCarts {
		shopperAuth = requireAuth
	}
	idempotent := middleware.Idempotency(d.Redis, logg, middleware.IdempotencyTTL)
	idempotentCritical := middleware.Idempotency(d.Redis, logg, middleware.CriticalIdempotencyTTL)

	limits := cfg.RateLimit
	loginLimit := middleware.RateLimit(middleware.LoginPolicy("login", limits.LoginWindow, limits.LoginIPLimit, limits.LoginEmailLimit), d.Redis, logg)
	registerLimit := middleware.RateLimit(middleware.LoginPolicy("register", limits.RegisterWindow, limits.RegisterIPLimit, limits.RegisterEmailLimit), d.Redis, logg)
	checkoutLimit := middleware.RateLimit(middleware.CheckoutPolicy(limits.CheckoutWindow, limits.CheckoutIPLimit, limits.CheckoutCartLimit), d.Redis, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, d.Ready))
	})
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", controllers.Metrics(d.Gatherer))
	}
	mountLocalMedia(r, cfg.Storage)

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(d.Payments, d.StripeEvents, d.EventGuard, logg))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(loginLimit).Post("/login", controllers.AuthLogin(d.Customers, logg))
		r.With(registerLimit, idempotent).Post("/register", controllers.AuthRegister(d.Customers, logg))
		r.Post("/refresh", controllers.AuthRefresh(d.Customers, logg))
		r.With(requireAuth).Post("/logout", controllers.AuthLogout(d.Customers, logg))
		r.With(requireAuth).Get("/me", controllers.AuthMe(d.Customers, logg))
	})

	r.Route("/api/v1/products", func(r chi.Router) {
		r.Get("/", controllers.ProductList(d.Catalog, logg))
		r.Get("/{ref}", controllers.ProductDetail(d.Catalog, logg))
	})

	r.Route("/api/v1/carts", func(r chi.Router) {
		r.With(requireAuth).Get("/me", cartcontrollers.CartActive(d.Carts, logg))
		r.Group(func(r chi.Router) {
			r.Use(shopperAuth)
			r.Post("/", cartcontrollers.CartCreate(d.Carts, logg))
			r.Get("/{cartId}", cartcontrollers.CartFetch(d.Carts, logg))
			r.Put("/{cartId}/lines", cartcontrollers.CartSetLine(d.Carts, logg))
			r.Delete("/{cartId}/lines", cartcontrollers.CartRemoveLine(d.Carts, logg))
			r.Post("/{cartId}/clear", cartcontrollers.CartClear(d.Carts, logg))
		})
		r.With(requireAuth).Post("/{cartId}/claim", cartcontrollers.CartClaim(d.Carts, logg))
	})

	r.With(shopperAuth, checkoutLimit, idempotentCritical).Post("/api/v1/checkout", controllers.Checkout(d.Checkout, logg))

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Post("/lookup", ordercontrollers.Lookup(d.Orders, logg))
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/", ordercontrollers.List(d.Orders, logg))
			r.Get("/{number}", ordercontrollers.Detail(d.Orders, logg))
			r.With(idempotentCritical).Post("/{number}/cancel", ordercontrollers.Cancel(d.Orders, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(requireAuth, middleware.RequireRole(logg, enums.CustomerRoleAdmin))

		r.Route("/products", func(r chi.Router) {
			r.Get("/", controllers.AdminProductList(d.Catalog, logg))
			r.With(idempotent).Post("/", controllers.AdminCreateProduct(d.Catalog, logg))
			r.With(idempotent).Patch("/{productId}", controllers.AdminUpdateProduct(d.Catalog, logg))
			r.With(idempotent).Post("/{productId}/media", controllers.AdminUploadMedia(d.Catalog, cfg.Storage.MaxUpload, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.AdminList(d.Orders, logg))
			r.Get("/{number}", ordercontrollers.AdminDetail(d.Orders, logg))
			r.With(idempotent).Post("/{number}/fulfil", ordercontrollers.AdminFulfil(d.Orders, logg))
			r.With(idempotent).Post("/{number}/cancel", ordercontrollers.AdminCancel(d.Orders, logg))
		})

		r.Route("/outbox/dlq", func(r chi.Router) {
			r.Get("/", controllers.AdminDeadLetters(d.DeadLetters, logg))
			r.With(idempotent).Post("/{eventId}/replay", controllers.AdminReplayDeadLetter(d.DeadLetters, logg))
		})
	})

	return r
}

// mountLocalMedia serves uploaded product media when files live on local disk.
func mountLocalMedia(r chi.Router, cfg config.StorageConfig) {
	if !strings.EqualFold(cfg.Provider, "local") || !strings.HasPrefix(cfg.LocalURL, "/") {
		return
	}
	prefix := strings.TrimSuffix(cfg.LocalURL, "/")
	fs := http.StripPrefix(prefix+"/", http.FileServer(http.Dir(cfg.LocalDir)))
	r.Method(http.MethodGet, prefix+"/*", fs)
}
