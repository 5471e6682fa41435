package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/afm-storefront/api/controllers"
	"github.com/angelmondragon/afm-storefront/api/routes"
	"github.com/angelmondragon/afm-storefront/internal/cart"
	"github.com/angelmondragon/afm-storefront/internal/catalog"
	"github.com/angelmondragon/afm-storefront/internal/checkout"
	"github.com/angelmondragon/afm-storefront/internal/customers"
	"github.com/angelmondragon/afm-storefront/internal/orders"
	"github.com/angelmondragon/afm-storefront/pkg/auth/session"
	"github.com/angelmondragon/afm-storefront/pkg/config"
	"github.com/angelmondragon/afm-storefront/pkg/db"
	"github.com/angelmondragon/afm-storefront/pkg/instance"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
	"github.com/angelmondragon/afm-storefront/pkg/metrics"
	"github.com/angelmondragon/afm-storefront/pkg/migrate"
	"github.com/angelmondragon/afm-storefront/pkg/outbox"
	"github.com/angelmondragon/afm-storefront/pkg/outbox/idempotency"
	"github.com/angelmondragon/afm-storefront/pkg/redis"
	"github.com/angelmondragon/afm-storefront/pkg/storage"
	"github.com/angelmondragon/afm-storefront/pkg/stripe"
	"github.com/angelmondragon/afm-storefront/pkg/telemetry"
)

const (
	serviceName       = "api"
	webhookDedupeTTL  = 72 * time.Hour
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	bootCtx := context.Background()

	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		return err
	}

	reporter, err := telemetry.New(bootCtx, cfg.Sentry, cfg.App.Env, logg)
	if err != nil {
		return err
	}
	defer reporter.Flush()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := storage.New(bootCtx, cfg.Storage, logg)
	if err != nil {
		return err
	}

	stripeClient, err := stripe.NewClient(bootCtx, cfg.Stripe, logg)
	if err != nil {
		return err
	}
	payments, err := stripe.NewPayments(stripeClient)
	if err != nil {
		return err
	}

	catalogRepo := catalog.NewRepository(dbClient.DB())
	catalogService, err := catalog.NewService(catalog.ServiceParams{
		Repo:      catalogRepo,
		DB:        dbClient,
		Storage:   store,
		Logger:    logg,
		Currency:  cfg.Cart.Currency,
		Locale:    cfg.Cart.Locale,
		MaxUpload: cfg.Storage.MaxUpload,
	})
	if err != nil {
		return err
	}

	cartService, err := cart.NewService(cart.ServiceParams{
		Repo:       cart.NewRepository(dbClient.DB()),
		DB:         dbClient,
		Catalog:    catalogService,
		Cache:      cart.NewSnapshotCache(redisClient, cfg.Cart.CacheTTL, logg),
		Logger:     logg,
		Metrics:    metrics.NewCartMetrics(registry),
		Config:     cfg.Cart,
		GuestCarts: cfg.FeatureFlags.GuestCarts,
	})
	if err != nil {
		return err
	}

	customerService, err := customers.NewService(customers.ServiceParams{
		Repo:           customers.NewRepository(dbClient.DB()),
		SessionManager: sessionManager,
		Carts:          cartService,
		Logger:         logg,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		return err
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	orderRepo := orders.NewRepository(dbClient.DB())
	orderService, err := orders.NewService(orders.ServiceParams{
		Repo:   orderRepo,
		DB:     dbClient,
		Outbox: outboxService,
		Logger: logg,
		Locale: cfg.Cart.Locale,
	})
	if err != nil {
		return err
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Orders:    orderRepo,
		Carts:     cartService,
		Inventory: catalogRepo,
		Payments:  payments,
		Outbox:    outboxService,
		DB:        dbClient,
		Guard:     checkout.NewConfirmationGuard(),
		Logger:    logg,
		Metrics:   metrics.NewCheckoutMetrics(registry),
		Reporter:  reporter,
		Locale:    cfg.Cart.Locale,
	})
	if err != nil {
		return err
	}

	eventGuard, err := idempotency.NewLedger(redisClient, webhookDedupeTTL, idempotency.DefaultClaimTTL)
	if err != nil {
		return err
	}

	handler := routes.NewRouter(routes.Deps{
		Config:   cfg,
		Logger:   logg,
		Sessions: sessionManager,
		Redis:    redisClient,
		Gatherer: registry,
		Reporter: reporter,
		Ready: map[string]controllers.Pinger{
			"db":      dbClient,
			"redis":   redisClient,
			"storage": store,
		},
		Customers:    customerService,
		Catalog:      catalogService,
		Carts:        cartService,
		Orders:       orderService,
		Checkout:     checkoutService,
		Payments:     checkoutService,
		StripeEvents: stripeClient,
		EventGuard:   eventGuard,
		DeadLetters:  outbox.NewDLQRepository(dbClient.DB()),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logg.Info(ctx, "api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-serveErr
}
