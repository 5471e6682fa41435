package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/afm-storefront/internal/cart"
	"github.com/angelmondragon/afm-storefront/internal/cron"
	"github.com/angelmondragon/afm-storefront/internal/orders"
	"github.com/angelmondragon/afm-storefront/pkg/config"
	"github.com/angelmondragon/afm-storefront/pkg/db"
	"github.com/angelmondragon/afm-storefront/pkg/instance"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
	"github.com/angelmondragon/afm-storefront/pkg/metrics"
	"github.com/angelmondragon/afm-storefront/pkg/migrate"
	"github.com/angelmondragon/afm-storefront/pkg/outbox"
	"github.com/angelmondragon/afm-storefront/pkg/redis"
	"github.com/angelmondragon/afm-storefront/pkg/stripe"
)

const serviceName = "cron-worker"

type options struct {
	once bool
	jobs []string
}

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	only := flag.String("jobs", "", "comma-separated job names to run (default: all)")
	flag.Parse()

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

	opts := options{once: *once}
	for _, name := range strings.Split(*only, ",") {
		if name = strings.TrimSpace(name); name != "" {
			opts.jobs = append(opts.jobs, name)
		}
	}

	if err := run(cfg, logg, opts); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(context.Background(), "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger, opts options) (err error) {
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

	registry, err := buildJobs(bootCtx, cfg, logg, dbClient, redisClient)
	if err != nil {
		return err
	}

	if len(opts.jobs) > 0 {
		if registry, err = registry.Select(opts.jobs...); err != nil {
			return err
		}
	}

	lock, err := cron.NewLease(redisClient, cron.LeaseName(cfg.App.Env), 0)
	if err != nil {
		return err
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewWorkerMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"instance":    instance.GetID(),
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Cron.Interval.String(),
	})
	if opts.once {
		logg.Info(ctx, "running single cron cycle")
		return service.RunOnce(ctx)
	}
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
	return nil
}

func buildJobs(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*cron.Registry, error) {
	outboxRepo := outbox.NewRepository(dbClient.DB())

	expiryParams := cron.OrderExpiryJobParams{
		Logger:    logg,
		DB:        dbClient,
		Orders:    orders.NewRepository(dbClient.DB()),
		Outbox:    outbox.NewService(outboxRepo, logg),
		TTL:       cfg.Cron.PendingOrderTTL,
		BatchSize: cfg.Cron.BatchSize,
	}
	if stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg); err != nil {
		logg.Warn(ctx, "stripe not configured; expired payment intents will not be cancelled: "+err.Error())
	} else if payments, err := stripe.NewPayments(stripeClient); err == nil {
		expiryParams.Payments = payments
	}
	orderExpiry, err := cron.NewOrderExpiryJob(expiryParams)
	if err != nil {
		return nil, err
	}

	guestCarts, err := cron.NewGuestCartJob(cron.GuestCartJobParams{
		Logger:    logg,
		Carts:     cart.NewRepository(dbClient.DB()),
		Cache:     cart.NewSnapshotCache(redisClient, cfg.Cart.CacheTTL, logg),
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:         logg,
		DB:             dbClient,
		Outbox:         outboxRepo,
		DeadLetters:    outbox.NewDLQRepository(dbClient.DB()),
		PublishedDays:  cfg.Cron.OutboxRetentionDays,
		DeadLetterDays: cfg.Cron.DLQRetentionDays,
		BatchSize:      cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	return cron.NewRegistry(orderExpiry, guestCarts, outboxRetention), nil
}
