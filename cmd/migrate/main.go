package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/afm-storefront/pkg/config"
	"github.com/angelmondragon/afm-storefront/pkg/db"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
	"github.com/angelmondragon/afm-storefront/pkg/migrate"
)

const serviceName = "migrate"

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

// command is one -cmd value. Offline commands never open the database.
type command struct {
	offline bool
	run     func(ctx context.Context, opts options, sqlDB *sql.DB, src migrate.Source) error
}

var commands = map[string]command{
	"up":     {run: gooseCommand("up")},
	"down":   {run: gooseCommand("down")},
	"redo":   {run: gooseCommand("redo")},
	"status": {run: gooseCommand("status")},
	"version": {run: func(ctx context.Context, opts options, sqlDB *sql.DB, src migrate.Source) error {
		if opts.version == "" {
			return errors.New("missing -version (YYYYMMDDHHMMSS)")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, src, opts.version)
	}},
	"create": {offline: true, run: func(_ context.Context, opts options, _ *sql.DB, _ migrate.Source) error {
		if opts.name == "" {
			return errors.New("missing -name")
		}
		root := opts.dir
		if root == "" {
			root = migrate.DefaultDir
		}
		paths, err := migrate.CreateSQLMigration(root, opts.name)
		for _, p := range paths {
			fmt.Println("created", p)
		}
		return err
	}},
	"validate": {offline: true, run: func(_ context.Context, opts options, _ *sql.DB, _ migrate.Source) error {
		if opts.dir != "" {
			return migrate.ValidateDir(opts.dir)
		}
		return migrate.ValidateEmbedded()
	}},
}

func gooseCommand(name string) func(context.Context, options, *sql.DB, migrate.Source) error {
	return func(ctx context.Context, _ options, sqlDB *sql.DB, src migrate.Source) error {
		return migrate.Run(ctx, sqlDB, src, name)
	}
}

func commandNames() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return strings.Join(names, "|")
}

func main() {
	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "migration command: "+commandNames())
	flag.StringVar(&opts.dir, "dir", "", "migration directory; create expects the root holding postgres/ and sqlite/ (default: compiled-in set)")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target version for -cmd=version")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":    cfg.App.Env,
		"cmd":    opts.cmd,
		"dir":    opts.dir,
		"driver": cfg.DB.Driver,
	})
	if err := run(ctx, cfg, logg, opts); err != nil {
		logg.Error(ctx, "migration command failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migration command finished")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, opts options) (err error) {
	cmd, ok := commands[opts.cmd]
	if !ok {
		return fmt.Errorf("unknown -cmd %q (want %s)", opts.cmd, commandNames())
	}
	if cmd.offline {
		return cmd.run(ctx, opts, nil, migrate.Source{})
	}

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { err = multierr.Append(err, client.Close()) }()

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extract sql.DB: %w", err)
	}
	return cmd.run(ctx, opts, sqlDB, migrate.Source{Driver: cfg.DB.Driver, Dir: opts.dir})
}
