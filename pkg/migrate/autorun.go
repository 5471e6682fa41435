package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/afm-storefront/pkg/config"
	"github.com/angelmondragon/afm-storefront/pkg/db"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
)

// autoRunReason explains why binaries should migrate on boot, or returns ""
// when they should not. SQLite files are local and always brought up to
// date; Postgres only in dev with AFM_AUTO_MIGRATE.
func autoRunReason(cfg *config.Config) string {
	switch {
	case cfg.DB.IsSQLite():
		return "sqlite"
	case cfg.App.IsDev() && cfg.FeatureFlags.AutoMigrate:
		return "dev auto-migrate"
	}
	return ""
}

// MaybeRunDev applies the embedded migrations for the configured driver when
// autoRunReason allows it.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	reason := autoRunReason(cfg)
	if reason == "" {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extract sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"driver": cfg.DB.Driver, "reason": reason})
	started := time.Now()
	if err := Run(ctx, sqlDB, Source{Driver: cfg.DB.Driver}, "up"); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	logg.Info(logg.WithField(ctx, "elapsed_ms", time.Since(started).Milliseconds()), "schema migrated on boot")
	return nil
}
