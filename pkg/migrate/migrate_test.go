package migrate

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/afm-storefront/pkg/config"
)

func TestEmbeddedSetsAreValidAndAligned(t *testing.T) {
	if err := ValidateEmbedded(); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
	pg, err := Embedded("postgres")
	if err != nil {
		t.Fatalf("list postgres migrations: %v", err)
	}
	if len(pg) == 0 {
		t.Fatal("expected embedded postgres migrations")
	}
}

func TestOutboxMigrationDedupesOneShotEvents(t *testing.T) {
	for _, driver := range []string{"postgres", "sqlite"} {
		src := Source{Driver: driver}
		data, err := fs.ReadFile(embedded, path.Join(src.embeddedDir(), "20260301090400_create_outbox.sql"))
		if err != nil {
			t.Fatalf("%s: read outbox migration: %v", driver, err)
		}
		content := string(data)
		for _, want := range []string{
			"CREATE UNIQUE INDEX IF NOT EXISTS ux_outbox_events_event_aggregate",
			"'order_paid'",
			"'cart_converted'",
		} {
			if !strings.Contains(content, want) {
				t.Errorf("%s: missing %q", driver, want)
			}
		}
		if strings.Contains(content, "'order_payment_failed'") {
			t.Errorf("%s: payment failures may repeat and must not be deduplicated", driver)
		}
	}
}

func TestSQLiteMigrationsApplyAndRollBack(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	ctx := context.Background()
	src := Source{Driver: "sqlite"}

	if err := Run(ctx, sqlDB, src, "up"); err != nil {
		t.Fatalf("up: %v", err)
	}
	for _, table := range []string{"customers", "products", "carts", "cart_lines", "orders", "order_lines", "outbox_events"} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("expected table %s after up", table)
		}
	}

	if err := MigrateToVersion(ctx, sqlDB, src, "20260301090200"); err != nil {
		t.Fatalf("down to carts: %v", err)
	}
	if conn.Migrator().HasTable("orders") {
		t.Fatal("expected orders table to be dropped")
	}
	if !conn.Migrator().HasTable("carts") {
		t.Fatal("expected carts table to remain")
	}
}

func TestCreateSQLMigrationWritesBothDialects(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	paths, err := createPair(root, "  Add Gift-Cards! ", now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected two files, got %v", paths)
	}
	for _, full := range paths {
		if path.Base(filepath.ToSlash(full)) != "20260304050607_add_gift_cards.sql" {
			t.Fatalf("unexpected filename %q", full)
		}
		if err := ValidateDir(filepath.Dir(full)); err != nil {
			t.Fatalf("validate created migration: %v", err)
		}
	}

	if _, err := createPair(root, "add gift cards", now); err == nil {
		t.Fatal("expected a clash on the same version")
	}
	if _, err := createPair(root, "!!!", now); err == nil {
		t.Fatal("expected an error for an empty slug")
	}
}

func TestAutoRunReason(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"sqlite always", config.Config{DB: config.DBConfig{Driver: config.DBDriverSQLite}, App: config.AppConfig{Env: config.AppEnvProd}}, "sqlite"},
		{"postgres dev with flag", config.Config{DB: config.DBConfig{Driver: "postgres"}, App: config.AppConfig{Env: config.AppEnvDev}, FeatureFlags: config.FeatureFlagsConfig{AutoMigrate: true}}, "dev auto-migrate"},
		{"postgres dev without flag", config.Config{DB: config.DBConfig{Driver: "postgres"}, App: config.AppConfig{Env: config.AppEnvDev}}, ""},
		{"postgres prod with flag", config.Config{DB: config.DBConfig{Driver: "postgres"}, App: config.AppConfig{Env: config.AppEnvProd}, FeatureFlags: config.FeatureFlagsConfig{AutoMigrate: true}}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := autoRunReason(&tc.cfg); got != tc.want {
				t.Fatalf("autoRunReason = %q, want %q", got, tc.want)
			}
		})
	}
}
