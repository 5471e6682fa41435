package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/afm-storefront/pkg/config"
)

// DefaultDir is the root holding one migration directory per dialect.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var embedded embed.FS

// Source names a migration set. An empty Dir selects the migrations compiled
// into the binary for the driver.
type Source struct {
	Driver string
	Dir    string
}

func (s Source) dialect() string {
	if strings.EqualFold(strings.TrimSpace(s.Driver), config.DBDriverSQLite) {
		return "sqlite3"
	}
	return "postgres"
}

func (s Source) embeddedDir() string {
	if s.dialect() == "sqlite3" {
		return "migrations/sqlite"
	}
	return "migrations/postgres"
}

// configure points goose at the source and returns the directory to read.
func (s Source) configure() (string, error) {
	if err := goose.SetDialect(s.dialect()); err != nil {
		return "", fmt.Errorf("set goose dialect: %w", err)
	}
	if s.Dir == "" {
		goose.SetBaseFS(embedded)
		return s.embeddedDir(), nil
	}
	goose.SetBaseFS(nil)
	return s.Dir, nil
}

// Embedded lists the compiled-in migration filenames for the driver.
func Embedded(driver string) ([]string, error) {
	src := Source{Driver: driver}
	entries, err := fs.ReadDir(embedded, src.embeddedDir())
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Run executes a standard goose command that requires a DB connection.
func Run(ctx context.Context, db *sql.DB, src Source, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	dir, err := src.configure()
	if err != nil {
		return err
	}

	// RunContext prints status output to stdout (goose internal)
	if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// MigrateToVersion migrates up/down to the requested version by comparing current DB version.
func MigrateToVersion(ctx context.Context, db *sql.DB, src Source, targetVersion string) error {
	if targetVersion == "" {
		return fmt.Errorf("targetVersion is required")
	}

	dir, err := src.configure()
	if err != nil {
		return err
	}

	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}

	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current == target:
		return nil

	case current < target:
		if err := goose.UpToContext(ctx, db, dir, target); err != nil {
			return fmt.Errorf("goose up-to %d: %w", target, err)
		}
		return nil

	default:
		if err := goose.DownToContext(ctx, db, dir, target); err != nil {
			return fmt.Errorf("goose down-to %d: %w", target, err)
		}
		return nil
	}
}
