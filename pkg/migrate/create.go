package migrate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var unsafeNameRe = regexp.MustCompile(`[^a-z0-9]+`)

var dialectDirs = []string{"postgres", "sqlite"}

// CreateSQLMigration writes an empty goose migration with the same version
// into the postgres and sqlite subdirectories of root and returns both paths.
func CreateSQLMigration(root, name string) ([]string, error) {
	return createPair(root, name, time.Now().UTC())
}

func createPair(root, name string, now time.Time) ([]string, error) {
	if root == "" {
		return nil, errors.New("migrations root is required")
	}
	slug := slugify(name)
	if slug == "" {
		return nil, fmt.Errorf("migration name %q has no usable characters", name)
	}

	filename := now.Format(versionLayout) + "_" + slug + ".sql"
	paths := make([]string, 0, len(dialectDirs))
	for _, dialect := range dialectDirs {
		dir := filepath.Join(root, dialect)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
		full := filepath.Join(dir, filename)
		if _, err := os.Stat(full); err == nil {
			return nil, fmt.Errorf("migration %s already exists", full)
		}
		paths = append(paths, full)
	}

	body := migrationTemplate(slug)
	for _, full := range paths {
		if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", full, err)
		}
	}
	return paths, nil
}

func slugify(name string) string {
	s := unsafeNameRe.ReplaceAllString(strings.ToLower(name), "_")
	return strings.Trim(s, "_")
}

func migrationTemplate(slug string) string {
	var b strings.Builder
	b.WriteString("-- +goose Up\n-- +goose StatementBegin\n")
	fmt.Fprintf(&b, "-- apply %s\n", slug)
	b.WriteString("-- +goose StatementEnd\n\n-- +goose Down\n-- +goose StatementBegin\n")
	fmt.Fprintf(&b, "-- revert %s\n", slug)
	b.WriteString("-- +goose StatementEnd\n")
	return b.String()
}
