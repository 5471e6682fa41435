package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strings"
)

var (
	sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
)

// ValidateDir validates migration filenames + basic SQL headers on disk.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	return validateFS(os.DirFS(dir), ".")
}

// ValidateEmbedded checks both compiled-in migration sets and that they
// carry the same versions.
func ValidateEmbedded() error {
	pg, err := versions(embedded, Source{Driver: "postgres"}.embeddedDir())
	if err != nil {
		return err
	}
	lite, err := versions(embedded, Source{Driver: "sqlite"}.embeddedDir())
	if err != nil {
		return err
	}
	for v, name := range pg {
		if _, ok := lite[v]; !ok {
			return fmt.Errorf("postgres migration %q has no sqlite counterpart", name)
		}
	}
	for v, name := range lite {
		if _, ok := pg[v]; !ok {
			return fmt.Errorf("sqlite migration %q has no postgres counterpart", name)
		}
	}
	return nil
}

func validateFS(fsys fs.FS, dir string) error {
	_, err := versions(fsys, dir)
	return err
}

// versions maps migration version to filename after checking each file.
func versions(fsys fs.FS, dir string) (map[string]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	seen := map[string]string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}

		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}

		version := m[1]
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate migration version %s in %q and %q", version, prev, name)
		}
		seen[version] = name

		b, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read file %q: %w", name, err)
		}

		txt := string(b)
		if !strings.Contains(txt, "-- +goose Up") {
			return nil, fmt.Errorf("migration %q missing \"-- +goose Up\"", name)
		}
		if !strings.Contains(txt, "-- +goose Down") {
			return nil, fmt.Errorf("migration %q missing \"-- +goose Down\"", name)
		}
	}
	return seen, nil
}
