package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// migrationTemplate bounds lock waits: checkout and settlement write to
// orders continuously, so a DDL stuck behind them should fail fast.
const migrationTemplate = `-- +goose Up
-- +goose StatementBegin
SET LOCAL lock_timeout = '5s';
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
SET LOCAL lock_timeout = '5s';
-- revert %[1]s
-- +goose StatementEnd
`

// CreateSQLMigration scaffolds <dir>/<version>_<slug>.sql and returns its
// path. See createSQLMigration for how the version is chosen.
func CreateSQLMigration(dir, name string) (string, error) {
	return createSQLMigration(dir, name, time.Now().UTC())
}

// createSQLMigration stamps the file with now, moved past the newest
// version already in dir so ordering survives clock skew between authors.
// Reusing a slug is refused.
func createSQLMigration(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	latest, err := latestVersion(dir, slug)
	if err != nil {
		return "", err
	}
	version := now.UTC().Truncate(time.Second)
	if !version.After(latest) {
		version = latest.Add(time.Second)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", version.Format(versionLayout), slug))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration %q: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, migrationTemplate, slug); err != nil {
		return "", fmt.Errorf("write migration %q: %w", path, err)
	}
	return path, nil
}

// latestVersion returns the newest version in dir, or the zero time for an
// empty directory. It fails if slug is already taken.
func latestVersion(dir, slug string) (time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, fmt.Errorf("read dir %q: %w", dir, err)
	}
	var latest time.Time
	for _, e := range entries {
		m := sqlFileRe.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		if m[2] == slug {
			return time.Time{}, fmt.Errorf("migration %q already exists as %s", slug, e.Name())
		}
		v, err := time.Parse(versionLayout, m[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("migration %s: bad version: %w", e.Name(), err)
		}
		if v.After(latest) {
			latest = v
		}
	}
	return latest, nil
}
