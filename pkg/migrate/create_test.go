package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSQLMigrationOrdersAfterNewestVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20300101000000_create_orders_tables.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))

	// Author clock behind the newest committed migration.
	path, err := createSQLMigration(dir, "Add refund columns", time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "20300101000001_add_refund_columns.sql", filepath.Base(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "SET LOCAL lock_timeout = '5s';")
	assert.Contains(t, string(content), "-- revert add_refund_columns")
	require.NoError(t, ValidateDir(dir))
}

func TestCreateSQLMigrationUsesClockWhenAhead(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 15, 7, 30, 12, 999, time.FixedZone("ICT", 7*3600))

	path, err := createSQLMigration(dir, "index orders by user", now)
	require.NoError(t, err)
	assert.Equal(t, "20261015003012_index_orders_by_user.sql", filepath.Base(path))
}

func TestCreateSQLMigrationRefusesReusedSlug(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := createSQLMigration(dir, "add_paid_index", now)
	require.NoError(t, err)

	_, err = createSQLMigration(dir, "Add Paid Index", now.Add(time.Hour))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "already exists"))

	_, err = createSQLMigration(dir, "!!!", now)
	assert.Error(t, err)
}
