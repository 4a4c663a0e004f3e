package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type stockRow struct {
	ID           int
	SKU          string
	CountInStock int
}

func sqliteConfig() config.DBConfig {
	return config.DBConfig{Driver: DriverSQLite, DSN: "file::memory:", MaxOpenConns: 1}
}

func newSQLiteClient(t *testing.T, cfg config.DBConfig, logg *logger.Logger) *Client {
	t.Helper()
	client, err := New(context.Background(), cfg, logg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.DB().AutoMigrate(&stockRow{}))
	return client
}

func stockOf(t *testing.T, client *Client, sku string) int {
	t.Helper()
	var row stockRow
	require.NoError(t, client.DB().First(&row, "sku = ?", sku).Error)
	return row.CountInStock
}

func TestWithTxKeepsStockAdjustmentsAtomic(t *testing.T) {
	client := newSQLiteClient(t, sqliteConfig(), nil)
	ctx := context.Background()
	require.NoError(t, client.DB().Create(&stockRow{SKU: "tee-black-m", CountInStock: 5}).Error)

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Model(&stockRow{}).Where("sku = ?", "tee-black-m").
			Update("count_in_stock", gorm.Expr("count_in_stock - ?", 2)).Error
	}))
	assert.Equal(t, 3, stockOf(t, client, "tee-black-m"))

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&stockRow{}).Where("sku = ?", "tee-black-m").
			Update("count_in_stock", gorm.Expr("count_in_stock - ?", 3)).Error; err != nil {
			return err
		}
		return errors.New("outbox write failed")
	})
	require.EqualError(t, err, "outbox write failed")
	assert.Equal(t, 3, stockOf(t, client, "tee-black-m"))
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	client := newSQLiteClient(t, sqliteConfig(), nil)
	require.NoError(t, client.DB().Create(&stockRow{SKU: "cap", CountInStock: 1}).Error)

	assert.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			tx.Model(&stockRow{}).Where("sku = ?", "cap").Update("count_in_stock", 0)
			panic("boom")
		})
	})
	assert.Equal(t, 1, stockOf(t, client, "cap"))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{Driver: DriverPostgres}, nil)
	assert.ErrorContains(t, err, "DSN is required")

	_, err = New(context.Background(), config.DBConfig{Driver: "mysql", DSN: "x"}, nil)
	assert.ErrorContains(t, err, `unsupported database driver "mysql"`)
}

func TestNewLogsConnectionAndSlowQueries(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "db-test", Output: buf})
	cfg := sqliteConfig()
	cfg.SlowQueryThreshold = time.Nanosecond

	client := newSQLiteClient(t, cfg, logg)
	require.NoError(t, client.Ping(context.Background()))
	assert.Contains(t, buf.String(), `"db_driver":"sqlite"`)

	buf.Reset()
	require.NoError(t, client.DB().Create(&stockRow{SKU: "slow", CountInStock: 1}).Error)
	assert.True(t, strings.Contains(buf.String(), "SLOW SQL"), buf.String())
}

func TestQueryLoggerDisabledWithoutThreshold(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "db-test"})
	assert.Equal(t, gormlogger.Discard, queryLogger(logg, 0))
	assert.Equal(t, gormlogger.Discard, queryLogger(nil, time.Second))
}
