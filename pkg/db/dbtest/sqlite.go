// Package dbtest opens throwaway SQLite databases that mirror the Postgres
// schema closely enough for repository and service tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  price TEXT NOT NULL,
  image TEXT NOT NULL DEFAULT '',
  count_in_stock INTEGER NOT NULL DEFAULT 0,
  num_sales INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  shipping_address TEXT NOT NULL,
  payment_channel TEXT NOT NULL,
  items_price TEXT NOT NULL,
  tax_price TEXT NOT NULL,
  shipping_price TEXT NOT NULL,
  total_price TEXT NOT NULL,
  is_paid INTEGER NOT NULL DEFAULT 0,
  paid_at DATETIME,
  payment_result TEXT,
  payment_result_id TEXT,
  is_delivered INTEGER NOT NULL DEFAULT 0,
  delivered_at DATETIME,
  delivery_status TEXT NOT NULL DEFAULT 'Not Processed',
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_payment_result_id ON orders (payment_result_id);`,
	`CREATE TABLE IF NOT EXISTS order_line_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  name TEXT NOT NULL,
  qty INTEGER NOT NULL,
  price TEXT NOT NULL,
  image TEXT NOT NULL DEFAULT '',
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS order_status_history (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  status TEXT NOT NULL,
  comment TEXT NOT NULL DEFAULT '',
  actor_id TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE IF NOT EXISTS outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
}

// Open returns an isolated in-memory database with the storefront tables.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := "file:storefront_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// one connection keeps transactions and plain reads on the same database view
	sqlDB.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return conn
}

// TxRunner adapts a *gorm.DB to the WithTx contract services expect from db.Client.
type TxRunner struct {
	DB *gorm.DB
}

func (r TxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.DB.WithContext(ctx).Transaction(fn)
}
