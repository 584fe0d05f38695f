// Package dbtest opens isolated in-memory sqlite databases carrying the
// billing schema, for repository and service tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/localpros/localpros-backend/pkg/db"
)

var schema = []string{
	`CREATE TABLE companies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		billing_email TEXT,
		pricing_tier TEXT NOT NULL DEFAULT 'standard',
		stripe_customer_id TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE subscriptions (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		billing_cycle TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		stripe_customer_id TEXT,
		stripe_subscription_id TEXT NOT NULL UNIQUE,
		stripe_price_id TEXT,
		current_period_start DATETIME,
		current_period_end DATETIME,
		cancel_at_period_end BOOLEAN NOT NULL DEFAULT 0,
		cancel_at DATETIME,
		ended_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE subscription_history (
		id TEXT PRIMARY KEY,
		subscription_id TEXT NOT NULL,
		action TEXT NOT NULL,
		previous_tier TEXT,
		new_tier TEXT,
		previous_status TEXT,
		new_status TEXT,
		previous_billing_cycle TEXT,
		new_billing_cycle TEXT,
		reason TEXT,
		stripe_event_id TEXT,
		created_at DATETIME
	)`,
	`CREATE TABLE payment_transactions (
		id TEXT PRIMARY KEY,
		subscription_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		dedupe_key TEXT NOT NULL UNIQUE,
		stripe_payment_intent_id TEXT,
		stripe_invoice_id TEXT,
		amount NUMERIC NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		billing_cycle TEXT NOT NULL,
		tier TEXT NOT NULL,
		description TEXT,
		failure_metadata TEXT,
		created_at DATETIME
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		terminal_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE email_logs (
		id TEXT PRIMARY KEY,
		outbox_event_id TEXT,
		company_id TEXT,
		kind TEXT NOT NULL,
		recipient TEXT NOT NULL,
		subject TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		created_at DATETIME
	)`,
}

// Open returns a fresh database with the billing tables created. Each call
// gets its own named in-memory database.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), db.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return conn
}

// Client wraps Open in a db.Client for code that needs WithTx.
func Client(t testing.TB) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.Wrap(conn), conn
}
