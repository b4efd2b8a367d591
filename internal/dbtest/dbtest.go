// Package dbtest opens in-memory sqlite databases carrying the service schema
// and offers helpers that move rows through time for job tests.
package dbtest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var seq atomic.Int64

var schema = []string{
	`CREATE TABLE agents (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		blocked_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_agents_phone ON agents (phone)`,
	`CREATE TABLE sequences (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE clients (
		id INTEGER PRIMARY KEY,
		agent_id INTEGER NOT NULL,
		code TEXT NOT NULL,
		full_name TEXT NOT NULL,
		phone TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_clients_code ON clients (code)`,
	`CREATE UNIQUE INDEX ux_clients_phone ON clients (phone)`,
	`CREATE TABLE subscriptions (
		id INTEGER PRIMARY KEY,
		client_id INTEGER NOT NULL,
		agent_id INTEGER NOT NULL,
		cycle TEXT NOT NULL,
		daily_amount INTEGER NOT NULL,
		total_days INTEGER NOT NULL,
		total_amount INTEGER NOT NULL,
		start_date DATETIME NOT NULL,
		end_date DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		paid_days INTEGER NOT NULL DEFAULT 0,
		paid_amount INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE obligations (
		id INTEGER PRIMARY KEY,
		subscription_id INTEGER NOT NULL,
		day_number INTEGER NOT NULL,
		due_date DATETIME NOT NULL,
		amount INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		paid_at DATETIME,
		marked_by TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_obligations_subscription_day ON obligations (subscription_id, day_number)`,
	`CREATE TABLE commissions (
		id INTEGER PRIMARY KEY,
		agent_id INTEGER NOT NULL,
		client_id INTEGER NOT NULL,
		subscription_id INTEGER,
		amount INTEGER NOT NULL,
		due_date DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		paid_at DATETIME,
		payment_attempt_id INTEGER,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_commissions_agent_client ON commissions (agent_id, client_id)`,
	`CREATE TABLE payment_attempts (
		id INTEGER PRIMARY KEY,
		transaction_id TEXT NOT NULL,
		agent_id INTEGER NOT NULL,
		provider TEXT NOT NULL,
		amount INTEGER NOT NULL,
		currency TEXT NOT NULL DEFAULT 'XOF',
		phone TEXT NOT NULL,
		commission_ids TEXT NOT NULL,
		external_id TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		failure_reason TEXT,
		provider_response TEXT,
		initiate_error TEXT,
		webhook_received BOOLEAN NOT NULL DEFAULT 0,
		flagged_at DATETIME,
		processed_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_payment_attempts_transaction ON payment_attempts (transaction_id)`,
	`CREATE UNIQUE INDEX ux_payment_attempts_provider_external ON payment_attempts (provider, external_id)`,
	`CREATE TABLE domain_events (
		id INTEGER PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id INTEGER NOT NULL,
		payload TEXT NOT NULL,
		occurred_at DATETIME NOT NULL
	)`,
}

// Open returns a fresh shared-cache in-memory database with the full schema.
// A single connection keeps concurrent test writers from tripping SQLITE_BUSY.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:tontine_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func Node(t testing.TB, n int64) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(n)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// AssertCount fails the test when table holds a different number of rows
// matching where.
func AssertCount(t testing.TB, db *gorm.DB, table, where string, want int64, args ...any) {
	t.Helper()
	query := "SELECT COUNT(1) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var got int64
	if err := db.Raw(query, args...).Scan(&got).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	if got != want {
		t.Fatalf("expected %d rows in %s, got %d", want, table, got)
	}
}

// InsertAgent seeds an active agent and returns its id.
func InsertAgent(t testing.TB, db *gorm.DB, node *snowflake.Node, phone string) snowflake.ID {
	t.Helper()
	id := node.Generate()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO agents (id, name, phone, status, created_at, updated_at) VALUES (?, ?, ?, 'active', ?, ?)`,
		id, "Agent "+phone, phone, now, now,
	).Error; err != nil {
		t.Fatalf("insert agent: %v", err)
	}
	return id
}

// InsertClient seeds an active client for agentID and returns its id.
func InsertClient(t testing.TB, db *gorm.DB, node *snowflake.Node, agentID snowflake.ID, phone string) snowflake.ID {
	t.Helper()
	id := node.Generate()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO clients (id, agent_id, code, full_name, phone, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 'active', ?, ?)`,
		id, agentID, "CLT-"+phone, "Client "+phone, phone, now, now,
	).Error; err != nil {
		t.Fatalf("insert client: %v", err)
	}
	return id
}

// TimeShifter rewinds stored timestamps so scheduler jobs see aged rows.
type TimeShifter struct {
	db *gorm.DB
}

func NewTimeShifter(db *gorm.DB) *TimeShifter {
	return &TimeShifter{db: db}
}

// AgeAttempt moves a payment attempt's created_at to at.
func (ts *TimeShifter) AgeAttempt(ctx context.Context, attemptID snowflake.ID, at time.Time) error {
	return ts.db.WithContext(ctx).Exec(
		`UPDATE payment_attempts SET created_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), at.UTC(), attemptID,
	).Error
}

// ExpireCommission moves a commission's due date to at.
func (ts *TimeShifter) ExpireCommission(ctx context.Context, commissionID snowflake.ID, at time.Time) error {
	return ts.db.WithContext(ctx).Exec(
		`UPDATE commissions SET due_date = ? WHERE id = ?`,
		at.UTC(), commissionID,
	).Error
}
