// Package sqlite implements the repository interfaces on top of an embedded
// SQLite database (modernc.org/sqlite, pure Go, no CGo).
//
// dbPath examples:
//   - "data/social.db" → file-based database (persistent)
//   - ":memory:"       → in-memory database (tests)
//
// CONNECTION POOL:
// The pool is capped at one connection. SQLite serializes writers anyway,
// and an in-memory database only exists on the connection that created it.
// Code running inside withTx must therefore use the *sql.Tx it was given,
// never db.conn, or it will wait forever for the pool.
//
// SCHEMA:
// Tables are created by goose migrations embedded from ./migrations.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/sakif/keybridge/internal/repository/sqlite/migrations"
)

// DB wraps a sql.DB connection pool and implements the repository
// interfaces for users, analysis keys and servers.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// New opens the database at dbPath, applies pragmas and runs migrations.
func New(ctx context.Context, dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	if err := migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return &DB{conn: conn, now: time.Now}, nil
}

func migrate(ctx context.Context, conn *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(log.New(io.Discard, "", 0))

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	return goose.UpContext(ctx, conn, ".")
}

// Ping reports whether the database is still reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// TIMESTAMPS:
// Stored as fixed-width UTC text so that string comparison in SQL
// (ORDER BY, expires_at < ?) matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err == nil {
		return t, nil
	}
	// rows written by hand with CURRENT_TIMESTAMP
	if t, err2 := time.Parse(time.DateTime, s); err2 == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("sqlite: parsing time %q: %w", s, err)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
