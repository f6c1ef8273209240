// Package db opens the SQL database that backs tool result persistence.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	// Registers "libsql" with database/sql for remote URLs (libsql://,
	// https://, wss://).
	_ "github.com/tursodatabase/libsql-client-go/libsql"

	// Pure-Go SQLite driver; libsql-client-go delegates file: URLs to it.
	_ "modernc.org/sqlite"
)

// ErrEmptyURL is returned by Connect for an empty database URL.
var ErrEmptyURL = errors.New("db: database URL must not be empty")

// driverName is the database/sql driver to use. Tests replace it to reach
// the open error path.
var driverName = "libsql"

// Connect opens a libSQL database connection and verifies it with a ping.
//
// Supported URL schemes:
//
//	Local file:   "file:path/to/toolchat.db"
//	Remote Turso: "libsql://[db-name].turso.io?authToken=[token]"
func Connect(ctx context.Context, dbURL string) (*sql.DB, error) {
	dbURL = strings.TrimSpace(dbURL)
	if dbURL == "" {
		return nil, ErrEmptyURL
	}

	conn, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, fmt.Errorf("db: open libsql: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	return conn, nil
}

// Migrate runs each statement in order inside one transaction.
func Migrate(ctx context.Context, conn *sql.DB, stmts ...string) error {
	if conn == nil {
		return errors.New("db: connection must not be nil")
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db: begin migration: %w", err)
	}
	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("db: migration %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db: commit migration: %w", err)
	}
	return nil
}
