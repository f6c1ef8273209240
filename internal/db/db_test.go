package db

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const memoryURL = "file:dbtest.db?mode=memory&cache=shared"

// =============================================================================
// Connect
// =============================================================================

func TestConnect_WhenValidFileURL_ShouldPing(t *testing.T) {
	conn, err := Connect(context.Background(), memoryURL)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer conn.Close()
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestConnect_WhenEmptyURL_ShouldReturnErrEmptyURL(t *testing.T) {
	for _, u := range []string{"", "   "} {
		if _, err := Connect(context.Background(), u); !errors.Is(err, ErrEmptyURL) {
			t.Errorf("Connect(%q) err = %v, want ErrEmptyURL", u, err)
		}
	}
}

func TestConnect_WhenDriverUnknown_ShouldReturnOpenError(t *testing.T) {
	old := driverName
	driverName = "nonexistent_driver"
	defer func() { driverName = old }()

	_, err := Connect(context.Background(), memoryURL)
	if err == nil || !strings.Contains(err.Error(), "db: open libsql") {
		t.Fatalf("err = %v, want open error", err)
	}
}

func TestConnect_WhenURLInvalid_ShouldFail(t *testing.T) {
	if _, err := Connect(context.Background(), "ftp://nowhere"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

// =============================================================================
// Migrate
// =============================================================================

func TestMigrate_ShouldApplyStatementsInOrder(t *testing.T) {
	conn, err := Connect(context.Background(), "file:migrate_ok.db?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	err = Migrate(context.Background(), conn,
		`CREATE TABLE IF NOT EXISTS items (id TEXT PRIMARY KEY, n INTEGER NOT NULL)`,
		`INSERT INTO items (id, n) VALUES ('a', 1)`,
	)
	if err != nil {
		t.Fatal(err)
	}
	var n int
	if err := conn.QueryRow(`SELECT n FROM items WHERE id = 'a'`).Scan(&n); err != nil || n != 1 {
		t.Errorf("n = %d, err = %v", n, err)
	}
}

func TestMigrate_WhenStatementFails_ShouldRollBack(t *testing.T) {
	conn, err := Connect(context.Background(), "file:migrate_bad.db?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	err = Migrate(context.Background(), conn,
		`CREATE TABLE rolled (id TEXT)`,
		`THIS IS NOT SQL`,
	)
	if err == nil || !strings.Contains(err.Error(), "migration 1") {
		t.Fatalf("err = %v, want migration 1 failure", err)
	}
	if _, err := conn.Exec(`SELECT id FROM rolled`); err == nil {
		t.Error("table from the failed migration should not exist")
	}
}

func TestMigrate_WhenConnNil_ShouldFail(t *testing.T) {
	if err := Migrate(context.Background(), nil, "SELECT 1"); err == nil {
		t.Fatal("expected error")
	}
}
