// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/agentrelay/lib/sqlitepool"
)

func readPragma(t *testing.T, conn *sqlite.Conn, pragma string) string {
	t.Helper()
	var value string
	err := sqlitex.Execute(conn, "PRAGMA "+pragma, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("PRAGMA %s: %v", pragma, err)
	}
	return value
}

func TestOwnedDatabaseUsesWAL(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{Path: filepath.Join(t.TempDir(), "owned.db")})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	if mode := readPragma(t, conn, "journal_mode"); mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	if synchronous := readPragma(t, conn, "synchronous"); synchronous != "1" {
		t.Errorf("synchronous = %q, want 1 (NORMAL)", synchronous)
	}
}

func TestForeignDatabaseKeepsJournalMode(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{
		Path:    filepath.Join(t.TempDir(), "foreign.db"),
		Foreign: true,
	})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	if mode := readPragma(t, conn, "journal_mode"); mode == "wal" {
		t.Errorf("journal_mode = wal, foreign database should keep its own mode")
	}
	if timeout := readPragma(t, conn, "busy_timeout"); timeout != "5000" {
		t.Errorf("busy_timeout = %q, want 5000", timeout)
	}
}

func TestOnConnectCreatesSchema(t *testing.T) {
	var called bool
	pool := openTestPool(t, sqlitepool.Config{
		Path: filepath.Join(t.TempDir(), "schema.db"),
		OnConnect: func(conn *sqlite.Conn) error {
			called = true
			return sqlitex.ExecuteScript(conn, `
				CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT);
			`, nil)
		},
	})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	if !called {
		t.Error("OnConnect was not called")
	}
	err = sqlitex.Execute(conn, "INSERT INTO kv (key, value) VALUES (?, ?)", &sqlitex.ExecOptions{
		Args: []any{"k", "v"},
	})
	if err != nil {
		t.Fatalf("INSERT: %v", err)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func TestTakeHonorsCancelledContext(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "cancel.db"),
		PoolSize: 1,
	})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestDoReturnsConnection(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "do.db"),
		PoolSize: 1,
	})

	ctx := context.Background()
	for i := range 3 {
		var one int64
		err := pool.Do(ctx, func(conn *sqlite.Conn) error {
			return sqlitex.Execute(conn, "SELECT 1", &sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					one = stmt.ColumnInt64(0)
					return nil
				},
			})
		})
		if err != nil {
			t.Fatalf("Do #%d: %v", i, err)
		}
		if one != 1 {
			t.Fatalf("Do #%d: got %d, want 1", i, one)
		}
	}

	boom := errors.New("boom")
	if err := pool.Do(ctx, func(*sqlite.Conn) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("got %v, want the callback error", err)
	}
	// The single connection must be back in the pool after an error.
	if err := pool.Do(ctx, func(*sqlite.Conn) error { return nil }); err != nil {
		t.Errorf("Do after error: %v", err)
	}
}

func openTestPool(t *testing.T, cfg sqlitepool.Config) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}
