// Package db opens and migrates the local SQLite query-history store.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"
)

// SQLite DSN parameters. History writes are low volume; WAL plus a busy
// timeout is enough to keep concurrent tool calls from tripping over each
// other.
const (
	busyTimeoutMs = "5000"
	journalMode   = "WAL"
	synchronous   = "NORMAL"
)

// Open opens a *sql.DB for the SQLite history file at path. The pool is
// capped at one connection: the history store has a single writer and its
// reads are rare.
func Open(path string) (*sql.DB, error) {
	params := url.Values{}
	params.Set("_journal_mode", journalMode)
	params.Set("_busy_timeout", busyTimeoutMs)
	params.Set("_synchronous", synchronous)
	params.Set("_txlock", "immediate")

	handle, err := sql.Open("sqlite3", path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	handle.SetMaxOpenConns(1)
	handle.SetMaxIdleConns(1)
	handle.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := handle.PingContext(ctx); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return handle, nil
}
