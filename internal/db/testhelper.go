package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTestSQLite opens a migrated history store in t.TempDir() and registers
// cleanup.
func OpenTestSQLite(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "history.sqlite")
	handle, err := Open(path)
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	t.Cleanup(func() { _ = handle.Close() })

	if err := RunMigrations(handle); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return handle
}
