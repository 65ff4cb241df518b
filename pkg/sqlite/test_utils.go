package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTestDB opens a read-write and a read-only handle on a fresh
// database file in a test temp dir.
func OpenTestDB(t *testing.T) (*sql.DB, *sql.DB, func()) {
	t.Helper()
	f := filepath.Join(t.TempDir(), "test-sqlite.db")

	dbRW, err := Open(f)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	// the read-only handle needs the file and WAL mode in place
	if _, err := dbRW.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("failed to initialize database: %v", err)
	}

	dbRO, err := Open(f, WithReadOnly(true))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	return dbRW, dbRO, func() {
		_ = dbRW.Close()
		_ = dbRO.Close()
	}
}
