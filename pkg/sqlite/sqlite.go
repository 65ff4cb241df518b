// Package sqlite opens the SQLite3 state database with the connection
// settings jaxci uses everywhere.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/rocm/jaxci/pkg/log"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens the SQLite3 database at file.
// Read-write handles use a single connection so that concurrent
// writers from the runner workers serialize instead of failing on lock.
func Open(file string, opts ...OpOption) (*sql.DB, error) {
	op := &Op{}
	if err := op.applyOpts(opts); err != nil {
		return nil, err
	}

	if !op.readOnly {
		if dir := filepath.Dir(file); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}
	}

	// ref. https://www.sqlite.org/uri.html
	// ref. https://github.com/mattn/go-sqlite3?tab=readme-ov-file#connection-string
	conns := "file:" + file + "?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL"
	if op.readOnly {
		conns += "&mode=ro"
	} else {
		// ref. https://github.com/mattn/go-sqlite3/issues/1179#issuecomment-1638083995
		conns += "&_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", conns)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite3 database: %w (%q)", err, conns)
	}

	if !op.readOnly {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}
	return db, nil
}

// ReadDBSize returns the database size in bytes (page_count * page_size).
func ReadDBSize(ctx context.Context, db *sql.DB) (uint64, error) {
	var pageCount uint64
	err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.New("no page count")
	}
	if err != nil {
		return 0, err
	}

	var pageSize uint64
	err = db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.New("no page size")
	}
	if err != nil {
		return 0, err
	}

	return pageCount * pageSize, nil
}

// Compact runs VACUUM.
func Compact(ctx context.Context, db *sql.DB) error {
	log.Logger.Infow("compacting state database")
	if _, err := db.ExecContext(ctx, "VACUUM;"); err != nil {
		return err
	}
	log.Logger.Infow("successfully compacted state database")
	return nil
}

// RunCompact vacuums the database file and logs its size before and after.
func RunCompact(ctx context.Context, dbFile string) error {
	dbRW, err := Open(dbFile)
	if err != nil {
		return fmt.Errorf("failed to open state file: %w", err)
	}
	defer dbRW.Close()

	before, err := ReadDBSize(ctx, dbRW)
	if err != nil {
		return fmt.Errorf("failed to read state file size: %w", err)
	}

	if err := Compact(ctx, dbRW); err != nil {
		return fmt.Errorf("failed to compact state file: %w", err)
	}

	after, err := ReadDBSize(ctx, dbRW)
	if err != nil {
		return fmt.Errorf("failed to read state file size: %w", err)
	}
	log.Logger.Infow("compacted state file", "before", humanize.Bytes(before), "after", humanize.Bytes(after))
	return nil
}
