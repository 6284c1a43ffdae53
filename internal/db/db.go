// Package db is the device-local store: the event log, the pending upload
// set and the sync cursor, kept as three independent tables in one SQLite
// file. Nothing derived from the log is persisted here.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const dbFile = "sprout.db"

// ErrStorageFull is returned when the disk or the database size limit is
// exhausted. Callers keep the data in memory and retry later.
var ErrStorageFull = errors.New("local storage is full")

// DB wraps the local database connection. A DB holds an exclusive lock on
// its directory for its whole lifetime, so only one process ever writes a
// given log.
type DB struct {
	conn    *sql.DB
	baseDir string
	lock    *ownerLock
}

// Open opens (creating if needed) the database in baseDir and runs any
// pending migrations.
func Open(baseDir string) (*DB, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	lock := newOwnerLock(baseDir)
	if err := lock.acquire(defaultTimeout); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", filepath.Join(baseDir, dbFile))
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Pragmas are per connection.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		lock.release()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		lock.release()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")

	db := &DB{conn: conn, baseDir: baseDir, lock: lock}
	if _, err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Close closes the database and releases the directory lock.
func (db *DB) Close() error {
	err := db.conn.Close()
	db.lock.release()
	return err
}

// BaseDir returns the directory holding the database.
func (db *DB) BaseDir() string {
	return db.baseDir
}

// classify maps driver errors onto package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_FULL {
		return fmt.Errorf("%w: %v", ErrStorageFull, err)
	}
	if strings.Contains(err.Error(), "database or disk is full") {
		return fmt.Errorf("%w: %v", ErrStorageFull, err)
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
