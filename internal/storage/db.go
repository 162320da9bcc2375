// Package storage keeps the local call history in SQLite.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	_ "modernc.org/sqlite"
)

var log = logging.Logger("storage")

// migrations run in order; _meta.schema_version counts how many have run.
var migrations = []string{
	`CREATE TABLE call_attempts (
		id          TEXT PRIMARY KEY,
		token_fp    TEXT NOT NULL,
		call_type   TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		state       TEXT NOT NULL,
		reason      TEXT DEFAULT '',
		started_at  INTEGER NOT NULL,
		ended_at    INTEGER NOT NULL
	)`,
	`CREATE INDEX call_attempts_ended ON call_attempts (ended_at)`,
}

// DB is the history database. Writes are serialized; reads run concurrently
// thanks to WAL.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the database at dbPath and brings its schema up to
// date.
func Open(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	from, err := migrate(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if from < len(migrations) {
		log.Infof("STORAGE: %s schema v%d -> v%d", filepath.Base(dbPath), from, len(migrations))
	}
	return &DB{db: db, path: dbPath}, nil
}

// migrate applies pending migrations in one transaction and returns the
// version it started from.
func migrate(db *sql.DB) (int, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _meta (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		return 0, fmt.Errorf("create meta table: %w", err)
	}

	var raw string
	err := db.QueryRow(`SELECT value FROM _meta WHERE key = 'schema_version'`).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	version, _ := strconv.Atoi(raw)
	if version > len(migrations) {
		return version, fmt.Errorf("schema v%d is newer than this build (v%d)", version, len(migrations))
	}
	if version == len(migrations) {
		return version, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return version, err
	}
	defer tx.Rollback()
	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return version, fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO _meta (key, value) VALUES ('schema_version', ?)`,
		strconv.Itoa(len(migrations))); err != nil {
		return version, err
	}
	return version, tx.Commit()
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Path() string {
	return d.path
}
