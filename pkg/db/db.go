// Package db pkg/db/db.go provides the SQLite poll-history sidecar.
// The JSON store holds only current state; this keeps a row per
// successful poll so usage and status can be inspected over time.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var (
	errFailedOpenDB      = errors.New("failed to open database")
	errFailedToEnableWAL = errors.New("failed to enable WAL mode")
	errFailedToInit      = errors.New("failed to initialize schema")
	errFailedToInsert    = errors.New("failed to insert")
	errFailedToQuery     = errors.New("failed to query")
	errFailedToScan      = errors.New("failed to scan")
	errFailedToClean     = errors.New("failed to clean")
)

const createTablesSQL = `
	-- One row per successful device poll
	CREATE TABLE IF NOT EXISTS poll_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		address TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		status TEXT NOT NULL,
		total_pages TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_poll_history_address_time
		ON poll_history(address, timestamp);

	PRAGMA foreign_keys=ON;
	`

// PollRecord is one historical poll result.
type PollRecord struct {
	Address    string    `json:"address"`
	Timestamp  time.Time `json:"timestamp"`
	Status     string    `json:"status"`
	TotalPages string    `json:"total_pages"`
}

// DB wraps the SQLite connection.
type DB struct {
	*sql.DB
}

// New opens (or creates) the history database and initializes the
// schema.
func New(dbPath string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedOpenDB, err)
	}

	// WAL lets the HTTP handlers read history while a poll writes.
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToEnableWAL, err)
	}

	db := &DB{sqlDB}
	if err := db.initSchema(); err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToInit, err)
	}

	return db, nil
}

func (db *DB) initSchema() error {
	_, err := db.Exec(createTablesSQL)

	return err
}

// RecordPoll appends one history row.
func (db *DB) RecordPoll(rec *PollRecord) error {
	_, err := db.Exec(`
        INSERT INTO poll_history (address, timestamp, status, total_pages)
        VALUES (?, ?, ?, ?)
    `, rec.Address, rec.Timestamp, rec.Status, rec.TotalPages)
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToInsert, err)
	}

	return nil
}

// GetHistory returns the most recent poll rows for a device, newest
// first.
func (db *DB) GetHistory(address string, limit int) ([]PollRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.Query(`
        SELECT address, timestamp, status, total_pages
        FROM poll_history
        WHERE address = ?
        ORDER BY timestamp DESC
        LIMIT ?
    `, address, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToQuery, err)
	}
	defer rows.Close()

	var records []PollRecord

	for rows.Next() {
		var rec PollRecord
		if err := rows.Scan(&rec.Address, &rec.Timestamp, &rec.Status, &rec.TotalPages); err != nil {
			return nil, fmt.Errorf("%w: %w", errFailedToScan, err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToQuery, err)
	}

	return records, nil
}

// CleanOld deletes history rows older than the retention window.
func (db *DB) CleanOld(retention time.Duration) error {
	cutoff := time.Now().Add(-retention)

	if _, err := db.Exec(`DELETE FROM poll_history WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("%w: %w", errFailedToClean, err)
	}

	return nil
}
