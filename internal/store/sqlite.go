// SQLite-backed latency store.
//
// Uses the pure-Go modernc.org/sqlite driver so deployments need no
// cgo toolchain. One table, append-only writes, indexed on the
// recording timestamp for the recent-first query.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/compresr/llm-adapter/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS response_latencies (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	response_id TEXT NOT NULL,
	model       TEXT NOT NULL,
	latency_ms  INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_latencies_recorded_at
	ON response_latencies (recorded_at DESC);
`

// SQLiteStore persists latency records to a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and
// ensures the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store at '%s': %w", path, err)
	}

	// Single writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveLatency appends one record.
func (s *SQLiteStore) SaveLatency(rec metrics.ResponseLatency) error {
	_, err := s.db.Exec(
		`INSERT INTO response_latencies (response_id, model, latency_ms, recorded_at) VALUES (?, ?, ?, ?)`,
		rec.ResponseID, rec.Model, rec.Latency.Milliseconds(), rec.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save latency record: %w", err)
	}
	return nil
}

// RecentLatencies returns up to limit records, most recent first.
func (s *SQLiteStore) RecentLatencies(limit int) ([]metrics.ResponseLatency, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT response_id, model, latency_ms, recorded_at
		 FROM response_latencies ORDER BY recorded_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query latency records: %w", err)
	}
	defer rows.Close()

	var out []metrics.ResponseLatency
	for rows.Next() {
		var rec metrics.ResponseLatency
		var latencyMS, recordedAt int64
		if err := rows.Scan(&rec.ResponseID, &rec.Model, &latencyMS, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan latency record: %w", err)
		}
		rec.Latency = time.Duration(latencyMS) * time.Millisecond
		rec.RecordedAt = time.UnixMilli(recordedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
