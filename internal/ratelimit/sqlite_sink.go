package ratelimit

import (
	"database/sql"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
)

// sqliteSink is the durable rate-limit sink: an append table
// (id, key, timestamp_ms) with an index on (key, timestamp_ms). WAL
// mode tolerates interleaved inserts from one writer per session.
type sqliteSink struct {
	db *sql.DB
}

func openSQLiteSink(path string) (*sqliteSink, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening rate limit store %s: %w", path, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS rate_events (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			key          TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rate_events_key_ts ON rate_events(key, timestamp_ms);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating rate limit schema: %w", err)
	}

	return &sqliteSink{db: db}, nil
}

func (s *sqliteSink) insert(key string, timestampMs int64) error {
	_, err := s.db.Exec(`INSERT INTO rate_events (key, timestamp_ms) VALUES (?, ?)`, key, timestampMs)
	if err != nil {
		return fmt.Errorf("inserting rate event: %w", err)
	}
	return nil
}

func (s *sqliteSink) countSince(key string, sinceMs int64) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM rate_events WHERE key = ? AND timestamp_ms >= ?`,
		key, sinceMs,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting rate events: %w", err)
	}
	return count, nil
}

func (s *sqliteSink) pruneBefore(key string, beforeMs int64) error {
	_, err := s.db.Exec(`DELETE FROM rate_events WHERE key = ? AND timestamp_ms < ?`, key, beforeMs)
	if err != nil {
		return fmt.Errorf("pruning rate events for key %q: %w", key, err)
	}
	return nil
}

func (s *sqliteSink) pruneAllBefore(beforeMs int64) (int, error) {
	res, err := s.db.Exec(`DELETE FROM rate_events WHERE timestamp_ms < ?`, beforeMs)
	if err != nil {
		return 0, fmt.Errorf("pruning all rate events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

func (s *sqliteSink) close() error {
	return s.db.Close()
}
