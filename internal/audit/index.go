package audit

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/glebarez/go-sqlite"
)

// sqliteIndex provides SQL queries over a session's audit log. The
// JSONL file is the source of truth and the only thing Verify ever
// reads; this index is a queryable projection that Filter uses to
// select record IDs (Filter still reads the whole log for the record
// bodies), and can always be rebuilt from the log.
type sqliteIndex struct {
	db *sql.DB
}

// openIndex opens (or creates) the SQLite index database at path.
func openIndex(path string) (*sqliteIndex, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite index %s: %w", path, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			record_id      TEXT PRIMARY KEY,
			r6_request_id  TEXT NOT NULL,
			session_id     TEXT NOT NULL,
			action_index   INTEGER NOT NULL,
			ts             TEXT NOT NULL,
			tool           TEXT NOT NULL DEFAULT '',
			category       TEXT NOT NULL DEFAULT '',
			target         TEXT NOT NULL DEFAULT '',
			targets        TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL DEFAULT '',
			signing_key_id TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_session ON records(session_id);
		CREATE INDEX IF NOT EXISTS idx_tool ON records(tool);
		CREATE INDEX IF NOT EXISTS idx_category ON records(category);
		CREATE INDEX IF NOT EXISTS idx_status ON records(status);
		CREATE INDEX IF NOT EXISTS idx_ts ON records(ts);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sqlite schema: %w", err)
	}

	return &sqliteIndex{db: db}, nil
}

// insert adds a record to the index. The JSONL log already has the
// durable write, so the caller logs failures rather than propagating
// them.
func (idx *sqliteIndex) insert(r *Record) error {
	_, err := idx.db.Exec(
		`INSERT OR REPLACE INTO records
			(record_id, r6_request_id, session_id, action_index, ts, tool, category, target, targets, status, signing_key_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RecordID, r.R6RequestID, r.Provenance.SessionID, r.Provenance.ActionIndex,
		r.Timestamp.Format("2006-01-02T15:04:05.000000000Z07:00"),
		r.Tool, r.Category, r.Target, strings.Join(r.Targets, "\x1f"), string(r.Result.Status), r.SigningKeyID,
	)
	if err != nil {
		return fmt.Errorf("inserting index row for %s: %w", r.RecordID, err)
	}
	return nil
}

// indexQuery mirrors FilterCriteria for the SQL path.
type indexQuery struct {
	SessionID string
	Tool      string
	Category  string
	Status    string
	SinceISO  string
	Limit     int
}

// recordIDs returns the record IDs matching q, most recent first. The
// caller reads the JSONL log for the actual record bodies — the index
// selects which records match, it does not replace the log as source
// of truth.
func (idx *sqliteIndex) recordIDs(q indexQuery) ([]string, error) {
	query := "SELECT record_id FROM records WHERE 1=1"
	var args []any

	if q.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, q.SessionID)
	}
	if q.Tool != "" {
		query += " AND tool = ?"
		args = append(args, q.Tool)
	}
	if q.Category != "" {
		query += " AND category = ?"
		args = append(args, q.Category)
	}
	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, q.Status)
	}
	if q.SinceISO != "" {
		query += " AND ts >= ?"
		args = append(args, q.SinceISO)
	}

	query += " ORDER BY ts DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sqlite index: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning sqlite row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// close closes the SQLite database connection.
func (idx *sqliteIndex) close() error {
	return idx.db.Close()
}
