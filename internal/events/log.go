package events

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	field_id   TEXT NOT NULL,
	block_id   TEXT,
	type       TEXT NOT NULL,
	data       TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_events_field ON events(field_id, created_at);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

// Log is an append-only SQLite event log. All methods are nil-safe so
// callers can thread an optional log through without guards.
type Log struct {
	db *sql.DB
}

// Open creates or opens the event log at path.
func Open(path string) (*Log, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}

	// WAL keeps concurrent block-completion writes from contending.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping event log: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize event log schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the underlying database.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record appends one event. Errors are returned, not fatal; callers
// typically log and continue since event recording must never break an
// analysis.
func (l *Log) Record(e Event) error {
	if l == nil || l.db == nil {
		return nil
	}
	var data any
	if len(e.Data) > 0 {
		data = string(e.Data)
	}
	_, err := l.db.Exec(
		`INSERT INTO events (field_id, block_id, type, data) VALUES (?, ?, ?, ?)`,
		e.FieldID, nullable(e.BlockID), string(e.Type), data,
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Recent returns up to limit events for a field (all fields if empty),
// newest first.
func (l *Log) Recent(fieldID string, limit int) ([]Event, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, field_id, COALESCE(block_id, ''), type, COALESCE(data, ''), created_at
		FROM events`
	args := []any{}
	if fieldID != "" {
		query += ` WHERE field_id = ?`
		args = append(args, fieldID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ, data string
		var ts time.Time
		if err := rows.Scan(&e.ID, &e.FieldID, &e.BlockID, &typ, &data, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = EventType(typ)
		if data != "" {
			e.Data = []byte(data)
		}
		e.Timestamp = ts
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes events older than the retention window, returning the
// number removed.
func (l *Log) Cleanup(retention time.Duration) (int64, error) {
	if l == nil || l.db == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention)
	res, err := l.db.Exec(`DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup events: %w", err)
	}
	return res.RowsAffected()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
