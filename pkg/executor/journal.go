package executor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Journal persists lifecycle events to SQLite so session history survives
// runtime restarts. It is write-mostly; reads serve the status surfaces.
type Journal struct {
	db *sql.DB
}

// JournalEntry is one recorded lifecycle event.
type JournalEntry struct {
	ID        int64     `json:"id"`
	Event     string    `json:"event"`
	SessionID string    `json:"session_id"`
	NodeID    string    `json:"node_id,omitempty"`
	NodeType  string    `json:"node_type,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewJournal opens (or creates) the journal database at path.
func NewJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS lifecycle_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event TEXT NOT NULL,
			session_id TEXT NOT NULL,
			node_id TEXT,
			node_type TEXT,
			detail TEXT,
			created_at INTEGER NOT NULL
		)
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_lifecycle_session ON lifecycle_events(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_lifecycle_created ON lifecycle_events(created_at)",
	}
	for _, indexSQL := range indexes {
		if _, err := db.Exec(indexSQL); err != nil {
			db.Close()
			return nil, fmt.Errorf("create journal index: %w", err)
		}
	}

	return &Journal{db: db}, nil
}

// Record appends one event to the journal.
func (j *Journal) Record(ctx context.Context, event Event) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO lifecycle_events (event, session_id, node_id, node_type, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.Type, event.SessionID, event.NodeID, event.NodeType, event.Detail, ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("record journal event: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, event, session_id, node_id, node_type, detail, created_at
		FROM lifecycle_events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// SessionHistory returns one session's entries in insertion order.
func (j *Journal) SessionHistory(ctx context.Context, sessionID string, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, event, session_id, node_id, node_type, detail, created_at
		FROM lifecycle_events
		WHERE session_id = ?
		ORDER BY id ASC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query session history: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]JournalEntry, error) {
	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var createdMilli int64
		if err := rows.Scan(&e.ID, &e.Event, &e.SessionID, &e.NodeID, &e.NodeType, &e.Detail, &createdMilli); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdMilli)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
