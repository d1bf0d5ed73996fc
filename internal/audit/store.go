// Package audit keeps a SQLite ledger of chat request outcomes. Only request
// metadata is stored; prompt and reply text never reach the database.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const createOutcomesTable = `
CREATE TABLE IF NOT EXISTS outcomes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT,
	model TEXT,
	shape TEXT,
	kind TEXT,
	status INTEGER,
	latency_ms INTEGER,
	created_at DATETIME
);`

// Entry is one recorded request outcome.
type Entry struct {
	RequestID string
	Model     string
	Shape     string
	Kind      string
	Status    int
	Latency   time.Duration
	CreatedAt time.Time
}

// Store persists outcome entries.
type Store struct {
	db *sql.DB
}

// Open creates or opens the ledger at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("audit path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// SQLite serialises writers; a single connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createOutcomesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create outcomes table: %w", err)
	}
	return &Store{db: db}, nil
}

// Record appends an entry. A zero CreatedAt is stamped with the current time.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (request_id, model, shape, kind, status, latency_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Model, e.Shape, e.Kind, e.Status, e.Latency.Milliseconds(), e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, model, shape, kind, status, latency_ms, created_at FROM outcomes ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			latencyMS int64
		)
		if err := rows.Scan(&e.RequestID, &e.Model, &e.Shape, &e.Kind, &e.Status, &latencyMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		e.Latency = time.Duration(latencyMS) * time.Millisecond
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return out, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
