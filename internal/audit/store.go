// Package audit keeps a SQLite trail of processed documents and finished
// stream sessions. Rows hold ids, tiers, counts and entity types; literal
// PII values are never written.
package audit

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pii-redactor/internal/pii"
)

//go:embed schema.sql
var schema string

// DocumentRecord summarizes one upload.
type DocumentRecord struct {
	ID          string           `json:"id"`
	Filename    string           `json:"filename"`
	Format      string           `json:"format"`
	Tier        pii.Tier         `json:"tier"`
	Pages       int              `json:"pages"`
	FailedPages int              `json:"failedPages"`
	Entities    int              `json:"entities"`
	Types       map[pii.Type]int `json:"types"`
	Degraded    bool             `json:"degraded"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// SessionRecord summarizes one stream session.
type SessionRecord struct {
	ID            string           `json:"id"`
	Tier          pii.Tier         `json:"tier"`
	Reason        string           `json:"reason"`
	Chunks        int              `json:"chunks"`
	Timeouts      int              `json:"timeouts"`
	Unclear       int              `json:"unclear"`
	ContextAlerts int              `json:"contextAlerts"`
	ContentAlerts int              `json:"contentAlerts"`
	Types         map[pii.Type]int `json:"types"`
	Error         string           `json:"error,omitempty"`
	StartedAt     time.Time        `json:"startedAt"`
	EndedAt       time.Time        `json:"endedAt"`
}

// Recorder accepts audit rows. The server records through it so it can run
// without a database.
type Recorder interface {
	RecordDocument(ctx context.Context, r DocumentRecord) error
	RecordSession(ctx context.Context, r SessionRecord) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordDocument(context.Context, DocumentRecord) error { return nil }
func (Nop) RecordSession(context.Context, SessionRecord) error   { return nil }

// Store is the SQLite-backed Recorder.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// RecordDocument inserts one document row. A zero CreatedAt is set to now.
func (s *Store) RecordDocument(ctx context.Context, r DocumentRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	types, err := encodeTypes(r.Types)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, filename, format, tier, pages, failed_pages, entities, types, degraded, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Filename, r.Format, r.Tier.String(), r.Pages, r.FailedPages, r.Entities, types, r.Degraded, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// RecordSession inserts one session row.
func (s *Store) RecordSession(ctx context.Context, r SessionRecord) error {
	if r.EndedAt.IsZero() {
		r.EndedAt = time.Now()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = r.EndedAt
	}
	types, err := encodeTypes(r.Types)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, tier, reason, chunks, timeouts, unclear, context_alerts, content_alerts, types, error, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Tier.String(), r.Reason, r.Chunks, r.Timeouts, r.Unclear, r.ContextAlerts, r.ContentAlerts,
		types, r.Error, r.StartedAt.UTC(), r.EndedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// ListDocuments returns the most recent documents first.
func (s *Store) ListDocuments(ctx context.Context, limit int) ([]DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, format, tier, pages, failed_pages, entities, types, degraded, created_at
		 FROM documents ORDER BY created_at DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := []DocumentRecord{}
	for rows.Next() {
		var r DocumentRecord
		var tier, types string
		if err := rows.Scan(&r.ID, &r.Filename, &r.Format, &tier, &r.Pages, &r.FailedPages, &r.Entities,
			&types, &r.Degraded, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		r.Tier = pii.TierOrDefault(tier)
		if r.Types, err = decodeTypes(types); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListSessions returns the most recent sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tier, reason, chunks, timeouts, unclear, context_alerts, content_alerts, types, error, started_at, ended_at
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []SessionRecord{}
	for rows.Next() {
		var r SessionRecord
		var tier, types string
		if err := rows.Scan(&r.ID, &tier, &r.Reason, &r.Chunks, &r.Timeouts, &r.Unclear, &r.ContextAlerts,
			&r.ContentAlerts, &types, &r.Error, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		r.Tier = pii.TierOrDefault(tier)
		if r.Types, err = decodeTypes(types); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const maxList = 1000

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return 100
	case n > maxList:
		return maxList
	}
	return n
}

func encodeTypes(m map[pii.Type]int) (string, error) {
	if m == nil {
		m = map[pii.Type]int{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode types: %w", err)
	}
	return string(b), nil
}

func decodeTypes(s string) (map[pii.Type]int, error) {
	m := map[pii.Type]int{}
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode types: %w", err)
	}
	return m, nil
}
