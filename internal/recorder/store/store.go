// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store persists the session journal. Recordings are part of
// the session row as a JSON document; the journal is an audit trail,
// not the source of truth for live state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver
)

const schemaVersion = 1

// RecordingRecord is one recording inside a journaled session.
type RecordingRecord struct {
	Camera    string    `json:"camera"`
	Path      string    `json:"path"`
	State     string    `json:"state"`
	Bytes     int64     `json:"bytes"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
}

// SessionRecord is one journaled session.
type SessionRecord struct {
	ID             string            `json:"id"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	State          string            `json:"state"`
	StartedAt      time.Time         `json:"started_at"`
	StoppedAt      time.Time         `json:"stopped_at,omitempty"`
	Recordings     []RecordingRecord `json:"recordings"`
}

// Store is the SQLite-backed session journal.
type Store struct {
	db *sql.DB
}

// Open initializes the journal database. WAL mode and a busy timeout
// are set for every pooled connection via the DSN.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open failed: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id      TEXT PRIMARY KEY,
		idempotency_key TEXT,
		state           TEXT NOT NULL,
		started_at_ms   INTEGER NOT NULL,
		stopped_at_ms   INTEGER,
		recordings_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at_ms DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	return err
}

// Save upserts a session record.
func (s *Store) Save(ctx context.Context, rec SessionRecord) error {
	recs, err := json.Marshal(rec.Recordings)
	if err != nil {
		return fmt.Errorf("journal: encode recordings: %w", err)
	}

	var stopped sql.NullInt64
	if !rec.StoppedAt.IsZero() {
		stopped = sql.NullInt64{Int64: rec.StoppedAt.UnixMilli(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, idempotency_key, state, started_at_ms, stopped_at_ms, recordings_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			state = excluded.state,
			stopped_at_ms = excluded.stopped_at_ms,
			recordings_json = excluded.recordings_json`,
		rec.ID, rec.IdempotencyKey, rec.State, rec.StartedAt.UnixMilli(), stopped, string(recs),
	)
	if err != nil {
		return fmt.Errorf("journal: save session %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns one session by id.
func (s *Store) Get(ctx context.Context, id string) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, idempotency_key, state, started_at_ms, stopped_at_ms, recordings_json
		FROM sessions WHERE session_id = ?`, id)
	return scanSession(row)
}

// List returns the most recent sessions, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, idempotency_key, state, started_at_ms, stopped_at_ms, recordings_json
		FROM sessions ORDER BY started_at_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionRecord, error) {
	var (
		rec       SessionRecord
		startedMs int64
		stoppedMs sql.NullInt64
		recsJSON  string
	)
	if err := row.Scan(&rec.ID, &rec.IdempotencyKey, &rec.State, &startedMs, &stoppedMs, &recsJSON); err != nil {
		return SessionRecord{}, err
	}
	rec.StartedAt = time.UnixMilli(startedMs).UTC()
	if stoppedMs.Valid {
		rec.StoppedAt = time.UnixMilli(stoppedMs.Int64).UTC()
	}
	if err := json.Unmarshal([]byte(recsJSON), &rec.Recordings); err != nil {
		return SessionRecord{}, fmt.Errorf("journal: decode recordings for %s: %w", rec.ID, err)
	}
	return rec, nil
}
