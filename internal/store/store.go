// Package store persists users, sessions and completed turns in
// Postgres, with an in-memory variant for tests and single-node runs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	core "github.com/parallaxsearch/parallax/internal/agent/core"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// TurnStore is the persistence surface the stream manager needs.
type TurnStore interface {
	SaveTurn(ctx context.Context, out core.Outcome) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]core.Outcome, error)
	TouchSession(ctx context.Context, sessionID, userID string) error
}

// Store is the Postgres implementation.
type Store struct {
	DB *sql.DB
}

// NewWithDSN connects to Postgres with an explicit DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	return
}

// Session operations

// TouchSession upserts the session row and bumps its last_active time.
func (s *Store) TouchSession(ctx context.Context, sessionID, userID string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO sessions (id, user_id, last_active) VALUES ($1,$2,NOW())
ON CONFLICT (id) DO UPDATE SET last_active = NOW();
`, sessionID, nullable(userID))
	return err
}

// DeleteIdleSessions removes sessions whose last activity is older than
// the cutoff and returns how many were removed.
func (s *Store) DeleteIdleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM sessions WHERE last_active < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Turn operations

func (s *Store) SaveTurn(ctx context.Context, out core.Outcome) error {
	citations, err := json.Marshal(out.Citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}
	artifacts, err := json.Marshal(out.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	execLog, err := json.Marshal(out.Log)
	if err != nil {
		return fmt.Errorf("marshal log: %w", err)
	}
	warnings, err := json.Marshal(out.Warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
INSERT INTO turns (id, session_id, question, answer, confidence, citations, artifacts, warnings, iterations, execution_log, error, started_at, completed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO NOTHING;
`, out.TurnID, out.SessionID, out.Question, out.Answer, out.Confidence,
		citations, artifacts, warnings, out.Iterations, execLog,
		nullable(out.Error), out.StartedAt, out.CompletedAt)
	return err
}

// RecentTurns returns the session's latest turns, newest first.
func (s *Store) RecentTurns(ctx context.Context, sessionID string, limit int) ([]core.Outcome, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, question, answer, confidence, citations, artifacts, warnings, iterations, error, started_at, completed_at
FROM turns WHERE session_id=$1 ORDER BY started_at DESC LIMIT $2
`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Outcome
	for rows.Next() {
		var o core.Outcome
		var citations, artifacts, warnings []byte
		var errText sql.NullString
		if err := rows.Scan(&o.TurnID, &o.SessionID, &o.Question, &o.Answer, &o.Confidence,
			&citations, &artifacts, &warnings, &o.Iterations, &errText, &o.StartedAt, &o.CompletedAt); err != nil {
			return nil, err
		}
		if len(citations) > 0 {
			_ = json.Unmarshal(citations, &o.Citations)
		}
		if len(artifacts) > 0 {
			_ = json.Unmarshal(artifacts, &o.Artifacts)
		}
		if len(warnings) > 0 {
			_ = json.Unmarshal(warnings, &o.Warnings)
		}
		if errText.Valid {
			o.Error = errText.String
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
