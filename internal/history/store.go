// Package history archives finished provisioning attempts in SQLite so
// operators can inspect outcomes after the in-memory session records are
// reclaimed.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/storeforge/storeforge/pkg/provision"
)

// Attempt is one archived provisioning attempt.
type Attempt struct {
	SessionID     string    `json:"sessionId"`
	TargetID      string    `json:"targetId"`
	State         string    `json:"state"`
	FailureReason string    `json:"failureReason,omitempty"`
	FailureDetail string    `json:"failureDetail,omitempty"`
	Domain        string    `json:"domain,omitempty"`
	AdminURL      string    `json:"adminUrl,omitempty"`
	CodeAttempts  int       `json:"codeAttempts"`
	CreatedAt     time.Time `json:"createdAt"`
	FinishedAt    time.Time `json:"finishedAt"`
}

// Store persists finished sessions. It implements provision.Recorder.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (or creates) the archive database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("history database path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "history").Logger(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	return s, nil
}

// initSchema creates the archive table.
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS attempts (
			session_id TEXT PRIMARY KEY,
			target_id TEXT NOT NULL,
			state TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			failure_detail TEXT NOT NULL DEFAULT '',
			domain TEXT NOT NULL DEFAULT '',
			admin_url TEXT NOT NULL DEFAULT '',
			code_attempts INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_attempts_target ON attempts(target_id);
		CREATE INDEX IF NOT EXISTS idx_attempts_finished ON attempts(finished_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record archives a terminal session. Re-recording the same session id
// overwrites the previous row, which keeps the call idempotent.
func (s *Store) Record(session provision.Session) error {
	var reason, detail, domain, adminURL string
	if session.Failure != nil {
		reason = string(session.Failure.Reason)
		detail = session.Failure.Detail
	}
	if session.Result != nil {
		domain = session.Result.Domain
		adminURL = session.Result.AdminURL
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO attempts
			(session_id, target_id, state, failure_reason, failure_detail,
			 domain, admin_url, code_attempts, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.TargetID,
		string(session.State),
		reason,
		detail,
		domain,
		adminURL,
		session.CodeAttempts,
		session.CreatedAt.UnixMilli(),
		session.LastActivityAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	s.logger.Debug().
		Str("session_id", session.ID).
		Str("state", string(session.State)).
		Msg("Attempt archived")
	return nil
}

// Recent returns the most recently finished attempts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, target_id, state, failure_reason, failure_detail,
		       domain, admin_url, code_attempts, created_at, finished_at
		FROM attempts
		ORDER BY finished_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]Attempt, 0, limit)
	for rows.Next() {
		var a Attempt
		var createdAt, finishedAt int64
		if err := rows.Scan(
			&a.SessionID, &a.TargetID, &a.State,
			&a.FailureReason, &a.FailureDetail,
			&a.Domain, &a.AdminURL, &a.CodeAttempts,
			&createdAt, &finishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.CreatedAt = time.UnixMilli(createdAt).UTC()
		a.FinishedAt = time.UnixMilli(finishedAt).UTC()
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
