package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/anthropics/decision-engine/internal/domain"
)

// SessionRepo handles persistence for Session records.
type SessionRepo struct{}

// Create inserts a new session.
func (r *SessionRepo) Create(ctx context.Context, db *sql.DB, s domain.Session) error {
	const q = `INSERT INTO sessions (session_id, status, created_at_unix, expires_at_unix)
VALUES (?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q, s.SessionID, string(s.Status), s.CreatedAtUnix, s.ExpiresAtUnix)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetByID retrieves a session. A session past its expiry is reported as
// ErrSessionExpired so callers treat follow-ups as fresh analyses.
func (r *SessionRepo) GetByID(ctx context.Context, db *sql.DB, sessionID string) (*domain.Session, error) {
	const q = `SELECT session_id, status, created_at_unix, expires_at_unix
FROM sessions WHERE session_id = ?`

	row := db.QueryRowContext(ctx, q, sessionID)

	var s domain.Session
	var status string
	err := row.Scan(&s.SessionID, &status, &s.CreatedAtUnix, &s.ExpiresAtUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.Status = domain.SessionStatus(status)

	if s.ExpiresAtUnix <= time.Now().Unix() {
		return nil, domain.ErrSessionExpired
	}
	return &s, nil
}

// UpdateStatus sets a session's status.
func (r *SessionRepo) UpdateStatus(ctx context.Context, db *sql.DB, sessionID string, status domain.SessionStatus) error {
	res, err := db.ExecContext(ctx,
		`UPDATE sessions SET status = ? WHERE session_id = ?`, string(status), sessionID)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// ExtendExpiry pushes a session's expiry out to now+ttl. Every follow-up
// renews retention for the whole session.
func (r *SessionRepo) ExtendExpiry(ctx context.Context, db *sql.DB, sessionID string, ttl time.Duration) error {
	_, err := db.ExecContext(ctx,
		`UPDATE sessions SET expires_at_unix = ? WHERE session_id = ?`,
		time.Now().Add(ttl).Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("extend session expiry: %w", err)
	}
	return nil
}

// PurgeExpired removes expired sessions together with their results, events,
// and artifacts, and returns the purged session ids so callers can release
// any in-memory state tied to them.
func (r *SessionRepo) PurgeExpired(ctx context.Context, db *sql.DB) ([]string, error) {
	now := time.Now().Unix()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const sel = `SELECT session_id FROM sessions WHERE expires_at_unix <= ?`
	rows, err := tx.QueryContext(ctx, sel, now)
	if err != nil {
		return nil, fmt.Errorf("select expired sessions: %w", err)
	}
	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired session: %w", err)
		}
		expired = append(expired, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range expired {
		for _, q := range []string{
			`DELETE FROM task_results WHERE session_id = ?`,
			`DELETE FROM session_events WHERE session_id = ?`,
			`DELETE FROM artifacts WHERE session_id = ?`,
			`DELETE FROM sessions WHERE session_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return nil, fmt.Errorf("purge session %s: %w", id, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return expired, nil
}
