package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/anthropics/decision-engine/internal/domain"
)

// EventRepo handles persistence for the per-session event journal.
type EventRepo struct{}

// Append inserts an event. The UNIQUE(session_id, seq) constraint rejects a
// duplicate sequence number, which would mean the single-writer discipline
// was violated upstream.
func (r *EventRepo) Append(ctx context.Context, db *sql.DB, event domain.Event) error {
	const q = `INSERT INTO session_events (session_id, seq, kind, payload_json, created_at_unix)
VALUES (?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		event.SessionID,
		event.Seq,
		event.Kind,
		event.PayloadJSON,
		event.CreatedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListBySession returns events for a session with sequence numbers greater
// than or equal to fromSeq, ordered by sequence number ascending.
func (r *EventRepo) ListBySession(ctx context.Context, db *sql.DB, sessionID string, fromSeq int64) ([]domain.Event, error) {
	const q = `SELECT session_id, seq, kind, payload_json, created_at_unix
FROM session_events
WHERE session_id = ? AND seq >= ?
ORDER BY seq ASC`

	rows, err := db.QueryContext(ctx, q, sessionID, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.SessionID, &e.Seq, &e.Kind, &e.PayloadJSON, &e.CreatedAtUnix); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// NextSeq returns the sequence number after the highest recorded for a
// session, or 0 for an unseen session. Used to warm the in-memory bus after
// a restart.
func (r *EventRepo) NextSeq(ctx context.Context, db *sql.DB, sessionID string) (int64, error) {
	const q = `SELECT COALESCE(MAX(seq) + 1, 0) FROM session_events WHERE session_id = ?`
	var next int64
	if err := db.QueryRowContext(ctx, q, sessionID).Scan(&next); err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return next, nil
}

// Journal adapts EventRepo to the event bus's journal sink.
type Journal struct {
	DB   *sql.DB
	Repo *EventRepo
}

// Append implements eventbus.Journal.
func (j *Journal) Append(ctx context.Context, event domain.Event) error {
	return j.Repo.Append(ctx, j.DB, event)
}

// NextSeq implements eventbus.Journal.
func (j *Journal) NextSeq(ctx context.Context, sessionID string) (int64, error) {
	return j.Repo.NextSeq(ctx, j.DB, sessionID)
}
