package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/anthropics/decision-engine/internal/domain"
)

// ResultRepo handles persistence for TaskResult records keyed by
// (session_id, task_id, fingerprint).
type ResultRepo struct{}

// Put upserts a task result with the given retention TTL. Overwriting is
// deliberate: a retried or superseded dispatch replaces the prior record for
// the same fingerprint.
func (r *ResultRepo) Put(ctx context.Context, db *sql.DB, sessionID string, result domain.TaskResult, ttl time.Duration) error {
	const q = `INSERT OR REPLACE INTO task_results
(session_id, task_id, fingerprint, status, output_json, attempts, degraded, error, started_at_unix, completed_at_unix, expires_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	output := "{}"
	if len(result.Output) > 0 {
		output = string(result.Output)
	}
	degraded := 0
	if result.Degraded {
		degraded = 1
	}

	_, err := db.ExecContext(ctx, q,
		sessionID,
		result.TaskID,
		result.ParamsFingerprint,
		string(result.Status),
		output,
		result.Attempts,
		degraded,
		result.Error,
		result.StartedAtUnix,
		result.CompletedAtUnix,
		time.Now().Add(ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("put task result: %w", err)
	}
	return nil
}

// Get returns the stored result for (session_id, task_id, fingerprint), or
// nil when absent or expired. An expired record is a cache miss by contract.
func (r *ResultRepo) Get(ctx context.Context, db *sql.DB, sessionID, taskID, fingerprint string) (*domain.TaskResult, error) {
	const q = `SELECT task_id, fingerprint, status, output_json, attempts, degraded, error, started_at_unix, completed_at_unix
FROM task_results
WHERE session_id = ? AND task_id = ? AND fingerprint = ? AND expires_at_unix > ?`

	row := db.QueryRowContext(ctx, q, sessionID, taskID, fingerprint, time.Now().Unix())
	res, err := scanResult(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task result: %w", err)
	}
	return res, nil
}

// ListBySession returns all unexpired results for a session.
func (r *ResultRepo) ListBySession(ctx context.Context, db *sql.DB, sessionID string) ([]domain.TaskResult, error) {
	const q = `SELECT task_id, fingerprint, status, output_json, attempts, degraded, error, started_at_unix, completed_at_unix
FROM task_results
WHERE session_id = ? AND expires_at_unix > ?
ORDER BY task_id, completed_at_unix`

	rows, err := db.QueryContext(ctx, q, sessionID, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("list task results: %w", err)
	}
	defer rows.Close()

	var results []domain.TaskResult
	for rows.Next() {
		res, err := scanResult(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		results = append(results, *res)
	}
	return results, rows.Err()
}

// PurgeExpired deletes results past their TTL and returns the removed count.
func (r *ResultRepo) PurgeExpired(ctx context.Context, db *sql.DB) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM task_results WHERE expires_at_unix <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("purge task results: %w", err)
	}
	return res.RowsAffected()
}

func scanResult(scan func(...any) error) (*domain.TaskResult, error) {
	var res domain.TaskResult
	var status, output string
	var degraded int
	err := scan(&res.TaskID, &res.ParamsFingerprint, &status, &output,
		&res.Attempts, &degraded, &res.Error, &res.StartedAtUnix, &res.CompletedAtUnix)
	if err != nil {
		return nil, err
	}
	res.Status = domain.TaskStatus(status)
	res.Output = []byte(output)
	res.Degraded = degraded != 0
	return &res, nil
}
