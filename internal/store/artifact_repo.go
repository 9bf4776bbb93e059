package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ArtifactRepo handles named blob artifacts attached to a session, e.g. the
// full simulation summary document.
type ArtifactRepo struct{}

// Put upserts a named blob with the given retention TTL.
func (r *ArtifactRepo) Put(ctx context.Context, db *sql.DB, sessionID, name string, body []byte, ttl time.Duration) error {
	const q = `INSERT OR REPLACE INTO artifacts (session_id, name, body, created_at_unix, expires_at_unix)
VALUES (?, ?, ?, ?, ?)`
	now := time.Now()
	_, err := db.ExecContext(ctx, q, sessionID, name, body, now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("put artifact: %w", err)
	}
	return nil
}

// Get returns a blob's body, or nil when absent or expired.
func (r *ArtifactRepo) Get(ctx context.Context, db *sql.DB, sessionID, name string) ([]byte, error) {
	const q = `SELECT body FROM artifacts
WHERE session_id = ? AND name = ? AND expires_at_unix > ?`

	var body []byte
	err := db.QueryRowContext(ctx, q, sessionID, name, time.Now().Unix()).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return body, nil
}

// List returns the names of a session's unexpired artifacts.
func (r *ArtifactRepo) List(ctx context.Context, db *sql.DB, sessionID string) ([]string, error) {
	const q = `SELECT name FROM artifacts
WHERE session_id = ? AND expires_at_unix > ?
ORDER BY name`

	rows, err := db.QueryContext(ctx, q, sessionID, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan artifact name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
