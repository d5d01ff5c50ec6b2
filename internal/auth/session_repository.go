package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SessionRepository tracks revoked admin sessions.
type SessionRepository interface {
	Revoke(ctx context.Context, sessionID string, adminID int64, expiresAt time.Time) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SQLiteSessionRepository implements SessionRepository using SQLite.
type SQLiteSessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SQLite-backed session repository.
func NewSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

// Revoke records sessionID as revoked. Revoking twice is not an error.
func (r *SQLiteSessionRepository) Revoke(ctx context.Context, sessionID string, adminID int64, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO revoked_sessions (session_id, admin_id, expires_at, revoked_at) VALUES (?, ?, ?, ?)`,
		sessionID, adminID,
		expiresAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}

// IsRevoked reports whether sessionID has been revoked.
func (r *SQLiteSessionRepository) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM revoked_sessions WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking session revocation: %w", err)
	}
	return n > 0, nil
}

// DeleteExpired removes revocations whose token would have expired by now.
// Returns the number of rows removed.
func (r *SQLiteSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM revoked_sessions WHERE expires_at < ?`, now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("deleting expired revocations: %w", err)
	}
	return res.RowsAffected()
}
