package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AdminRepository persists admin accounts.
type AdminRepository interface {
	Create(ctx context.Context, admin *Admin) error
	GetByID(ctx context.Context, id int64) (*Admin, error)
	GetByLoginID(ctx context.Context, loginID string) (*Admin, error)
	Count(ctx context.Context) (int, error)
}

// SQLiteAdminRepository implements AdminRepository using SQLite.
type SQLiteAdminRepository struct {
	db *sql.DB
}

// NewAdminRepository creates a new SQLite-backed admin repository.
func NewAdminRepository(db *sql.DB) *SQLiteAdminRepository {
	return &SQLiteAdminRepository{db: db}
}

// Create inserts a new admin and sets its ID and CreatedAt.
func (r *SQLiteAdminRepository) Create(ctx context.Context, admin *Admin) error {
	if !IsValidLoginID(admin.LoginID) {
		return ErrInvalidLoginID
	}
	if admin.CreatedAt.IsZero() {
		admin.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO admins (login_id, password_hash, created_at) VALUES (?, ?, ?)`,
		admin.LoginID, admin.PasswordHash, admin.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAdminExists
		}
		return fmt.Errorf("inserting admin: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading admin id: %w", err)
	}
	admin.ID = id
	return nil
}

// GetByID retrieves an admin by ID.
func (r *SQLiteAdminRepository) GetByID(ctx context.Context, id int64) (*Admin, error) {
	return r.get(ctx, `SELECT id, login_id, password_hash, created_at FROM admins WHERE id = ?`, id)
}

// GetByLoginID retrieves an admin by login ID.
func (r *SQLiteAdminRepository) GetByLoginID(ctx context.Context, loginID string) (*Admin, error) {
	return r.get(ctx, `SELECT id, login_id, password_hash, created_at FROM admins WHERE login_id = ?`, loginID)
}

func (r *SQLiteAdminRepository) get(ctx context.Context, query string, arg any) (*Admin, error) {
	var a Admin
	var createdAt string
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&a.ID, &a.LoginID, &a.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAdminNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying admin: %w", err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // written by Create
	return &a, nil
}

// Count returns the number of admins.
func (r *SQLiteAdminRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting admins: %w", err)
	}
	return n, nil
}
