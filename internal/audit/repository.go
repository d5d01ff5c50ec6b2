package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditLog is one recorded admin or contractor action.
type AuditLog struct { //nolint:revive // audit.AuditLog reads better than audit.Log at call sites
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	AdminID    int64          `json:"admin_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	AdminID    int64
	Limit      int // 1..maxPageSize, defaults to defaultPageSize
	Offset     int
}

// ListResult is one page of audit logs, newest first.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Repository persists audit logs.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

const (
	defaultPageSize = 50
	maxPageSize     = 200

	// timestampLayout is fixed width so created_at sorts as text.
	timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

	selectColumns = "id, action, entity_type, entity_id, admin_id, source, details, created_at"
)

// SQLiteRepository is the SQLite-backed Repository.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository wraps db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create stores entry, assigning an ID and timestamp when missing.
func (r *SQLiteRepository) Create(ctx context.Context, entry *AuditLog) error {
	if entry.ID == "" {
		entry.ID = "aud-" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var details any
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("encoding audit details: %w", err)
		}
		details = string(b)
	}

	var adminID any
	if entry.AdminID != 0 {
		adminID = entry.AdminID
	}

	if _, err := r.db.ExecContext(ctx,
		"INSERT INTO audit_logs ("+selectColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		entry.ID, entry.Action, entry.EntityType, entry.EntityID, adminID,
		entry.Source, details, entry.CreatedAt.UTC().Format(timestampLayout),
	); err != nil {
		return fmt.Errorf("storing audit log %s: %w", entry.ID, err)
	}
	return nil
}

// whereClause collects equality conditions with their bound arguments.
type whereClause struct {
	conds []string
	args  []any
}

func (w *whereClause) eq(column string, value any, set bool) {
	if set {
		w.conds = append(w.conds, column+" = ?")
		w.args = append(w.args, value)
	}
}

func (w *whereClause) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// List returns one page of logs matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultPageSize
	case filter.Limit > maxPageSize:
		filter.Limit = maxPageSize
	}
	filter.Offset = max(filter.Offset, 0)

	var w whereClause
	w.eq("action", filter.Action, filter.Action != "")
	w.eq("entity_type", filter.EntityType, filter.EntityType != "")
	w.eq("entity_id", filter.EntityID, filter.EntityID != "")
	w.eq("admin_id", filter.AdminID, filter.AdminID != 0)

	// Only column names and placeholders are interpolated.
	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+w.String(), w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	query := "SELECT " + selectColumns + " FROM audit_logs" + w.String() + //nolint:gosec // placeholders only
		" ORDER BY created_at DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(w.args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("listing audit logs: %w", err)
	}
	defer rows.Close()

	logs := []AuditLog{}
	for rows.Next() {
		entry, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing audit logs: %w", err)
	}

	return &ListResult{Logs: logs, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func scanAuditLog(rows *sql.Rows) (AuditLog, error) {
	var (
		entry     AuditLog
		adminID   sql.NullInt64
		details   sql.NullString
		createdAt string
	)
	if err := rows.Scan(&entry.ID, &entry.Action, &entry.EntityType, &entry.EntityID,
		&adminID, &entry.Source, &details, &createdAt); err != nil {
		return entry, fmt.Errorf("reading audit log row: %w", err)
	}
	entry.AdminID = adminID.Int64

	// Undecodable details are dropped rather than failing the page.
	if details.String != "" {
		_ = json.Unmarshal([]byte(details.String), &entry.Details)
	}

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return entry, fmt.Errorf("audit log %s has bad timestamp %q: %w", entry.ID, createdAt, err)
	}
	entry.CreatedAt = ts
	return entry, nil
}
