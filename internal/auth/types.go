package auth

import (
	"errors"
	"regexp"
	"time"
)

// loginIDPattern defines the valid format for login IDs:
// alphanumeric, dots, hyphens, underscores, @, 1-64 characters.
var loginIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._@-]{1,64}$`)

// IsValidLoginID checks if a login ID meets format requirements.
func IsValidLoginID(loginID string) bool {
	return loginIDPattern.MatchString(loginID)
}

// Admin is a back-office account. Admins own customers.
type Admin struct {
	ID           int64     `json:"id"`
	LoginID      string    `json:"login_id"`
	PasswordHash string    `json:"-"` // never serialised
	CreatedAt    time.Time `json:"created_at"`
}

// Principal is the authenticated admin behind a request.
type Principal struct {
	AdminID   int64
	LoginID   string
	SessionID string
	ExpiresAt time.Time
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAdminNotFound      = errors.New("admin not found")
	ErrAdminExists        = errors.New("admin login ID already exists")
	ErrInvalidLoginID     = errors.New("invalid login ID")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrPermissionDenied   = errors.New("permission denied")
)
