package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service authenticates admins and manages their sessions.
type Service struct {
	admins   AdminRepository
	sessions SessionRepository
	issuer   *Issuer
}

// NewService creates an admin auth Service.
func NewService(admins AdminRepository, sessions SessionRepository, issuer *Issuer) *Service {
	return &Service{admins: admins, sessions: sessions, issuer: issuer}
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
	Admin     *Admin    `json:"admin"`
}

// Login verifies credentials and issues a session token.
// Unknown login IDs and wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, loginID, password string) (*LoginResult, error) {
	admin, err := s.admins.GetByLoginID(ctx, loginID)
	if errors.Is(err, ErrAdminNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := VerifyPassword(password, admin.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}

	token, claims, err := s.issuer.Issue(admin)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, ExpiresAt: claims.ExpiresAt.Time, Admin: admin}, nil
}

// CreateAdmin hashes password and stores a new admin. A taken login ID
// yields ErrAdminExists.
func (s *Service) CreateAdmin(ctx context.Context, loginID, password string) (*Admin, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	admin := &Admin{LoginID: loginID, PasswordHash: hash}
	if err := s.admins.Create(ctx, admin); err != nil {
		return nil, err
	}
	return admin, nil
}

// Authenticate resolves an Authorization header to a Principal.
func (s *Service) Authenticate(ctx context.Context, header string) (Principal, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return Principal{}, ErrTokenInvalid
	}

	claims, err := s.issuer.Parse(token)
	if err != nil {
		return Principal{}, err
	}

	revoked, err := s.sessions.IsRevoked(ctx, claims.ID)
	if err != nil {
		return Principal{}, err
	}
	if revoked {
		return Principal{}, ErrTokenRevoked
	}

	adminID, err := claims.AdminID()
	if err != nil {
		return Principal{}, err
	}
	// The admin may have been removed since the token was issued.
	if _, err := s.admins.GetByID(ctx, adminID); err != nil {
		if errors.Is(err, ErrAdminNotFound) {
			return Principal{}, ErrTokenInvalid
		}
		return Principal{}, err
	}

	return Principal{
		AdminID:   adminID,
		LoginID:   claims.LoginID,
		SessionID: claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes the principal's session.
func (s *Service) Logout(ctx context.Context, p Principal) error {
	if err := s.sessions.Revoke(ctx, p.SessionID, p.AdminID, p.ExpiresAt); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the Principal stored by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
