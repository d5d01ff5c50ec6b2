package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// sessionIssuer is the iss claim on admin session tokens.
const sessionIssuer = "reviewcore-admin"

// SessionClaims are the JWT claims carried by an admin session token.
// Subject holds the admin ID and ID holds the session ID used for revocation.
type SessionClaims struct {
	jwt.RegisteredClaims
	LoginID string `json:"login_id"`
}

// AdminID parses the subject as an admin ID.
func (c *SessionClaims) AdminID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: subject %q", ErrTokenInvalid, c.Subject)
	}
	return id, nil
}

// Issuer mints and parses admin session tokens.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewIssuer creates an Issuer. A nil clock means time.Now.
func NewIssuer(key []byte, ttl time.Duration, clock func() time.Time) *Issuer {
	if clock == nil {
		clock = time.Now
	}
	return &Issuer{key: key, ttl: ttl, now: clock}
}

// Issue creates a signed session token for admin.
func (i *Issuer) Issue(admin *Admin) (string, *SessionClaims, error) {
	now := i.now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   strconv.FormatInt(admin.ID, 10),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		LoginID: admin.LoginID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", nil, fmt.Errorf("signing session token: %w", err)
	}
	return signed, claims, nil
}

// Parse validates a session token and returns its claims.
// Only HS256 is accepted.
func (i *Issuer) Parse(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{},
		func(_ *jwt.Token) (any, error) { return i.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || claims.ID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
