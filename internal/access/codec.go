package access

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/facility-review-core/internal/secrets"
)

// Codec signs and verifies contractor tokens with the application signing key.
type Codec struct {
	key []byte
}

// NewCodec creates a Codec keyed from sc.
func NewCodec(sc *secrets.Context) *Codec {
	return &Codec{key: sc.SigningKey()}
}

// Encode signs c. The token carries exactly the four claims and nothing else.
func (c *Codec) Encode(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"facility_id": claims.FacilityID,
		"customer_id": claims.CustomerID,
		"start_time":  claims.StartTime,
		"exp":         claims.Exp,
	})

	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and exp of token as of now and returns the
// verified JSON payload. exp is exclusive: a token is expired at its exp second.
func (c *Codec) Verify(token string, now time.Time) ([]byte, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithJSONNumber(),
	)

	_, err := parser.Parse(token, func(_ *jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrSignatureInvalid
		default:
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
	}

	// Parse succeeded, so the token has three segments.
	parts := strings.Split(token, ".")
	payload, err := parser.DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return payload, nil
}

// Decode verifies token and returns its claims. The claim set must be exact
// and every claim an integer.
func (c *Codec) Decode(token string, now time.Time) (Claims, error) {
	payload, err := c.Verify(token, now)
	if err != nil {
		return Claims{}, err
	}

	rc, err := decodeClaims(payload)
	if err != nil {
		return Claims{}, err
	}

	var out Claims
	for _, f := range []struct {
		raw []byte
		dst *int64
	}{
		{rc.FacilityID, &out.FacilityID},
		{rc.CustomerID, &out.CustomerID},
		{rc.StartTime, &out.StartTime},
		{rc.Exp, &out.Exp},
	} {
		n, ok := parseInt(f.raw)
		if !ok {
			return Claims{}, ErrMalformed
		}
		*f.dst = n
	}
	return out, nil
}
