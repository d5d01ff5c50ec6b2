package access

import (
	"errors"
	"fmt"
)

// Codec errors.
var (
	ErrSignatureInvalid = errors.New("access: token signature invalid")
	ErrExpired          = errors.New("access: token past exp")
	ErrMalformed        = errors.New("access: token malformed")
)

// Gate errors. Each maps to one fixed API error code.
var (
	ErrInvalidAuthHeader    = errors.New("access: invalid authorization header")
	ErrInvalidToken         = errors.New("access: invalid token")
	ErrTokenExpired         = errors.New("access: token expired")
	ErrTokenNotYetValid     = errors.New("access: token not yet valid")
	ErrInvalidFacility      = errors.New("access: invalid facility")
	ErrInvalidFieldsInToken = errors.New("access: unexpected fields in token")
	ErrPermissionDenied     = errors.New("access: permission denied")
)

// ParameterMissingError reports a required claim absent from a token.
type ParameterMissingError struct {
	Field string
}

func (e *ParameterMissingError) Error() string {
	return fmt.Sprintf("access: parameter is required %q", e.Field)
}
