package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/facility-review-core/internal/facility"
)

// FacilityStore is the catalogue view the gate needs.
type FacilityStore interface {
	GetFacilityForCustomer(ctx context.Context, id, customerID int64) (*facility.Facility, error)
	GetDevice(ctx context.Context, id int64) (*facility.Device, error)
}

// AuthContext is the result of a successful authorization.
type AuthContext struct {
	FacilityID int64
	CustomerID int64
}

// Gate authorizes contractor requests. It never writes.
type Gate struct {
	codec *Codec
	store FacilityStore
}

// NewGate creates a Gate.
func NewGate(codec *Codec, store FacilityStore) *Gate {
	return &Gate{codec: codec, store: store}
}

const bearerPrefix = "Bearer "

// Authorize validates an Authorization header value as of now.
//
// Checks run in a fixed order and the first failure is returned: header
// shape, signature and exp, exact claim set, facility lookup by
// (facility_id, customer_id), then the token window against the facility's
// current effective window. All window bounds are inclusive.
func (g *Gate) Authorize(ctx context.Context, header string, now time.Time) (AuthContext, error) {
	token, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok || token == "" || strings.ContainsAny(token, " \t") {
		return AuthContext{}, ErrInvalidAuthHeader
	}

	payload, err := g.codec.Verify(token, now)
	if err != nil {
		if errors.Is(err, ErrExpired) {
			return AuthContext{}, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return AuthContext{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	rc, err := decodeClaims(payload)
	if err != nil {
		var missing *ParameterMissingError
		if errors.As(err, &missing) || errors.Is(err, ErrInvalidFieldsInToken) {
			return AuthContext{}, err
		}
		return AuthContext{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	// A non-integer id cannot name a facility.
	facilityID, okF := parseInt(rc.FacilityID)
	customerID, okC := parseInt(rc.CustomerID)
	if !okF || !okC {
		return AuthContext{}, ErrInvalidFacility
	}

	f, err := g.store.GetFacilityForCustomer(ctx, facilityID, customerID)
	if err != nil {
		if errors.Is(err, facility.ErrFacilityNotFound) {
			return AuthContext{}, ErrInvalidFacility
		}
		return AuthContext{}, fmt.Errorf("looking up facility: %w", err)
	}

	effStart, effEnd, err := f.Window()
	if err != nil {
		return AuthContext{}, fmt.Errorf("%w: %w", ErrInvalidFacility, err)
	}

	nowSec := now.Unix()

	start, ok := parseInt(rc.StartTime)
	if !ok || nowSec < start || start < effStart.Unix() {
		return AuthContext{}, ErrTokenNotYetValid
	}

	exp, ok := parseInt(rc.Exp)
	if !ok || nowSec > exp || exp > effEnd.Unix() {
		return AuthContext{}, ErrTokenExpired
	}

	return AuthContext{FacilityID: facilityID, CustomerID: customerID}, nil
}

// AuthorizeDevice narrows an authorized request to one device, which must
// exist and belong to the token's facility.
func (g *Gate) AuthorizeDevice(ctx context.Context, deviceID int64, ac AuthContext) (*facility.Device, error) {
	d, err := g.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if d.FacilityID != ac.FacilityID {
		return nil, ErrPermissionDenied
	}
	return d, nil
}
