package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/facility-review-core/internal/facility"
	"github.com/nerrad567/facility-review-core/internal/review"
)

// ResourceRef names the resources a request touches. Nil fields are skipped.
type ResourceRef struct {
	CustomerID *int64
	DeviceID   *int64
	FacilityID *int64
	ReviewID   *int64
}

// ResourceAuthorizer checks that an admin owns the resources named in a
// ResourceRef by resolving each one to its customer's admin_id.
type ResourceAuthorizer struct {
	db *sql.DB
}

// NewResourceAuthorizer creates a ResourceAuthorizer.
func NewResourceAuthorizer(db *sql.DB) *ResourceAuthorizer {
	return &ResourceAuthorizer{db: db}
}

// Authorize checks the customer, then the device, then the facility, then
// the review. The first failure is returned. A missing record yields the
// owning package's not-found error; a record owned by another admin, or a
// facility outside the given customer, yields ErrPermissionDenied.
func (a *ResourceAuthorizer) Authorize(ctx context.Context, p Principal, ref ResourceRef) error {
	if ref.CustomerID != nil {
		owner, err := a.owner(ctx,
			`SELECT admin_id FROM customers WHERE id = ?`,
			*ref.CustomerID, facility.ErrCustomerNotFound)
		if err != nil {
			return err
		}
		if owner != p.AdminID {
			return ErrPermissionDenied
		}
	}

	if ref.DeviceID != nil {
		owner, err := a.owner(ctx,
			`SELECT c.admin_id FROM devices d
			 JOIN facilities f ON f.id = d.facility_id
			 JOIN customers c ON c.id = f.customer_id
			 WHERE d.id = ?`,
			*ref.DeviceID, facility.ErrDeviceNotFound)
		if err != nil {
			return err
		}
		if owner != p.AdminID {
			return ErrPermissionDenied
		}
	}

	if ref.FacilityID != nil {
		var owner, customerID int64
		err := a.db.QueryRowContext(ctx,
			`SELECT c.admin_id, c.id FROM facilities f
			 JOIN customers c ON c.id = f.customer_id
			 WHERE f.id = ?`, *ref.FacilityID).Scan(&owner, &customerID)
		if errors.Is(err, sql.ErrNoRows) {
			return facility.ErrFacilityNotFound
		}
		if err != nil {
			return fmt.Errorf("resolving facility owner: %w", err)
		}
		if owner != p.AdminID {
			return ErrPermissionDenied
		}
		if ref.CustomerID != nil && customerID != *ref.CustomerID {
			return ErrPermissionDenied
		}
	}

	if ref.ReviewID != nil {
		owner, err := a.owner(ctx,
			`SELECT c.admin_id FROM reviews r
			 JOIN customers c ON c.id = r.customer_id
			 WHERE r.id = ?`,
			*ref.ReviewID, review.ErrReviewNotFound)
		if err != nil {
			return err
		}
		if owner != p.AdminID {
			return ErrPermissionDenied
		}
	}

	return nil
}

func (a *ResourceAuthorizer) owner(ctx context.Context, query string, id int64, notFound error) (int64, error) {
	var adminID int64
	err := a.db.QueryRowContext(ctx, query, id).Scan(&adminID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolving owner: %w", err)
	}
	return adminID, nil
}
