package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// querier is satisfied by *sql.DB and *sql.Tx so the same queries serve
// plain reads and transactional reads.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const reviewColumns = `id, device_id, facility_id, customer_id, result, review_comment, image_blob,
	created_at_utc, last_updated_by, last_updated_at_utc`

// chainOrder puts the latest review first. Ties on the timestamp fall back to id.
const chainOrder = `ORDER BY created_at_utc DESC, id DESC`

func scanReview(s scanner) (*Review, error) {
	var r Review
	var createdAt, updatedAt int64
	if err := s.Scan(&r.ID, &r.DeviceID, &r.FacilityID, &r.CustomerID, &r.Result, &r.Comment, &r.Image,
		&createdAt, &r.LastUpdatedBy, &updatedAt); err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	r.LastUpdatedAt = time.Unix(0, updatedAt).UTC()
	return &r, nil
}

func queryReview(ctx context.Context, q querier, query string, args ...any) (*Review, error) {
	r, err := scanReview(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("querying review: %w", err)
	}
	return r, nil
}

func getReview(ctx context.Context, q querier, id int64) (*Review, error) {
	return queryReview(ctx, q, `SELECT `+reviewColumns+` FROM reviews WHERE id = ?`, id)
}

// latestInChain returns the latest review of a (device, facility, customer) chain.
func latestInChain(ctx context.Context, q querier, deviceID, facilityID, customerID int64) (*Review, error) {
	return queryReview(ctx, q,
		`SELECT `+reviewColumns+` FROM reviews
		 WHERE device_id = ? AND facility_id = ? AND customer_id = ? `+chainOrder+` LIMIT 1`,
		deviceID, facilityID, customerID)
}

// pendingInChain returns the newest outstanding review of a chain.
func pendingInChain(ctx context.Context, q querier, deviceID, facilityID, customerID int64) (*Review, error) {
	return queryReview(ctx, q,
		`SELECT `+reviewColumns+` FROM reviews
		 WHERE device_id = ? AND facility_id = ? AND customer_id = ? AND result = ? `+chainOrder+` LIMIT 1`,
		deviceID, facilityID, customerID, RequestingForReview)
}

// Store serves review reads outside the state machine.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns a review by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Review, error) {
	return getReview(ctx, s.db, id)
}

// LatestForDevice returns the device's latest review at a facility.
func (s *Store) LatestForDevice(ctx context.Context, deviceID, facilityID int64) (*Review, error) {
	return queryReview(ctx, s.db,
		`SELECT `+reviewColumns+` FROM reviews WHERE device_id = ? AND facility_id = ? `+chainOrder+` LIMIT 1`,
		deviceID, facilityID)
}

// LatestRejected returns the device's most recent rejected review at a facility.
func (s *Store) LatestRejected(ctx context.Context, deviceID, facilityID int64) (*Review, error) {
	return queryReview(ctx, s.db,
		`SELECT `+reviewColumns+` FROM reviews WHERE device_id = ? AND facility_id = ? AND result = ? `+chainOrder+` LIMIT 1`,
		deviceID, facilityID, Rejected)
}

// LatestResults returns the latest review result of every reviewed device at
// a facility, keyed by device ID. Devices without reviews are absent.
func (s *Store) LatestResults(ctx context.Context, facilityID int64) (map[int64]Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, result FROM (
			SELECT device_id, result,
				ROW_NUMBER() OVER (PARTITION BY device_id `+chainOrder+`) AS rn
			FROM reviews WHERE facility_id = ?
		) WHERE rn = 1`, facilityID)
	if err != nil {
		return nil, fmt.Errorf("querying latest results: %w", err)
	}
	defer rows.Close()

	results := make(map[int64]Result)
	for rows.Next() {
		var deviceID int64
		var r Result
		if err := rows.Scan(&deviceID, &r); err != nil {
			return nil, fmt.Errorf("scanning latest result: %w", err)
		}
		results[deviceID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating latest results: %w", err)
	}
	return results, nil
}

// History returns one page of a device's reviews, newest first, and the
// total number of reviews for the device. Page is 1-based.
func (s *Store) History(ctx context.Context, deviceID int64, page, pageSize int) ([]Review, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reviews WHERE device_id = ?`, deviceID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting reviews: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE device_id = ? `+chainOrder+` LIMIT ? OFFSET ?`,
		deviceID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("listing reviews: %w", err)
	}
	defer rows.Close()

	reviews := []Review{}
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning review: %w", err)
		}
		reviews = append(reviews, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating reviews: %w", err)
	}
	return reviews, total, nil
}
