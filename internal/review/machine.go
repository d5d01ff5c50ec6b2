package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nerrad567/facility-review-core/internal/facility"
	"github.com/nerrad567/facility-review-core/internal/infrastructure/database"
	"github.com/nerrad567/facility-review-core/internal/infrastructure/logging"
)

// MachineConfig holds the Machine's collaborators.
type MachineConfig struct {
	DB        database.ConnPool
	TxTimeout time.Duration
	Logger    *logging.Logger

	// TxMaxWait bounds the wait for a database connection. Zero waits
	// until TxTimeout or the request context ends.
	TxMaxWait time.Duration

	// Observer is optional.
	Observer Observer

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Machine applies review transitions.
type Machine struct {
	db        database.ConnPool
	txLimits  database.TxLimits
	logger    *logging.Logger
	observer  Observer
	now       func() time.Time
}

// NewMachine creates a Machine.
func NewMachine(cfg MachineConfig) *Machine {
	m := &Machine{
		db:        cfg.DB,
		txLimits:  database.TxLimits{MaxWait: cfg.TxMaxWait, Timeout: cfg.TxTimeout},
		logger:    cfg.Logger,
		observer:  cfg.Observer,
		now:       cfg.Clock,
	}
	if m.logger == nil {
		m.logger = logging.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Submit records a contractor submission.
//
// An outstanding REQUESTING_FOR_REVIEW review in the chain is returned as is,
// so retries never create duplicates. A chain whose latest review is APPROVED
// rejects the submission with ErrApprovedLocked. Otherwise a new review is
// inserted and the device result set to REQUESTING_FOR_REVIEW, together.
//
// The caller has already checked that the device belongs to the facility.
func (m *Machine) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	var res SubmitResult
	var created Review

	err := database.RunTx(ctx, m.db, m.txLimits, func(ctx context.Context, tx *sql.Tx) error {
		pending, err := pendingInChain(ctx, tx, req.DeviceID, req.FacilityID, req.CustomerID)
		if err == nil {
			res = SubmitResult{ReviewID: pending.ID}
			return nil
		}
		if !errors.Is(err, ErrReviewNotFound) {
			return err
		}

		latest, err := latestInChain(ctx, tx, req.DeviceID, req.FacilityID, req.CustomerID)
		switch {
		case err == nil && latest.Result == Approved:
			return ErrApprovedLocked
		case err != nil && !errors.Is(err, ErrReviewNotFound):
			return err
		}

		now := m.now().UTC()
		ins, err := tx.ExecContext(ctx,
			`INSERT INTO reviews (device_id, facility_id, customer_id, result, review_comment, image_blob,
				created_at_utc, last_updated_by, last_updated_at_utc)
			 VALUES (?, ?, ?, ?, '', ?, ?, '', ?)`,
			req.DeviceID, req.FacilityID, req.CustomerID, RequestingForReview, req.Image,
			now.UnixNano(), now.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("inserting review: %w", err)
		}
		id, err := ins.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading review id: %w", err)
		}

		if err := setDeviceResult(ctx, tx, req.DeviceID, RequestingForReview); err != nil {
			return err
		}

		res = SubmitResult{ReviewID: id, Created: true}
		created = Review{
			ID:            id,
			DeviceID:      req.DeviceID,
			FacilityID:    req.FacilityID,
			CustomerID:    req.CustomerID,
			Result:        RequestingForReview,
			CreatedAt:     now,
			LastUpdatedAt: now,
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrApprovedLocked), errors.Is(err, facility.ErrDeviceNotFound):
			return SubmitResult{}, err
		case errors.Is(err, database.ErrTxTimeout):
			m.logger.Error("review submission timed out", "device_id", req.DeviceID, "error", err)
			return SubmitResult{}, fmt.Errorf("%w: %w", ErrTransactionTimeout, err)
		default:
			m.logger.Error("review submission failed", "device_id", req.DeviceID, "error", err)
			return SubmitResult{}, fmt.Errorf("%w: %w", ErrCreationFailed, err)
		}
	}

	if res.Created {
		m.notify(ctx, Event{Type: EventSubmitted, Review: created, At: created.CreatedAt})
	}
	return res, nil
}

// Decide applies an admin's approval or rejection.
//
// A rejection needs a non-blank comment; an absent comment is stored as "".
// The update only applies if the review is still the latest in its chain:
// the check and the write are one conditional UPDATE, so a newer submission
// committed first makes the decision fail with ErrApproveStale or
// ErrRejectStale. The device result is updated in the same transaction.
func (m *Machine) Decide(ctx context.Context, req DecideRequest) (Result, error) {
	if req.Result != Approved && req.Result != Rejected {
		return 0, ErrInvalidDecision
	}

	comment := strings.TrimSpace(req.Comment)
	if req.Result == Rejected && comment == "" {
		return 0, ErrRejectWithoutComment
	}
	if utf8.RuneCountInString(comment) > MaxCommentLength {
		return 0, ErrCommentTooLong
	}

	stale := ErrApproveStale
	if req.Result == Rejected {
		stale = ErrRejectStale
	}

	var decided Review
	err := database.RunTx(ctx, m.db, m.txLimits, func(ctx context.Context, tx *sql.Tx) error {
		rv, err := getReview(ctx, tx, req.ReviewID)
		if err != nil {
			return err
		}

		var facilityID int64
		err = tx.QueryRowContext(ctx, `SELECT id FROM facilities WHERE id = ?`, rv.FacilityID).Scan(&facilityID)
		if errors.Is(err, sql.ErrNoRows) {
			return facility.ErrFacilityNotFound
		}
		if err != nil {
			return fmt.Errorf("checking facility: %w", err)
		}

		now := m.now().UTC()
		updatedBy := strconv.FormatInt(req.AdminID, 10)
		upd, err := tx.ExecContext(ctx,
			`UPDATE reviews SET result = ?, review_comment = ?, last_updated_by = ?, last_updated_at_utc = ?
			 WHERE id = ? AND id = (
				SELECT id FROM reviews
				WHERE device_id = ? AND facility_id = ? AND customer_id = ?
				`+chainOrder+` LIMIT 1)`,
			req.Result, comment, updatedBy, now.UnixNano(),
			rv.ID, rv.DeviceID, rv.FacilityID, rv.CustomerID,
		)
		if err != nil {
			return fmt.Errorf("updating review: %w", err)
		}
		if n, _ := upd.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
			return stale
		}

		if err := setDeviceResult(ctx, tx, rv.DeviceID, req.Result); err != nil {
			return err
		}

		decided = *rv
		decided.Result = req.Result
		decided.Comment = comment
		decided.LastUpdatedBy = updatedBy
		decided.LastUpdatedAt = now
		decided.Image = ""
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrReviewNotFound), errors.Is(err, facility.ErrFacilityNotFound),
			errors.Is(err, facility.ErrDeviceNotFound), errors.Is(err, stale):
			return 0, err
		case errors.Is(err, database.ErrTxTimeout):
			m.logger.Error("review decision timed out", "review_id", req.ReviewID, "error", err)
			return 0, fmt.Errorf("%w: %w", ErrTransactionTimeout, err)
		default:
			m.logger.Error("review decision failed", "review_id", req.ReviewID, "error", err)
			return 0, fmt.Errorf("%w: %w", ErrUpdateFailed, err)
		}
	}

	evt := EventApproved
	if req.Result == Rejected {
		evt = EventRejected
	}
	m.notify(ctx, Event{Type: evt, Review: decided, AdminID: req.AdminID, At: decided.LastUpdatedAt})
	return req.Result, nil
}

func setDeviceResult(ctx context.Context, tx *sql.Tx, deviceID int64, r Result) error {
	res, err := tx.ExecContext(ctx, `UPDATE devices SET result = ? WHERE id = ?`, r, deviceID)
	if err != nil {
		return fmt.Errorf("updating device result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return facility.ErrDeviceNotFound
	}
	return nil
}

func (m *Machine) notify(ctx context.Context, e Event) {
	if m.observer == nil {
		return
	}
	m.observer.ReviewEvent(ctx, e)
}
