package review

import "errors"

// Domain-specific errors for review operations.
var (
	ErrReviewNotFound = errors.New("review: review not found")

	// ErrApprovedLocked is returned by Submit when the device's latest
	// review is already approved.
	ErrApprovedLocked = errors.New("review: device already has an approved review")

	// ErrCreationFailed wraps a storage failure during Submit.
	ErrCreationFailed = errors.New("review: failed to create review")

	ErrInvalidDecision      = errors.New("review: decision must be APPROVED or REJECTED")
	ErrRejectWithoutComment = errors.New("review: rejection requires a comment")
	ErrCommentTooLong       = errors.New("review: comment exceeds 255 characters")

	// ErrApproveStale and ErrRejectStale are returned when the decided
	// review is no longer the latest in its chain.
	ErrApproveStale = errors.New("review: approval failed, review is not the latest")
	ErrRejectStale  = errors.New("review: rejection failed, review is not the latest")

	// ErrUpdateFailed wraps a storage failure during Decide.
	ErrUpdateFailed = errors.New("review: failed to update review")

	// ErrTransactionTimeout is returned when a transition's transaction
	// deadline passes. The whole request may be retried.
	ErrTransactionTimeout = errors.New("review: transaction timed out")
)
