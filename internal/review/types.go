package review

import (
	"context"
	"time"
)

// Result is a review or device outcome. Values are stored and sent as integers.
type Result int

// Result values, ordered by who may set them.
const (
	NotUsed             Result = 0
	InitialState        Result = 1
	RequestingForReview Result = 2
	Rejected            Result = 3
	Approved            Result = 4
)

// Confirmed is the status reported for a device that has never been
// reviewed. It shares InitialState's value.
const Confirmed = InitialState

var resultNames = map[Result]string{
	NotUsed:             "NOT_USED",
	InitialState:        "INITIAL_STATE",
	RequestingForReview: "REQUESTING_FOR_REVIEW",
	Rejected:            "REJECTED",
	Approved:            "APPROVED",
}

func (r Result) String() string {
	if s, ok := resultNames[r]; ok {
		return s
	}
	return "UNKNOWN"
}

// Valid reports whether r is a known result.
func (r Result) Valid() bool {
	_, ok := resultNames[r]
	return ok
}

// MaxCommentLength bounds an admin decision comment, in characters.
const MaxCommentLength = 255

// Review is one submission in a device's review chain.
type Review struct {
	ID            int64     `json:"id"`
	DeviceID      int64     `json:"device_id"`
	FacilityID    int64     `json:"facility_id"`
	CustomerID    int64     `json:"customer_id"`
	Result        Result    `json:"result"`
	Comment       string    `json:"review_comment"`
	Image         string    `json:"image_blob,omitempty"`
	CreatedAt     time.Time `json:"created_at_utc"`
	LastUpdatedBy string    `json:"last_updated_by"`
	LastUpdatedAt time.Time `json:"last_updated_at_utc"`
}

// SubmitRequest is a contractor's photo submission for a device.
type SubmitRequest struct {
	DeviceID   int64
	FacilityID int64
	CustomerID int64
	Image      string
}

// SubmitResult identifies the review a submission resolved to. Created is
// false when an outstanding review was returned instead.
type SubmitResult struct {
	ReviewID int64
	Created  bool
}

// DecideRequest is an admin decision on a review.
type DecideRequest struct {
	ReviewID int64
	Result   Result
	Comment  string
	AdminID  int64
}

// EventType names a review lifecycle transition.
type EventType string

// Lifecycle events.
const (
	EventSubmitted EventType = "submitted"
	EventApproved  EventType = "approved"
	EventRejected  EventType = "rejected"
)

// Event describes a committed transition. The image is not carried.
type Event struct {
	Type    EventType `json:"type"`
	Review  Review    `json:"review"`
	AdminID int64     `json:"admin_id,omitempty"`
	At      time.Time `json:"at"`
}

// Observer receives events after their transaction commits. It must not
// block; the transition has already happened.
type Observer interface {
	ReviewEvent(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

// ReviewEvent calls f.
func (f ObserverFunc) ReviewEvent(ctx context.Context, e Event) { f(ctx, e) }
