package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementReviewTransitions is the measurement for review state changes.
const MeasurementReviewTransitions = "review_transitions"

// ReviewTransition describes one review state change.
type ReviewTransition struct {
	Event      string // submitted, approved, rejected
	ReviewID   int64
	DeviceID   int64
	FacilityID int64
	CustomerID int64
	Result     int

	// SubmittedAt is when the review was created. For decisions the gap to
	// At is recorded as decision_latency_seconds.
	SubmittedAt time.Time
	At          time.Time
}

// reviewTransitionPoint builds the point for t.
// Facility and customer are tags; review and device IDs are fields to keep
// series cardinality bounded.
func reviewTransitionPoint(t ReviewTransition) *write.Point {
	fields := map[string]interface{}{
		"review_id": t.ReviewID,
		"device_id": t.DeviceID,
		"result":    int64(t.Result),
	}
	if t.Event != "submitted" && !t.SubmittedAt.IsZero() && t.At.After(t.SubmittedAt) {
		fields["decision_latency_seconds"] = t.At.Sub(t.SubmittedAt).Seconds()
	}

	return write.NewPoint(
		MeasurementReviewTransitions,
		map[string]string{
			"event":       t.Event,
			"facility_id": strconv.FormatInt(t.FacilityID, 10),
			"customer_id": strconv.FormatInt(t.CustomerID, 10),
		},
		fields,
		t.At,
	)
}

// WriteReviewTransition records a review state change.
// The write is non-blocking; points are batched and sent asynchronously.
func (c *Client) WriteReviewTransition(t ReviewTransition) {
	if !c.IsConnected() {
		return
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}
	c.writeAPI.WritePoint(reviewTransitionPoint(t))
}
