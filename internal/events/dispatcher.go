// Package events fans committed review transitions out to the live feed,
// the message bus, the metrics store and the audit trail.
//
// Every sink is optional. Sinks are called in the order bus, metrics, feed,
// audit and each must return without waiting on I/O. Wrap a broker client
// in a QueuedPublisher; the InfluxDB writer, hub and audit recorder queue
// on their own.
package events

import (
	"context"
	"strconv"

	"github.com/nerrad567/facility-review-core/internal/audit"
	"github.com/nerrad567/facility-review-core/internal/facility"
	"github.com/nerrad567/facility-review-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/facility-review-core/internal/infrastructure/logging"
	"github.com/nerrad567/facility-review-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/facility-review-core/internal/review"
)

// ChannelReviews is the live feed channel review events are broadcast on.
const ChannelReviews = "reviews"

// Publisher publishes JSON messages to the bus.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// MetricsWriter records review transitions.
type MetricsWriter interface {
	WriteReviewTransition(t influxdb.ReviewTransition)
}

// Broadcaster pushes a payload to the live sessions of one admin.
type Broadcaster interface {
	BroadcastToAdmin(adminID int64, channel string, payload any)
}

// AuditRecorder queues audit entries.
type AuditRecorder interface {
	Record(entry *audit.AuditLog)
}

// OwnerLookup resolves the customer a review belongs to.
type OwnerLookup interface {
	GetCustomer(ctx context.Context, id int64) (*facility.Customer, error)
}

// Config wires a Dispatcher. Nil sinks are skipped.
type Config struct {
	Publisher Publisher
	Topics    mqtt.Topics
	Metrics   MetricsWriter
	Feed      Broadcaster
	Audit     AuditRecorder
	Owners    OwnerLookup
	Logger    *logging.Logger
}

// Dispatcher implements review.Observer.
type Dispatcher struct {
	cfg    Config
	logger *logging.Logger
}

var _ review.Observer = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Topics == (mqtt.Topics{}) {
		cfg.Topics = mqtt.NewTopics("")
	}
	return &Dispatcher{cfg: cfg, logger: logger.With("component", "events")}
}

// Message is the payload published on the bus and the live feed.
type Message struct {
	Event      review.EventType `json:"event"`
	ReviewID   int64            `json:"review_id"`
	DeviceID   int64            `json:"device_id"`
	FacilityID int64            `json:"facility_id"`
	CustomerID int64            `json:"customer_id"`
	Result     review.Result    `json:"result"`
	Comment    string           `json:"review_comment,omitempty"`
	AdminID    int64            `json:"admin_id,omitempty"`
	At         int64            `json:"at"`
}

func newMessage(e review.Event) Message {
	return Message{
		Event:      e.Type,
		ReviewID:   e.Review.ID,
		DeviceID:   e.Review.DeviceID,
		FacilityID: e.Review.FacilityID,
		CustomerID: e.Review.CustomerID,
		Result:     e.Review.Result,
		Comment:    e.Review.Comment,
		AdminID:    e.AdminID,
		At:         e.At.Unix(),
	}
}

// ReviewEvent delivers e to every configured sink. Sink failures are logged.
func (d *Dispatcher) ReviewEvent(ctx context.Context, e review.Event) {
	msg := newMessage(e)

	if d.cfg.Publisher != nil {
		topic := d.cfg.Topics.ReviewEvent(e.Review.DeviceID, string(e.Type))
		if err := d.cfg.Publisher.PublishJSON(topic, msg); err != nil {
			d.logger.Warn("publishing review event failed",
				"topic", topic,
				"review_id", e.Review.ID,
				"error", err,
			)
		}
	}

	if d.cfg.Metrics != nil {
		d.cfg.Metrics.WriteReviewTransition(influxdb.ReviewTransition{
			Event:       string(e.Type),
			ReviewID:    e.Review.ID,
			DeviceID:    e.Review.DeviceID,
			FacilityID:  e.Review.FacilityID,
			CustomerID:  e.Review.CustomerID,
			Result:      int(e.Review.Result),
			SubmittedAt: e.Review.CreatedAt,
			At:          e.At,
		})
	}

	if d.cfg.Feed != nil && d.cfg.Owners != nil {
		cust, err := d.cfg.Owners.GetCustomer(ctx, e.Review.CustomerID)
		if err != nil {
			d.logger.Warn("resolving review owner failed",
				"customer_id", e.Review.CustomerID,
				"error", err,
			)
		} else {
			d.cfg.Feed.BroadcastToAdmin(cust.AdminID, ChannelReviews, msg)
		}
	}

	if d.cfg.Audit != nil {
		entry := &audit.AuditLog{
			Action:     string(e.Type),
			EntityType: "review",
			EntityID:   strconv.FormatInt(e.Review.ID, 10),
			AdminID:    e.AdminID,
			Source:     "api",
			Details: map[string]any{
				"device_id":   e.Review.DeviceID,
				"facility_id": e.Review.FacilityID,
				"customer_id": e.Review.CustomerID,
				"result":      int(e.Review.Result),
			},
			CreatedAt: e.At,
		}
		if e.Type == review.EventSubmitted {
			entry.Source = "contractor"
		}
		if e.Review.Comment != "" {
			entry.Details["review_comment"] = e.Review.Comment
		}
		d.cfg.Audit.Record(entry)
	}
}
