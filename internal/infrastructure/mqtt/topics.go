package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "reviewcore"

// Topics builds topic names under a prefix.
//
//	topics := mqtt.NewTopics("reviewcore")
//	topics.ReviewEvent(42, "approved") // "reviewcore/review/42/approved"
type Topics struct {
	prefix string
}

// NewTopics returns a Topics rooted at prefix. Trailing slashes are dropped.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// ReviewEvent returns the topic for a review lifecycle event on a device.
//
// Example: reviewcore/review/42/submitted
func (t Topics) ReviewEvent(deviceID int64, event string) string {
	return fmt.Sprintf("%s/review/%d/%s", t.prefix, deviceID, event)
}

// AllReviewEvents returns a pattern matching every review event.
//
// Pattern: reviewcore/review/+/+
func (t Topics) AllReviewEvents() string {
	return t.prefix + "/review/+/+"
}

// SystemStatus returns the retained service status topic.
//
// Example: reviewcore/system/status
func (t Topics) SystemStatus() string {
	return t.prefix + "/system/status"
}
