package events

import (
	"context"
	"errors"
	"sync"

	"github.com/nerrad567/facility-review-core/internal/infrastructure/logging"
)

// DefaultPublishQueueSize is the buffer used when NewQueuedPublisher is
// given zero.
const DefaultPublishQueueSize = 256

// ErrQueueFull is returned by QueuedPublisher.PublishJSON when the buffer
// has no room. The message is dropped.
var ErrQueueFull = errors.New("events: publish queue full")

type pending struct {
	topic string
	v     any
}

// QueuedPublisher hands messages to a slow Publisher from a single
// background goroutine so that callers never wait on the broker.
type QueuedPublisher struct {
	pub    Publisher
	logger *logging.Logger
	queue  chan pending
	done   chan struct{}
	once   sync.Once
}

var _ Publisher = (*QueuedPublisher)(nil)

// NewQueuedPublisher wraps pub. Call Run to start delivering.
func NewQueuedPublisher(pub Publisher, size int, logger *logging.Logger) *QueuedPublisher {
	if size <= 0 {
		size = DefaultPublishQueueSize
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &QueuedPublisher{
		pub:    pub,
		logger: logger.With("component", "events-queue"),
		queue:  make(chan pending, size),
		done:   make(chan struct{}),
	}
}

// PublishJSON enqueues the message. It never blocks.
func (q *QueuedPublisher) PublishJSON(topic string, v any) error {
	select {
	case q.queue <- pending{topic: topic, v: v}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued messages until ctx is cancelled, then flushes what is
// still buffered and returns.
func (q *QueuedPublisher) Run(ctx context.Context) {
	defer q.once.Do(func() { close(q.done) })
	for {
		select {
		case m := <-q.queue:
			q.deliver(m)
		case <-ctx.Done():
			for {
				select {
				case m := <-q.queue:
					q.deliver(m)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (q *QueuedPublisher) Done() <-chan struct{} {
	return q.done
}

func (q *QueuedPublisher) deliver(m pending) {
	if err := q.pub.PublishJSON(m.topic, m.v); err != nil {
		q.logger.Warn("bus publish failed", "topic", m.topic, "error", err)
	}
}
