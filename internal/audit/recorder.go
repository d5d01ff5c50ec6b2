package audit

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultQueueSize is the buffer used when NewRecorder is given zero.
const DefaultQueueSize = 256

// Recorder writes audit entries asynchronously. Entries beyond the queue
// size are dropped with a warning rather than blocking the caller.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
	queue  chan *AuditLog
	done   chan struct{}
	once   sync.Once
}

// NewRecorder creates a Recorder over repo. Call Run to start draining.
func NewRecorder(repo Repository, size int, logger *slog.Logger) *Recorder {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:   repo,
		logger: logger,
		queue:  make(chan *AuditLog, size),
		done:   make(chan struct{}),
	}
}

// Record enqueues entry. It never blocks.
func (r *Recorder) Record(entry *AuditLog) {
	if r == nil || entry == nil {
		return
	}
	select {
	case r.queue <- entry:
	default:
		r.logger.Warn("audit queue full, dropping entry",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
		)
	}
}

// Run drains the queue until ctx is cancelled, then flushes whatever is
// still buffered and returns.
func (r *Recorder) Run(ctx context.Context) {
	defer r.once.Do(func() { close(r.done) })
	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-r.queue:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

func (r *Recorder) write(entry *AuditLog) {
	// Detached so entries queued during shutdown still reach the database.
	if err := r.repo.Create(context.Background(), entry); err != nil {
		r.logger.Error("audit log write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"error", err,
		)
	}
}
