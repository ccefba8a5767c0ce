// Package flow is a small in-process host for the record engine: a queue
// that hands out records and collects their routing, plus a worker pool that
// drives processing cycles until the queue drains.
package flow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/polis-entities/pkg/domain"
	"github.com/polisai/polis-entities/pkg/engine/runtime"
	"github.com/polisai/polis-entities/pkg/storage"
)

// QueueOptions configures a Queue.
type QueueOptions struct {
	// Journal, when set, receives a provenance event for every transfer.
	Journal storage.ProvenanceStore
	// OnTransfer is called after a record has been routed. It must be safe
	// for concurrent use.
	OnTransfer func(rec *domain.Record, rel domain.Relationship)
	Logger     *slog.Logger
}

// Queue is a FIFO runtime.Session. Records handed out by Get are owned by the
// caller until they come back through Transfer.
type Queue struct {
	mu          sync.Mutex
	pending     []*domain.Record
	transferred map[domain.Relationship][]*domain.Record

	journal    storage.ProvenanceStore
	onTransfer func(rec *domain.Record, rel domain.Relationship)
	logger     *slog.Logger
	now        func() time.Time
}

// NewQueue constructs an empty queue.
func NewQueue(opts QueueOptions) *Queue {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		transferred: make(map[domain.Relationship][]*domain.Record),
		journal:     opts.Journal,
		onTransfer:  opts.OnTransfer,
		logger:      logger,
		now:         time.Now,
	}
}

// Enqueue appends records, assigning a UUID to any record without an ID.
func (q *Queue) Enqueue(records ...*domain.Record) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		q.pending = append(q.pending, rec)
	}
}

// Len returns the number of records still waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Get pops the oldest pending record.
func (q *Queue) Get() (*domain.Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	rec := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return rec, true
}

// Transfer records the routing of rec and journals it.
func (q *Queue) Transfer(rec *domain.Record, rel domain.Relationship) {
	q.mu.Lock()
	q.transferred[rel] = append(q.transferred[rel], rec)
	q.mu.Unlock()

	if q.journal != nil {
		event := storage.ProvenanceEvent{
			ID:           uuid.NewString(),
			RecordID:     rec.ID,
			Relationship: string(rel),
			BodyBytes:    len(rec.Body),
			Attributes:   rec.Attributes,
			At:           q.now().UTC(),
		}
		if err := q.journal.Append(context.Background(), event); err != nil {
			q.logger.Warn("failed to journal transfer",
				"record_id", rec.ID,
				"relationship", string(rel),
				"error", err,
			)
		}
	}

	if q.onTransfer != nil {
		q.onTransfer(rec, rel)
	}
}

// Transferred returns the records routed to rel so far, in transfer order.
func (q *Queue) Transferred(rel domain.Relationship) []*domain.Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*domain.Record, len(q.transferred[rel]))
	copy(out, q.transferred[rel])
	return out
}

var _ runtime.Session = (*Queue)(nil)
