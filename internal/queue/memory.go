package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const memoryPollInterval = 25 * time.Millisecond

// Memory is the in-process Queue used for single-node mode and tests.
// Redelivery semantics match the durable implementation: unacked messages
// become visible again after the visibility timeout.
type Memory struct {
	mu         sync.Mutex
	visibility time.Duration
	ready      []*memEntry
	inflight   map[string]*memEntry // receipt -> entry
}

type memEntry struct {
	msg       Message
	attempts  int
	claimedAt time.Time
}

// NewMemory creates an in-memory queue with the given visibility timeout.
func NewMemory(visibility time.Duration) *Memory {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &Memory{
		visibility: visibility,
		inflight:   make(map[string]*memEntry),
	}
}

func (q *Memory) Enqueue(_ context.Context, msgs []Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range msgs {
		q.ready = append(q.ready, &memEntry{msg: m})
	}
	return nil
}

func (q *Memory) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	ticker := time.NewTicker(memoryPollInterval)
	defer ticker.Stop()

	for {
		if ds := q.claim(max); len(ds) > 0 {
			return ds, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// claim moves up to max ready entries into the inflight set. Expired
// inflight entries are requeued first.
func (q *Memory) claim(max int) []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for receipt, e := range q.inflight {
		if now.Sub(e.claimedAt) >= q.visibility {
			delete(q.inflight, receipt)
			q.ready = append(q.ready, e)
		}
	}

	n := min(max, len(q.ready))
	if n == 0 {
		return nil
	}

	ds := make([]Delivery, 0, n)
	for _, e := range q.ready[:n] {
		e.attempts++
		e.claimedAt = now
		receipt := uuid.NewString()
		q.inflight[receipt] = e
		ds = append(ds, Delivery{Message: e.msg, Receipt: receipt, Attempt: e.attempts})
	}
	q.ready = q.ready[n:]
	return ds
}

func (q *Memory) Ack(_ context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, receipt)
	return nil
}

// Depth returns the number of visible messages. Used by tests and /stats.
func (q *Memory) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}
