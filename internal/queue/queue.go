// Package queue provides the at-least-once work queue between the dispatcher
// and the worker pool.
//
// Messages carry one work item each; workers receive them in batches (the
// "group" a single counter increment accounts for). A delivery that is not
// acked within the visibility timeout reappears for another worker, which is
// why result writes must be idempotent and counting must be deduplicated.
package queue

import "context"

// Message is one enqueued work item.
type Message struct {
	SessionID     string   `json:"session_id"`
	ItemRef       string   `json:"item_ref"`
	ItemPayload   string   `json:"item_payload"`
	Link          string   `json:"link,omitempty"`
	SearchTargets []string `json:"search_targets"`
}

// Delivery is one received message plus the receipt needed to ack it.
type Delivery struct {
	Message Message
	Receipt string
	Attempt int // 1 on first delivery
}

// Queue is the transport port.
type Queue interface {
	// Enqueue makes messages visible to workers.
	Enqueue(ctx context.Context, msgs []Message) error

	// Receive blocks until at least one message is available (or ctx is
	// done) and returns up to max deliveries. Received messages stay
	// invisible to other callers until acked or until the visibility
	// timeout elapses.
	Receive(ctx context.Context, max int) ([]Delivery, error)

	// Ack permanently removes a delivered message. Acking an expired
	// receipt is a no-op (the message may already be redelivered).
	Ack(ctx context.Context, receipt string) error
}
