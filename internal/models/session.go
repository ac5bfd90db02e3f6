// Package models defines the data structures for scan sessions and results.
package models

import "time"

// SessionStatus is the lifecycle state of a scan session.
type SessionStatus string

const (
	// StatusInProgress is the initial state while workers are processing items.
	StatusInProgress SessionStatus = "IN_PROGRESS"
	// StatusComplete is the terminal state reached by exactly one worker
	// via a conditional status flip.
	StatusComplete SessionStatus = "COMPLETE"
	// StatusCompleteFailed marks a session whose completion flip succeeded
	// but whose report assembly failed. Terminal; requires operator action.
	StatusCompleteFailed SessionStatus = "COMPLETE_FAILED"
)

// MetaRowKind is the row_kind sentinel for the session metadata row.
// Result rows use the item ref as their row_kind, so one range query per
// session returns both metadata and all results.
const MetaRowKind = "meta"

// Session tracks one batch-processing request from dispatch to completion.
type Session struct {
	ID             string
	ConnectionRef  string // live push channel; valid only while connected
	TotalItems     int    // fixed at creation
	ProcessedCount int    // mutated only via atomic increment
	Status         SessionStatus
	ArtifactURL    string
	CreatedAt      time.Time
}

// WorkItem is one unit of work within a session.
type WorkItem struct {
	Ref     string `json:"ref" yaml:"ref"`
	Payload string `json:"payload" yaml:"payload"` // inline text or a readable file path
	Link    string `json:"link,omitempty" yaml:"link,omitempty"`
}

// Outcome is the structured result of processing a single item.
type Outcome struct {
	FoundCodes []string `json:"found_codes,omitempty"`
	Status     string   `json:"status"`
	Link       string   `json:"link,omitempty"`
	Failed     bool     `json:"failed,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Matched reports whether the item produced at least one code match.
func (o Outcome) Matched() bool {
	return len(o.FoundCodes) > 0
}

// FailureOutcome builds the explicit failure placeholder recorded when the
// per-item processor errors. Items are never silently dropped.
func FailureOutcome(err error) Outcome {
	return Outcome{
		Status: "Error",
		Failed: true,
		Error:  err.Error(),
	}
}

// ResultRecord is the per-item result, written exactly once per item
// (idempotent overwrite on redelivery). Keyed by (session id, item ref).
type ResultRecord struct {
	SessionID string
	ItemRef   string
	Outcome   Outcome
	Timestamp time.Time
}
