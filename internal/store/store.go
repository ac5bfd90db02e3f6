// Package store persists scan sessions and per-item results.
//
// The counter increment and the status flip are the only mutations that
// require synchronization; both are exposed as primitives so that no caller
// ever read-then-writes session state.
package store

import (
	"context"
	"errors"

	"github.com/minhvn/holescan/internal/models"
)

// Sentinel errors for store operations. Use errors.Is() in calling code.
var (
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists indicates a session with this id was already created.
	ErrSessionExists = errors.New("session already exists")
)

// Store is the session store port shared by the dispatcher, the worker pool
// and the reconnection handler.
type Store interface {
	// CreateSession writes a new session record. Fails with ErrSessionExists
	// if the id is already taken.
	CreateSession(ctx context.Context, s *models.Session) error

	// GetSession returns the current session record or ErrSessionNotFound.
	GetSession(ctx context.Context, id string) (*models.Session, error)

	// SetConnection rebinds the session's live push channel, used when a
	// client reconnects on a fresh connection.
	SetConnection(ctx context.Context, id, connRef string) error

	// PutResult upserts the result record keyed by (session id, item ref).
	// Idempotent: redelivered items overwrite with equivalent content.
	PutResult(ctx context.Context, rec models.ResultRecord) error

	// HasResult reports whether a result record already exists for the item,
	// which is how redelivery duplicates are detected before counting.
	HasResult(ctx context.Context, sessionID, itemRef string) (bool, error)

	// IncrementProcessed atomically adds delta to the session's processed
	// counter and returns the updated session in the same round trip.
	// Linearizable: concurrent increments never lose updates.
	IncrementProcessed(ctx context.Context, id string, delta int) (*models.Session, error)

	// TryComplete conditionally flips status IN_PROGRESS -> COMPLETE.
	// Returns true for exactly one caller per session, ever; false means
	// another worker won the flip (or the session already left IN_PROGRESS).
	TryComplete(ctx context.Context, id string) (bool, error)

	// MarkCompleteFailed moves a COMPLETE session whose finalization failed
	// into the terminal COMPLETE_FAILED state.
	MarkCompleteFailed(ctx context.Context, id string) error

	// SetArtifact records the report artifact URL on the session.
	SetArtifact(ctx context.Context, id, url string) error

	// ListResults returns all result records for the session.
	ListResults(ctx context.Context, sessionID string) ([]models.ResultRecord, error)
}
