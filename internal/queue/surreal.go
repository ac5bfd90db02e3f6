package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/minhvn/holescan/internal/db"
)

const surrealPollInterval = 250 * time.Millisecond

// Surreal is the durable Queue backed by the scan_task table. A task is
// visible while claimed_until is in the past; claiming is a conditional
// UPDATE per record, so two workers can never hold the same task at once.
type Surreal struct {
	client     *db.Client
	visibility time.Duration
}

// NewSurreal creates a queue on top of an established SurrealDB client.
func NewSurreal(client *db.Client, visibility time.Duration) *Surreal {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &Surreal{client: client, visibility: visibility}
}

// taskRow mirrors the scan_task table.
type taskRow struct {
	ID            surrealmodels.RecordID `json:"id"`
	SessionID     string                 `json:"session_id"`
	ItemRef       string                 `json:"item_ref"`
	ItemPayload   string                 `json:"item_payload"`
	Link          string                 `json:"link"`
	SearchTargets []string               `json:"search_targets"`
	Receipt       string                 `json:"receipt"`
	Attempts      int                    `json:"attempts"`
}

func (q *Surreal) Enqueue(ctx context.Context, msgs []Message) error {
	for _, m := range msgs {
		_, err := surrealdb.Query[any](ctx, q.client.DB(), `
			CREATE scan_task SET
				session_id = $sid,
				item_ref = $ref,
				item_payload = $payload,
				link = $link,
				search_targets = $targets,
				claimed_until = time::now(),
				receipt = '',
				attempts = 0,
				enqueued_at = time::now()
		`, map[string]any{
			"sid":     m.SessionID,
			"ref":     m.ItemRef,
			"payload": m.ItemPayload,
			"link":    m.Link,
			"targets": m.SearchTargets,
		})
		if err != nil {
			return fmt.Errorf("enqueue task: %w", db.WrapQueryError(err))
		}
	}
	return nil
}

func (q *Surreal) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	ticker := time.NewTicker(surrealPollInterval)
	defer ticker.Stop()

	for {
		ds, err := q.claim(ctx, max)
		if err != nil {
			return nil, err
		}
		if len(ds) > 0 {
			return ds, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *Surreal) claim(ctx context.Context, max int) ([]Delivery, error) {
	// Candidate scan first, then a conditional claim per record. The WHERE
	// clause on the per-record UPDATE is what makes the claim race-free:
	// a candidate another worker grabbed in between yields an empty result.
	candidates, err := surrealdb.Query[[]taskRow](ctx, q.client.DB(), `
		SELECT id, session_id FROM scan_task
		WHERE claimed_until <= time::now()
		ORDER BY enqueued_at
		LIMIT $max
	`, map[string]any{"max": max})
	if err != nil {
		return nil, fmt.Errorf("scan tasks: %w", db.WrapQueryError(err))
	}

	var ds []Delivery
	for _, cand := range firstTaskResult(candidates) {
		receipt := uuid.NewString()
		claimed, err := surrealdb.Query[[]taskRow](ctx, q.client.DB(), `
			UPDATE $task SET
				claimed_until = time::now() + $vis,
				receipt = $receipt,
				attempts += 1
			WHERE claimed_until <= time::now()
			RETURN AFTER
		`, map[string]any{
			"task":    cand.ID,
			"vis":     surrealmodels.CustomDuration{Duration: q.visibility},
			"receipt": receipt,
		})
		if err != nil {
			return nil, fmt.Errorf("claim task: %w", db.WrapQueryError(err))
		}
		rows := firstTaskResult(claimed)
		if len(rows) == 0 {
			continue // lost the race for this candidate
		}
		row := rows[0]
		ds = append(ds, Delivery{
			Message: Message{
				SessionID:     row.SessionID,
				ItemRef:       row.ItemRef,
				ItemPayload:   row.ItemPayload,
				Link:          row.Link,
				SearchTargets: row.SearchTargets,
			},
			Receipt: receipt,
			Attempt: row.Attempts,
		})
	}
	return ds, nil
}

func (q *Surreal) Ack(ctx context.Context, receipt string) error {
	// Deleting by receipt makes acking an expired claim a no-op: redelivery
	// rewrites the receipt, so the stale one matches nothing.
	_, err := surrealdb.Query[any](ctx, q.client.DB(), `
		DELETE scan_task WHERE receipt = $receipt
	`, map[string]any{"receipt": receipt})
	if err != nil {
		return fmt.Errorf("ack task: %w", db.WrapQueryError(err))
	}
	return nil
}

func firstTaskResult(results *[]surrealdb.QueryResult[[]taskRow]) []taskRow {
	if results == nil || len(*results) == 0 {
		return nil
	}
	return (*results)[0].Result
}
