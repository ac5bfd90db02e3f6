package store

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/minhvn/holescan/internal/db"
	"github.com/minhvn/holescan/internal/models"
)

// Surreal is the SurrealDB-backed Store used when workers run as separate
// processes. The counter increment and the status flip are single UPDATE
// statements so the database provides the linearizability guarantees.
type Surreal struct {
	client *db.Client
}

// NewSurreal creates a Store on top of an established SurrealDB client.
func NewSurreal(client *db.Client) *Surreal {
	return &Surreal{client: client}
}

// sessionRow mirrors the scan_session table.
type sessionRow struct {
	ID             surrealmodels.RecordID `json:"id"`
	ConnectionRef  string                 `json:"connection_ref"`
	TotalItems     int                    `json:"total_items"`
	ProcessedCount int                    `json:"processed_count"`
	Status         string                 `json:"status"`
	ArtifactURL    string                 `json:"artifact_url"`
	CreatedAt      time.Time              `json:"created_at"`
}

// resultRow mirrors the scan_result table.
type resultRow struct {
	ID         surrealmodels.RecordID `json:"id"`
	SessionID  string                 `json:"session_id"`
	ItemRef    string                 `json:"item_ref"`
	FoundCodes []string               `json:"found_codes"`
	Status     string                 `json:"status"`
	Link       string                 `json:"link"`
	Failed     bool                   `json:"failed"`
	Error      string                 `json:"error"`
	Timestamp  time.Time              `json:"timestamp"`
}

func (r sessionRow) toSession() *models.Session {
	return &models.Session{
		ID:             models.MustRecordIDString(r.ID),
		ConnectionRef:  r.ConnectionRef,
		TotalItems:     r.TotalItems,
		ProcessedCount: r.ProcessedCount,
		Status:         models.SessionStatus(r.Status),
		ArtifactURL:    r.ArtifactURL,
		CreatedAt:      r.CreatedAt,
	}
}

func (r resultRow) toRecord() models.ResultRecord {
	return models.ResultRecord{
		SessionID: r.SessionID,
		ItemRef:   r.ItemRef,
		Outcome: models.Outcome{
			FoundCodes: r.FoundCodes,
			Status:     r.Status,
			Link:       r.Link,
			Failed:     r.Failed,
			Error:      r.Error,
		},
		Timestamp: r.Timestamp,
	}
}

func (s *Surreal) CreateSession(ctx context.Context, sess *models.Session) error {
	results, err := surrealdb.Query[[]sessionRow](ctx, s.client.DB(), `
		CREATE ONLY type::record("scan_session", $id) SET
			connection_ref = $conn,
			total_items = $total,
			processed_count = 0,
			status = $status,
			artifact_url = '',
			created_at = time::now()
		RETURN AFTER
	`, map[string]any{
		"id":     sess.ID,
		"conn":   sess.ConnectionRef,
		"total":  sess.TotalItems,
		"status": string(models.StatusInProgress),
	})
	if err != nil {
		return fmt.Errorf("create session: %w", db.WrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return ErrSessionExists
	}
	return nil
}

func (s *Surreal) GetSession(ctx context.Context, id string) (*models.Session, error) {
	results, err := surrealdb.Query[[]sessionRow](ctx, s.client.DB(), `
		SELECT * FROM type::record("scan_session", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", db.WrapQueryError(err))
	}
	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, ErrSessionNotFound
	}
	return rows[0].toSession(), nil
}

func (s *Surreal) SetConnection(ctx context.Context, id, connRef string) error {
	results, err := surrealdb.Query[[]sessionRow](ctx, s.client.DB(), `
		UPDATE type::record("scan_session", $id) SET connection_ref = $conn RETURN AFTER
	`, map[string]any{"id": id, "conn": connRef})
	if err != nil {
		return fmt.Errorf("set connection: %w", db.WrapQueryError(err))
	}
	if len(firstResult(results)) == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *Surreal) PutResult(ctx context.Context, rec models.ResultRecord) error {
	_, err := surrealdb.Query[[]resultRow](ctx, s.client.DB(), `
		UPSERT type::record("scan_result", [$sid, $ref]) SET
			session_id = $sid,
			item_ref = $ref,
			found_codes = $codes,
			status = $status,
			link = $link,
			failed = $failed,
			error = $error,
			timestamp = time::now()
	`, map[string]any{
		"sid":    rec.SessionID,
		"ref":    rec.ItemRef,
		"codes":  emptyIfNil(rec.Outcome.FoundCodes),
		"status": rec.Outcome.Status,
		"link":   rec.Outcome.Link,
		"failed": rec.Outcome.Failed,
		"error":  rec.Outcome.Error,
	})
	if err != nil {
		return fmt.Errorf("put result: %w", db.WrapQueryError(err))
	}
	return nil
}

func (s *Surreal) HasResult(ctx context.Context, sessionID, itemRef string) (bool, error) {
	results, err := surrealdb.Query[[]resultRow](ctx, s.client.DB(), `
		SELECT id, session_id, item_ref, status FROM type::record("scan_result", [$sid, $ref])
	`, map[string]any{"sid": sessionID, "ref": itemRef})
	if err != nil {
		return false, fmt.Errorf("has result: %w", db.WrapQueryError(err))
	}
	return len(firstResult(results)) > 0, nil
}

func (s *Surreal) IncrementProcessed(ctx context.Context, id string, delta int) (*models.Session, error) {
	results, err := surrealdb.Query[[]sessionRow](ctx, s.client.DB(), `
		UPDATE type::record("scan_session", $id) SET processed_count += $delta RETURN AFTER
	`, map[string]any{"id": id, "delta": delta})
	if err != nil {
		return nil, fmt.Errorf("increment processed: %w", db.WrapQueryError(err))
	}
	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, ErrSessionNotFound
	}
	return rows[0].toSession(), nil
}

func (s *Surreal) TryComplete(ctx context.Context, id string) (bool, error) {
	// Conditional flip: only the caller whose UPDATE matches the WHERE clause
	// gets a row back; everyone else sees an empty result.
	results, err := surrealdb.Query[[]sessionRow](ctx, s.client.DB(), `
		UPDATE type::record("scan_session", $id)
			SET status = $complete
			WHERE status = $inProgress
		RETURN AFTER
	`, map[string]any{
		"id":         id,
		"complete":   string(models.StatusComplete),
		"inProgress": string(models.StatusInProgress),
	})
	if err != nil {
		return false, fmt.Errorf("try complete: %w", db.WrapQueryError(err))
	}
	return len(firstResult(results)) > 0, nil
}

func (s *Surreal) MarkCompleteFailed(ctx context.Context, id string) error {
	results, err := surrealdb.Query[[]sessionRow](ctx, s.client.DB(), `
		UPDATE type::record("scan_session", $id) SET status = $failed RETURN AFTER
	`, map[string]any{"id": id, "failed": string(models.StatusCompleteFailed)})
	if err != nil {
		return fmt.Errorf("mark complete failed: %w", db.WrapQueryError(err))
	}
	if len(firstResult(results)) == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *Surreal) SetArtifact(ctx context.Context, id, url string) error {
	results, err := surrealdb.Query[[]sessionRow](ctx, s.client.DB(), `
		UPDATE type::record("scan_session", $id) SET artifact_url = $url RETURN AFTER
	`, map[string]any{"id": id, "url": url})
	if err != nil {
		return fmt.Errorf("set artifact: %w", db.WrapQueryError(err))
	}
	if len(firstResult(results)) == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *Surreal) ListResults(ctx context.Context, sessionID string) ([]models.ResultRecord, error) {
	results, err := surrealdb.Query[[]resultRow](ctx, s.client.DB(), `
		SELECT * FROM scan_result WHERE session_id = $sid ORDER BY item_ref
	`, map[string]any{"sid": sessionID})
	if err != nil {
		return nil, fmt.Errorf("list results: %w", db.WrapQueryError(err))
	}
	rows := firstResult(results)
	out := make([]models.ResultRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	return out, nil
}

// firstResult extracts the first statement's rows from a query response.
func firstResult[T any](results *[]surrealdb.QueryResult[[]T]) []T {
	if results == nil || len(*results) == 0 {
		return nil
	}
	return (*results)[0].Result
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
