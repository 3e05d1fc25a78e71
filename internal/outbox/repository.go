// Package outbox persists delayed escalation checks in the same transaction as
// the conversation write that requires them. A dispatcher later hands pending
// rows to the task queue.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusEnqueued  Status = "enqueued"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"

	errRepoNotConfigured = "outbox repository not configured"
)

type Record struct {
	ID             uuid.UUID
	OrganizationID string
	LeadID         string
	Kind           string
	Payload        json.RawMessage
	RunAt          time.Time
	Status         Status
	Attempts       int
}

type InsertParams struct {
	ID             uuid.UUID // optional; generated when nil
	OrganizationID string
	LeadID         string
	Kind           string
	Payload        any
	RunAt          time.Time
}

// Validate reports missing required fields.
func (p InsertParams) Validate() error {
	if p.OrganizationID == "" || p.LeadID == "" {
		return fmt.Errorf("organizationId and leadId are required")
	}
	if p.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if p.RunAt.IsZero() {
		return fmt.Errorf("runAt is required")
	}
	return nil
}

// InsertTx writes one pending row inside the caller's transaction.
func InsertTx(ctx context.Context, tx pgx.Tx, p InsertParams) (uuid.UUID, error) {
	if err := p.Validate(); err != nil {
		return uuid.Nil, err
	}
	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	payloadBytes, err := json.Marshal(p.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO escalation_outbox (id, organization_id, lead_id, kind, payload, run_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, 'pending')`,
		id, p.OrganizationID, p.LeadID, p.Kind, payloadBytes, p.RunAt.UTC(),
	)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// DispatchResult counts the rows one DispatchPending call handled.
type DispatchResult struct {
	Enqueued int
	Failed   int
}

// DispatchPending locks up to limit pending rows, hands each to enqueue and
// records the outcome in the same transaction. Rows move to enqueued only
// when the transaction commits after their enqueue succeeded, so a crash at
// any point leaves them pending for the next call. Rows whose enqueue fails
// stay pending with last_error set. Concurrent dispatchers never lock the
// same row.
func (r *Repository) DispatchPending(ctx context.Context, limit int, enqueue func(context.Context, Record) error) (DispatchResult, error) {
	if r == nil || r.pool == nil {
		return DispatchResult{}, errors.New(errRepoNotConfigured)
	}
	if limit < 1 {
		limit = 50
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return DispatchResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := lockPending(ctx, tx, limit)
	if err != nil {
		return DispatchResult{}, err
	}

	var res DispatchResult
	for _, rec := range records {
		if enqErr := enqueue(ctx, rec); enqErr != nil {
			if _, err := tx.Exec(ctx,
				`UPDATE escalation_outbox
				 SET attempts = attempts + 1, last_error = $2, updated_at = now()
				 WHERE id = $1`,
				rec.ID, enqErr.Error(),
			); err != nil {
				return DispatchResult{}, err
			}
			res.Failed++
			continue
		}
		if _, err := tx.Exec(ctx,
			`UPDATE escalation_outbox
			 SET status = 'enqueued', attempts = attempts + 1, last_error = NULL, updated_at = now()
			 WHERE id = $1`,
			rec.ID,
		); err != nil {
			return DispatchResult{}, err
		}
		res.Enqueued++
	}

	if err := tx.Commit(ctx); err != nil {
		return DispatchResult{}, err
	}
	return res, nil
}

func lockPending(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, organization_id, lead_id, kind, payload, run_at, status, attempts
		 FROM escalation_outbox
		 WHERE status = 'pending'
		 ORDER BY run_at ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var status string
		if err := rows.Scan(&rec.ID, &rec.OrganizationID, &rec.LeadID, &rec.Kind, &rec.Payload, &rec.RunAt, &status, &rec.Attempts); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE escalation_outbox
		 SET status = 'succeeded', last_error = NULL, updated_at = now()
		 WHERE id = $1`,
		id,
	)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE escalation_outbox
		 SET status = 'failed', last_error = $2, updated_at = now()
		 WHERE id = $1`,
		id, lastError,
	)
	return err
}

// CountByStatus summarises the table for the operational surface.
func (r *Repository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}

	rows, err := r.pool.Query(ctx, `SELECT status, count(*) FROM escalation_outbox GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}
