package conversations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"engagement_backend/internal/outbox"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const conversationColumns = `organization_id, lead_id, state, lead_score, qualification_data, handoff_reason,
	last_agent_message_at, last_lead_response_at, handoff_fallback_sent_at, handoff_reactivated_at,
	version, created_at, updated_at`

// Repository is the Postgres implementation of Store, MessageLog and ContactStore.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Get(ctx context.Context, key Key) (Conversation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE organization_id = $1 AND lead_id = $2`,
		key.OrganizationID, key.LeadID)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return conv, err
}

func (r *Repository) GetOrCreate(ctx context.Context, key Key, now time.Time) (Conversation, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversations (organization_id, lead_id, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (organization_id, lead_id) DO NOTHING`,
		key.OrganizationID, key.LeadID, string(StateInitial), now)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return r.Get(ctx, key)
}

func (r *Repository) Save(ctx context.Context, p SaveParams) (Conversation, error) {
	conv := p.Conversation
	qualification, err := json.Marshal(conv.QualificationData)
	if err != nil {
		return Conversation{}, fmt.Errorf("marshal qualification data: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Conversation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`UPDATE conversations
		 SET state = $3, lead_score = $4, qualification_data = $5, handoff_reason = NULLIF($6, ''),
		     last_agent_message_at = $7, last_lead_response_at = $8,
		     handoff_fallback_sent_at = $9, handoff_reactivated_at = $10,
		     version = version + 1, updated_at = now()
		 WHERE organization_id = $1 AND lead_id = $2 AND version = $11
		 RETURNING `+conversationColumns,
		conv.OrganizationID, conv.LeadID, string(conv.State), conv.LeadScore, qualification, conv.HandoffReason,
		conv.LastAgentMessageAt, conv.LastLeadResponseAt, conv.HandoffFallbackSentAt, conv.HandoffReactivatedAt,
		p.ExpectedVersion)
	saved, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrVersionConflict
	}
	if err != nil {
		return Conversation{}, err
	}

	for _, msg := range p.Messages {
		if _, err := appendMessage(ctx, tx, msg); err != nil {
			return Conversation{}, fmt.Errorf("append message: %w", err)
		}
	}

	for _, params := range p.Outbox {
		if _, err := outbox.InsertTx(ctx, tx, params); err != nil {
			return Conversation{}, fmt.Errorf("insert outbox row: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Conversation{}, err
	}
	return saved, nil
}

func (r *Repository) MarkAgentMessage(ctx context.Context, key Key, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE conversations
		 SET last_agent_message_at = $3, version = version + 1, updated_at = now()
		 WHERE organization_id = $1 AND lead_id = $2 AND state <> $4`,
		key.OrganizationID, key.LeadID, at, string(StateHandedOff))
	return err
}

func (r *Repository) ClaimFallback(ctx context.Context, key Key, episode, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversations
		 SET handoff_fallback_sent_at = $4, version = version + 1, updated_at = now()
		 WHERE organization_id = $1 AND lead_id = $2 AND state = $5
		   AND last_agent_message_at = $3 AND handoff_fallback_sent_at IS NULL`,
		key.OrganizationID, key.LeadID, episode, at, string(StateHandedOff))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) ReleaseFallback(ctx context.Context, key Key, episode time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE conversations
		 SET handoff_fallback_sent_at = NULL, version = version + 1, updated_at = now()
		 WHERE organization_id = $1 AND lead_id = $2 AND last_agent_message_at = $3`,
		key.OrganizationID, key.LeadID, episode)
	return err
}

func (r *Repository) Reactivate(ctx context.Context, key Key, episode, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversations
		 SET state = $5, handoff_reason = NULL, handoff_reactivated_at = $4,
		     version = version + 1, updated_at = now()
		 WHERE organization_id = $1 AND lead_id = $2 AND state = $6
		   AND last_agent_message_at = $3 AND handoff_reactivated_at IS NULL`,
		key.OrganizationID, key.LeadID, episode, at, string(StateQualifying), string(StateHandedOff))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) RestoreHandoff(ctx context.Context, key Key, episode time.Time, reason string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE conversations
		 SET state = $5, handoff_reason = NULLIF($4, ''), handoff_reactivated_at = NULL,
		     version = version + 1, updated_at = now()
		 WHERE organization_id = $1 AND lead_id = $2 AND state = $6
		   AND last_agent_message_at = $3 AND handoff_reactivated_at IS NOT NULL`,
		key.OrganizationID, key.LeadID, episode, reason, string(StateHandedOff), string(StateQualifying))
	return err
}

func (r *Repository) ListByState(ctx context.Context, state State, limit int) ([]Conversation, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE state = $1
		 ORDER BY updated_at DESC
		 LIMIT $2`,
		string(state), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, conv)
	}
	return results, rows.Err()
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		conv          Conversation
		state         string
		qualification []byte
		reason        *string
	)
	err := row.Scan(&conv.OrganizationID, &conv.LeadID, &state, &conv.LeadScore, &qualification, &reason,
		&conv.LastAgentMessageAt, &conv.LastLeadResponseAt, &conv.HandoffFallbackSentAt, &conv.HandoffReactivatedAt,
		&conv.Version, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return Conversation{}, err
	}

	conv.State = State(state)
	if reason != nil {
		conv.HandoffReason = *reason
	}
	conv.QualificationData = map[string]any{}
	if len(qualification) > 0 {
		if err := json.Unmarshal(qualification, &conv.QualificationData); err != nil {
			return Conversation{}, fmt.Errorf("decode qualification data: %w", err)
		}
	}
	return conv, nil
}
