package conversations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (r *Repository) AppendMessage(ctx context.Context, msg Message) (bool, error) {
	return appendMessage(ctx, r.pool, msg)
}

func appendMessage(ctx context.Context, db execer, msg Message) (bool, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tag, err := db.Exec(ctx,
		`INSERT INTO conversation_messages
		   (id, organization_id, lead_id, direction, sender, channel, body, external_id, pending, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
		 ON CONFLICT (organization_id, external_id) WHERE external_id IS NOT NULL DO NOTHING`,
		msg.ID, msg.OrganizationID, msg.LeadID, string(msg.Direction), string(msg.Sender),
		msg.Channel, msg.Body, msg.ExternalID, msg.Pending, msg.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) HasHumanReplySince(ctx context.Context, key Key, since time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM conversation_messages
		   WHERE organization_id = $1 AND lead_id = $2
		     AND direction = 'outbound' AND sender = 'agent'
		     AND created_at > $3
		 )`,
		key.OrganizationID, key.LeadID, since).Scan(&exists)
	return exists, err
}

func (r *Repository) IsAutomatedMessage(ctx context.Context, organizationID, externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM conversation_messages
		   WHERE organization_id = $1 AND external_id = $2 AND sender = 'automated'
		 )`,
		organizationID, externalID).Scan(&exists)
	return exists, err
}

func (r *Repository) ClaimPendingEcho(ctx context.Context, key Key, externalID, body string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversation_messages
		 SET external_id = COALESCE(NULLIF($3, ''), external_id)
		 WHERE id = (
		   SELECT id FROM conversation_messages
		   WHERE organization_id = $1 AND lead_id = $2
		     AND sender = 'automated' AND pending AND external_id IS NULL
		     AND body = $4
		   ORDER BY created_at
		   LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )`,
		key.OrganizationID, key.LeadID, externalID, body)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ConfirmMessage clears the pending flag once the provider accepted the
// message. An id already stamped by an echo is kept when externalID is empty.
func (r *Repository) ConfirmMessage(ctx context.Context, organizationID string, id uuid.UUID, externalID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE conversation_messages
		 SET pending = false, external_id = COALESCE(NULLIF($3, ''), external_id)
		 WHERE organization_id = $1 AND id = $2`,
		organizationID, id, externalID)
	return err
}

func (r *Repository) DiscardMessage(ctx context.Context, organizationID string, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM conversation_messages WHERE organization_id = $1 AND id = $2 AND pending`,
		organizationID, id)
	return err
}
