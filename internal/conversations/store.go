package conversations

import (
	"context"
	"time"

	"engagement_backend/internal/outbox"

	"github.com/google/uuid"
)

// SaveParams describes one transactional conversation write.
type SaveParams struct {
	Conversation    Conversation
	ExpectedVersion int64
	Messages        []Message
	Outbox          []outbox.InsertParams
}

// Store persists conversations. Writes are compare-and-set on Version or on
// the handoff episode so two workers cannot both act on the same episode.
type Store interface {
	Get(ctx context.Context, key Key) (Conversation, error)
	GetOrCreate(ctx context.Context, key Key, now time.Time) (Conversation, error)
	// Save writes the conversation, its messages and any outbox rows atomically.
	// It returns ErrVersionConflict when ExpectedVersion is stale.
	Save(ctx context.Context, p SaveParams) (Conversation, error)
	// MarkAgentMessage stamps last_agent_message_at unless the conversation is
	// handed off, where that column is the episode anchor.
	MarkAgentMessage(ctx context.Context, key Key, at time.Time) error
	ClaimFallback(ctx context.Context, key Key, episode, at time.Time) (bool, error)
	ReleaseFallback(ctx context.Context, key Key, episode time.Time) error
	Reactivate(ctx context.Context, key Key, episode, at time.Time) (bool, error)
	RestoreHandoff(ctx context.Context, key Key, episode time.Time, reason string) error
	ListByState(ctx context.Context, state State, limit int) ([]Conversation, error)
}

// MessageLog records every message with its authoritative sender.
type MessageLog interface {
	// AppendMessage returns false when a message with the same external id
	// was already logged for the organization.
	AppendMessage(ctx context.Context, msg Message) (bool, error)
	// HasHumanReplySince reports whether an agent-authored outbound message
	// was logged strictly after since.
	HasHumanReplySince(ctx context.Context, key Key, since time.Time) (bool, error)
	IsAutomatedMessage(ctx context.Context, organizationID, externalID string) (bool, error)
	// ClaimPendingEcho matches a CRM echo against an automated message whose
	// send has not returned yet, by lead and body, and stamps the echo's id.
	ClaimPendingEcho(ctx context.Context, key Key, externalID, body string) (bool, error)
	ConfirmMessage(ctx context.Context, organizationID string, id uuid.UUID, externalID string) error
	DiscardMessage(ctx context.Context, organizationID string, id uuid.UUID) error
}

type ContactStore interface {
	UpsertContact(ctx context.Context, contact Contact) error
	GetContact(ctx context.Context, key Key) (Contact, error)
}
