// Package conversationstest provides an in-memory conversation store for tests.
package conversationstest

import (
	"context"
	"sort"
	"sync"
	"time"

	"engagement_backend/internal/conversations"
	"engagement_backend/internal/outbox"

	"github.com/google/uuid"
)

// Store implements conversations.Store, MessageLog and ContactStore in memory
// with the same compare-and-set semantics as the Postgres repository.
type Store struct {
	mu            sync.Mutex
	conversations map[conversations.Key]conversations.Conversation
	messages      []conversations.Message
	contacts      map[conversations.Key]conversations.Contact
	outbox        []outbox.InsertParams

	// SaveErr, when set, is returned by the next Save call and then cleared.
	SaveErr error
}

func New() *Store {
	return &Store{
		conversations: make(map[conversations.Key]conversations.Conversation),
		contacts:      make(map[conversations.Key]conversations.Contact),
	}
}

func (s *Store) Get(_ context.Context, key conversations.Key) (conversations.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[key]
	if !ok {
		return conversations.Conversation{}, conversations.ErrNotFound
	}
	return conv.Clone(), nil
}

func (s *Store) GetOrCreate(_ context.Context, key conversations.Key, now time.Time) (conversations.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[key]
	if !ok {
		conv = conversations.New(key, now)
		s.conversations[key] = conv
	}
	return conv.Clone(), nil
}

func (s *Store) Save(_ context.Context, p conversations.SaveParams) (conversations.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		err := s.SaveErr
		s.SaveErr = nil
		return conversations.Conversation{}, err
	}

	key := p.Conversation.Key()
	current, ok := s.conversations[key]
	if !ok || current.Version != p.ExpectedVersion {
		return conversations.Conversation{}, conversations.ErrVersionConflict
	}

	for _, params := range p.Outbox {
		if err := params.Validate(); err != nil {
			return conversations.Conversation{}, err
		}
	}

	saved := p.Conversation.Clone()
	saved.Version = current.Version + 1
	saved.CreatedAt = current.CreatedAt
	s.conversations[key] = saved

	for _, msg := range p.Messages {
		s.appendLocked(msg)
	}
	s.outbox = append(s.outbox, p.Outbox...)
	return saved.Clone(), nil
}

func (s *Store) MarkAgentMessage(_ context.Context, key conversations.Key, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[key]
	if !ok || conv.State == conversations.StateHandedOff {
		return nil
	}
	conv.LastAgentMessageAt = &at
	s.bumpLocked(conv)
	return nil
}

func (s *Store) ClaimFallback(_ context.Context, key conversations.Key, episode, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[key]
	if !ok || !conv.InEpisode(episode) || conv.HandoffFallbackSentAt != nil {
		return false, nil
	}
	conv.HandoffFallbackSentAt = &at
	s.bumpLocked(conv)
	return true, nil
}

func (s *Store) ReleaseFallback(_ context.Context, key conversations.Key, episode time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[key]
	if !ok || conv.LastAgentMessageAt == nil || !conv.LastAgentMessageAt.Equal(episode) {
		return nil
	}
	conv.HandoffFallbackSentAt = nil
	s.bumpLocked(conv)
	return nil
}

func (s *Store) Reactivate(_ context.Context, key conversations.Key, episode, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[key]
	if !ok || !conv.InEpisode(episode) || conv.HandoffReactivatedAt != nil {
		return false, nil
	}
	conv.State = conversations.StateQualifying
	conv.HandoffReason = ""
	conv.HandoffReactivatedAt = &at
	s.bumpLocked(conv)
	return true, nil
}

func (s *Store) RestoreHandoff(_ context.Context, key conversations.Key, episode time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[key]
	if !ok || conv.State != conversations.StateQualifying || conv.HandoffReactivatedAt == nil ||
		conv.LastAgentMessageAt == nil || !conv.LastAgentMessageAt.Equal(episode) {
		return nil
	}
	conv.State = conversations.StateHandedOff
	conv.HandoffReason = reason
	conv.HandoffReactivatedAt = nil
	s.bumpLocked(conv)
	return nil
}

func (s *Store) ListByState(_ context.Context, state conversations.State, limit int) ([]conversations.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []conversations.Conversation
	for _, conv := range s.conversations {
		if conv.State == state {
			out = append(out, conv.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeadID < out[j].LeadID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AppendMessage(_ context.Context, msg conversations.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(msg), nil
}

func (s *Store) HasHumanReplySince(_ context.Context, key conversations.Key, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.OrganizationID == key.OrganizationID && msg.LeadID == key.LeadID &&
			msg.Direction == conversations.DirectionOutbound && msg.Sender == conversations.SenderAgent &&
			msg.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) IsAutomatedMessage(_ context.Context, organizationID, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if externalID == "" {
		return false, nil
	}
	for _, msg := range s.messages {
		if msg.OrganizationID == organizationID && msg.ExternalID == externalID && msg.Sender == conversations.SenderAutomated {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ClaimPendingEcho(_ context.Context, key conversations.Key, externalID, body string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, msg := range s.messages {
		if msg.OrganizationID == key.OrganizationID && msg.LeadID == key.LeadID &&
			msg.Sender == conversations.SenderAutomated && msg.Pending && msg.ExternalID == "" && msg.Body == body {
			if externalID != "" {
				s.messages[i].ExternalID = externalID
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ConfirmMessage(_ context.Context, organizationID string, id uuid.UUID, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, msg := range s.messages {
		if msg.OrganizationID == organizationID && msg.ID == id {
			s.messages[i].Pending = false
			if externalID != "" {
				s.messages[i].ExternalID = externalID
			}
		}
	}
	return nil
}

func (s *Store) DiscardMessage(_ context.Context, organizationID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.messages[:0]
	for _, msg := range s.messages {
		if msg.OrganizationID == organizationID && msg.ID == id && msg.Pending {
			continue
		}
		kept = append(kept, msg)
	}
	s.messages = kept
	return nil
}

func (s *Store) UpsertContact(_ context.Context, c conversations.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.contacts[c.Key()]
	merge := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	existing.OrganizationID = c.OrganizationID
	existing.LeadID = c.LeadID
	merge(&existing.FirstName, c.FirstName)
	merge(&existing.LastName, c.LastName)
	merge(&existing.Email, c.Email)
	merge(&existing.Phone, c.Phone)
	merge(&existing.Timezone, c.Timezone)
	merge(&existing.AssigneeName, c.AssigneeName)
	merge(&existing.AssigneePhone, c.AssigneePhone)
	merge(&existing.AssigneeEmail, c.AssigneeEmail)
	s.contacts[c.Key()] = existing
	return nil
}

func (s *Store) GetContact(_ context.Context, key conversations.Key) (conversations.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[key]
	if !ok {
		return conversations.Contact{}, conversations.ErrNotFound
	}
	return c, nil
}

// Put seeds or overwrites a conversation.
func (s *Store) Put(conv conversations.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.Version == 0 {
		conv.Version = 1
	}
	s.conversations[conv.Key()] = conv.Clone()
}

// Outbox returns every outbox row written by Save.
func (s *Store) Outbox() []outbox.InsertParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.InsertParams(nil), s.outbox...)
}

// Messages returns the message log for one conversation in insertion order.
func (s *Store) Messages(key conversations.Key) []conversations.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []conversations.Message
	for _, msg := range s.messages {
		if msg.OrganizationID == key.OrganizationID && msg.LeadID == key.LeadID {
			out = append(out, msg)
		}
	}
	return out
}

func (s *Store) appendLocked(msg conversations.Message) bool {
	if msg.ExternalID != "" {
		for _, existing := range s.messages {
			if existing.OrganizationID == msg.OrganizationID && existing.ExternalID == msg.ExternalID {
				return false
			}
		}
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	s.messages = append(s.messages, msg)
	return true
}

func (s *Store) bumpLocked(conv conversations.Conversation) {
	conv.Version++
	s.conversations[conv.Key()] = conv
}

var (
	_ conversations.Store        = (*Store)(nil)
	_ conversations.MessageLog   = (*Store)(nil)
	_ conversations.ContactStore = (*Store)(nil)
)
