// Package conversations holds the persisted conversation record for one lead,
// its message log, and the contact details the core needs to reach the lead
// and the assigned human.
package conversations

import (
	"errors"
	"maps"
	"reflect"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("conversation not found")
	ErrVersionConflict = errors.New("conversation was modified concurrently")
)

// State is the conversation state machine position.
type State string

const (
	StateInitial           State = "INITIAL"
	StateQualifying        State = "QUALIFYING"
	StateObjectionHandling State = "OBJECTION_HANDLING"
	StateScheduling        State = "SCHEDULING"
	StateHandedOff         State = "HANDED_OFF"
	StateNurture           State = "NURTURE"
	StateCompleted         State = "COMPLETED"
)

var allowedTransitions = map[State][]State{
	StateInitial:           {StateQualifying, StateHandedOff, StateCompleted},
	StateQualifying:        {StateObjectionHandling, StateScheduling, StateHandedOff, StateNurture, StateCompleted},
	StateObjectionHandling: {StateQualifying, StateScheduling, StateHandedOff, StateNurture, StateCompleted},
	StateScheduling:        {StateQualifying, StateObjectionHandling, StateHandedOff, StateNurture, StateCompleted},
	StateNurture:           {StateQualifying, StateHandedOff, StateCompleted},
	StateHandedOff:         {StateQualifying, StateCompleted},
	StateCompleted:         {},
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool { return s == StateCompleted }

// ParseState converts a stored or user supplied value into a State.
func ParseState(raw string) (State, bool) {
	s := State(raw)
	return s, s.Valid()
}

// CanTransition reports whether from -> to is a legal edge. Staying in the
// same non-terminal state is always allowed.
func CanTransition(from, to State) bool {
	if from == to {
		return !from.Terminal()
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Key identifies one conversation.
type Key struct {
	OrganizationID string
	LeadID         string
}

// Conversation is one lead's conversation within an organization.
type Conversation struct {
	OrganizationID        string
	LeadID                string
	State                 State
	LeadScore             int
	QualificationData     map[string]any
	HandoffReason         string
	LastAgentMessageAt    *time.Time
	LastLeadResponseAt    *time.Time
	HandoffFallbackSentAt *time.Time
	HandoffReactivatedAt  *time.Time
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// New returns a fresh INITIAL conversation.
func New(key Key, now time.Time) Conversation {
	return Conversation{
		OrganizationID:    key.OrganizationID,
		LeadID:            key.LeadID,
		State:             StateInitial,
		QualificationData: map[string]any{},
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (c Conversation) Key() Key {
	return Key{OrganizationID: c.OrganizationID, LeadID: c.LeadID}
}

// Clone returns a deep copy safe to mutate.
func (c Conversation) Clone() Conversation {
	out := c
	out.QualificationData = maps.Clone(c.QualificationData)
	if out.QualificationData == nil {
		out.QualificationData = map[string]any{}
	}
	out.LastAgentMessageAt = cloneTime(c.LastAgentMessageAt)
	out.LastLeadResponseAt = cloneTime(c.LastLeadResponseAt)
	out.HandoffFallbackSentAt = cloneTime(c.HandoffFallbackSentAt)
	out.HandoffReactivatedAt = cloneTime(c.HandoffReactivatedAt)
	return out
}

// MergeQualification adds or overwrites fields without dropping existing ones.
// It reports whether anything changed.
func (c *Conversation) MergeQualification(updates map[string]any) bool {
	if len(updates) == 0 {
		return false
	}
	if c.QualificationData == nil {
		c.QualificationData = map[string]any{}
	}
	changed := false
	for field, value := range updates {
		if field == "" {
			continue
		}
		if existing, ok := c.QualificationData[field]; ok && reflect.DeepEqual(existing, value) {
			continue
		}
		c.QualificationData[field] = value
		changed = true
	}
	return changed
}

// Episode returns the handoff episode anchor while the conversation is handed off.
func (c Conversation) Episode() (time.Time, bool) {
	if c.State != StateHandedOff || c.LastAgentMessageAt == nil {
		return time.Time{}, false
	}
	return *c.LastAgentMessageAt, true
}

// InEpisode reports whether the conversation is still in the handoff episode
// anchored at episode.
func (c Conversation) InEpisode(episode time.Time) bool {
	anchor, ok := c.Episode()
	return ok && anchor.Equal(episode)
}

// Direction of a logged message relative to the lead.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Sender is the authoritative author of a logged message, recorded at write time.
type Sender string

const (
	SenderLead      Sender = "lead"
	SenderAutomated Sender = "automated"
	SenderAgent     Sender = "agent"
)

// Message is one entry of the conversation message log.
type Message struct {
	ID             uuid.UUID
	OrganizationID string
	LeadID         string
	Direction      Direction
	Sender         Sender
	Channel        string
	Body           string
	ExternalID     string
	// Pending marks an automated message written before the provider
	// accepted it. It is confirmed or discarded once the send returns.
	Pending        bool
	CreatedAt      time.Time
}

// Contact carries what the core needs to reach the lead and the assignee.
type Contact struct {
	OrganizationID string
	LeadID         string
	FirstName      string
	LastName       string
	Email          string
	Phone          string
	Timezone       string
	AssigneeName   string
	AssigneePhone  string
	AssigneeEmail  string
	UpdatedAt      time.Time
}

func (c Contact) Key() Key {
	return Key{OrganizationID: c.OrganizationID, LeadID: c.LeadID}
}

// DisplayName returns the best available human readable name.
func (c Contact) DisplayName() string {
	switch {
	case c.FirstName != "" && c.LastName != "":
		return c.FirstName + " " + c.LastName
	case c.FirstName != "":
		return c.FirstName
	case c.LastName != "":
		return c.LastName
	case c.Email != "":
		return c.Email
	default:
		return c.Phone
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
