// Package intake receives CRM webhook events, drops duplicates, and
// dispatches each known event type to its handler.
package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"engagement_backend/internal/conversations"
	"engagement_backend/platform/sanitize"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrInvalidEvent     = errors.New("invalid event")
)

// EventType is the closed set of CRM events the core understands.
type EventType string

const (
	EventInboundMessage    EventType = "inbound_message_received"
	EventLeadCreated       EventType = "lead_created"
	EventPersonUpdated     EventType = "person_updated"
	EventOutboundMessage   EventType = "outbound_message_sent"
	EventOpportunityClosed EventType = "opportunity_closed"
)

// ParseEventType accepts the canonical names and the dotted form some CRMs
// send (inbound.message.received).
func ParseEventType(raw string) (EventType, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), ".", "_")
	switch et := EventType(normalized); et {
	case EventInboundMessage, EventLeadCreated, EventPersonUpdated, EventOutboundMessage, EventOpportunityClosed:
		return et, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, raw)
	}
}

// Event is one webhook delivery. EntityID and EventType together identify a
// delivery for deduplication.
type Event struct {
	EntityID       string          `json:"entityId" validate:"required,notblank,max=200"`
	EventType      EventType       `json:"eventType" validate:"required"`
	OrganizationID string          `json:"organizationId" validate:"required,notblank,max=100"`
	LeadID         string          `json:"leadId" validate:"required,notblank,max=100"`
	OccurredAt     *time.Time      `json:"occurredAt,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

func (e Event) Key() conversations.Key {
	return conversations.Key{OrganizationID: e.OrganizationID, LeadID: e.LeadID}
}

// MessagePayload carries inbound_message_received and outbound_message_sent.
type MessagePayload struct {
	Text      string     `json:"text" validate:"required,max=4000"`
	Channel   string     `json:"channel" validate:"omitempty,oneof=sms email whatsapp chat"`
	MessageID string     `json:"messageId" validate:"max=200"`
	SentAt    *time.Time `json:"sentAt,omitempty"`
}

// ContactPayload carries lead_created and person_updated.
type ContactPayload struct {
	FirstName string           `json:"firstName" validate:"max=100"`
	LastName  string           `json:"lastName" validate:"max=100"`
	Email     string           `json:"email" validate:"omitempty,email"`
	Phone     string           `json:"phone" validate:"max=40"`
	Timezone  string           `json:"timezone" validate:"omitempty,timezone"`
	Assignee  *AssigneePayload `json:"assignee,omitempty"`
}

type AssigneePayload struct {
	Name  string `json:"name" validate:"max=100"`
	Phone string `json:"phone" validate:"max=40"`
	Email string `json:"email" validate:"omitempty,email"`
}

// ClosedPayload carries opportunity_closed.
type ClosedPayload struct {
	Outcome string `json:"outcome" validate:"required,oneof=won lost"`
}

func (p ContactPayload) contact(key conversations.Key, normalizedPhone string) conversations.Contact {
	c := conversations.Contact{
		OrganizationID: key.OrganizationID,
		LeadID:         key.LeadID,
		FirstName:      strings.TrimSpace(p.FirstName),
		LastName:       strings.TrimSpace(p.LastName),
		Email:          strings.TrimSpace(p.Email),
		Phone:          normalizedPhone,
		Timezone:       p.Timezone,
	}
	if p.Assignee != nil {
		c.AssigneeName = strings.TrimSpace(p.Assignee.Name)
		c.AssigneePhone = strings.TrimSpace(p.Assignee.Phone)
		c.AssigneeEmail = strings.TrimSpace(p.Assignee.Email)
	}
	return c
}

// decodePayload unmarshals the payload into the variant for et.
func decodePayload(et EventType, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}

	var target any
	switch et {
	case EventInboundMessage, EventOutboundMessage:
		target = &MessagePayload{}
	case EventLeadCreated, EventPersonUpdated:
		target = &ContactPayload{}
	case EventOpportunityClosed:
		target = &ClosedPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, et)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrInvalidEvent, err)
	}

	switch p := target.(type) {
	case *MessagePayload:
		p.Text = sanitize.MessageText(p.Text)
	case *ContactPayload:
		p.FirstName = sanitize.Text(p.FirstName)
		p.LastName = sanitize.Text(p.LastName)
		if p.Assignee != nil {
			p.Assignee.Name = sanitize.Text(p.Assignee.Name)
		}
	}
	return target, nil
}
