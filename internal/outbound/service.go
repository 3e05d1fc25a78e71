// Package outbound is the only path by which automated messages reach a lead.
// Every send is checked against the compliance gate immediately before it
// happens and logged with sender=automated before the provider is called.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"engagement_backend/internal/compliance"
	"engagement_backend/internal/conversations"
	"engagement_backend/platform/config"
	"engagement_backend/platform/logger"

	"github.com/google/uuid"
)

// Channel is a lead-facing delivery channel.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

var (
	ErrChannelUnavailable = errors.New("no outbound channel can reach the lead")
	ErrSendFailed         = errors.New("outbound send failed")
)

// Envelope is what a Sender needs for one message.
type Envelope struct {
	Contact conversations.Contact
	Subject string
	Text    string
}

// Sender delivers one message and returns the provider message id.
type Sender interface {
	Channel() Channel
	Send(ctx context.Context, env Envelope) (string, error)
}

// Gate is satisfied by *compliance.Gate.
type Gate interface {
	CanSend(ctx context.Context, leadID, organizationID, phone, recipientTimezone string) (compliance.Decision, error)
}

// OrganizationDirectory resolves display names for templates.
type OrganizationDirectory interface {
	OrganizationName(ctx context.Context, organizationID string) (string, error)
}

// DeliverRequest asks for one automated message. Text is required for
// KindReply; other kinds render their template when Text is empty.
type DeliverRequest struct {
	Key     conversations.Key
	Contact conversations.Contact
	Kind    Kind
	Text    string
}

// Result reports what happened. Sent is false when the gate blocked the send.
type Result struct {
	Sent       bool
	Channel    Channel
	ExternalID string
	Text       string
	Decision   compliance.Decision
}

type Service struct {
	gate        Gate
	messages    conversations.MessageLog
	senders     []Sender
	orgs        OrganizationDirectory
	templates   *Templates
	sendTimeout time.Duration
	now         func() time.Time
	log         *logger.Logger
}

// NewService wires senders in preference order; nil senders are skipped.
func NewService(gate Gate, messages conversations.MessageLog, orgs OrganizationDirectory, templates *Templates,
	cfg config.EngagementConfig, log *logger.Logger, senders ...Sender) *Service {
	active := make([]Sender, 0, len(senders))
	for _, s := range senders {
		if s != nil && !isNilSender(s) {
			active = append(active, s)
		}
	}
	if templates == nil {
		templates = DefaultTemplates()
	}
	return &Service{
		gate:        gate,
		messages:    messages,
		senders:     active,
		orgs:        orgs,
		templates:   templates,
		sendTimeout: cfg.GetSendTimeout(),
		now:         time.Now,
		log:         log,
	}
}

// WithClock replaces the time source used to stamp logged messages.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Deliver checks compliance, sends through the first channel that can reach
// the lead, and records the message as automated.
func (s *Service) Deliver(ctx context.Context, req DeliverRequest) (Result, error) {
	log := s.log.WithLead(req.Key.LeadID, req.Key.OrganizationID)

	data := s.templateData(ctx, req)
	text := req.Text
	if text == "" && req.Kind != KindReply {
		rendered, err := s.templates.Render(req.Kind, data)
		if err != nil {
			return Result{}, err
		}
		text = rendered
	}
	if text == "" {
		return Result{}, fmt.Errorf("outbound %s message has no text", req.Kind)
	}

	decision, err := s.gate.CanSend(ctx, req.Key.LeadID, req.Key.OrganizationID, req.Contact.Phone, req.Contact.Timezone)
	if err != nil {
		return Result{Decision: decision}, fmt.Errorf("compliance check: %w", err)
	}
	if !decision.Allowed {
		log.Info("outbound send blocked", "kind", req.Kind, "reason", decision.Reason)
		return Result{Decision: decision, Text: text}, nil
	}

	sender := s.pick(req.Contact)
	if sender == nil {
		return Result{Decision: decision}, ErrChannelUnavailable
	}

	// The row exists before the provider call so a CRM echo that beats the
	// send's return is still recognised as automated.
	pending := conversations.Message{
		ID:             uuid.New(),
		OrganizationID: req.Key.OrganizationID,
		LeadID:         req.Key.LeadID,
		Direction:      conversations.DirectionOutbound,
		Sender:         conversations.SenderAutomated,
		Channel:        string(sender.Channel()),
		Body:           text,
		Pending:        true,
		CreatedAt:      s.now().UTC(),
	}
	if _, err := s.messages.AppendMessage(ctx, pending); err != nil {
		return Result{Decision: decision, Channel: sender.Channel()}, fmt.Errorf("log pending message: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	externalID, err := sender.Send(sendCtx, Envelope{
		Contact: req.Contact,
		Subject: s.templates.Subject(data),
		Text:    text,
	})
	if err != nil {
		log.Warn("outbound send failed", "kind", req.Kind, "channel", sender.Channel(), "error", err)
		if derr := s.messages.DiscardMessage(ctx, req.Key.OrganizationID, pending.ID); derr != nil {
			log.Error("failed to discard pending message", "messageId", pending.ID, "error", derr)
		}
		return Result{Decision: decision, Channel: sender.Channel()}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	result := Result{Sent: true, Channel: sender.Channel(), ExternalID: externalID, Text: text, Decision: decision}

	if err := s.messages.ConfirmMessage(ctx, req.Key.OrganizationID, pending.ID, externalID); err != nil {
		// The message is out and logged as automated; only the provider id
		// is missing, so later echoes fall back to body matching.
		log.Error("failed to confirm automated message", "externalId", externalID, "error", err)
	}

	log.Info("outbound message sent", "kind", req.Kind, "channel", sender.Channel(), "externalId", externalID)
	return result, nil
}

func (s *Service) pick(contact conversations.Contact) Sender {
	for _, sender := range s.senders {
		switch sender.Channel() {
		case ChannelSMS:
			if contact.Phone != "" {
				return sender
			}
		case ChannelEmail:
			if contact.Email != "" {
				return sender
			}
		}
	}
	return nil
}

func (s *Service) templateData(ctx context.Context, req DeliverRequest) TemplateData {
	data := TemplateData{FirstName: req.Contact.FirstName, AssigneeName: req.Contact.AssigneeName}
	if s.orgs != nil {
		name, err := s.orgs.OrganizationName(ctx, req.Key.OrganizationID)
		if err != nil {
			s.log.Warn("organization name lookup failed", "organizationId", req.Key.OrganizationID, "error", err)
		}
		data.OrganizationName = name
	}
	return data
}

// isNilSender catches typed nil pointers from constructors that return nil
// when a channel is not configured.
func isNilSender(s Sender) bool {
	switch v := s.(type) {
	case *SMSSender:
		return v == nil
	case *EmailSender:
		return v == nil
	default:
		return false
	}
}
