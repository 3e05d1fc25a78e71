package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"engagement_backend/internal/compliance"
	"engagement_backend/internal/conversations"
	"engagement_backend/internal/engine"
	"engagement_backend/platform/logger"
	"engagement_backend/platform/metrics"
	"engagement_backend/platform/phone"
	"engagement_backend/platform/validator"
)

// Status is the explicit outcome of one delivery.
type Status string

const (
	StatusProcessed   Status = "processed"
	StatusDuplicate   Status = "duplicate"
	StatusBlocked     Status = "blocked"
	StatusUnavailable Status = "unavailable"
)

// Outcome is returned for every well-formed event.
type Outcome struct {
	Status  Status              `json:"status"`
	Reason  string              `json:"reason,omitempty"`
	RetryAt *time.Time          `json:"retryAt,omitempty"`
	State   conversations.State `json:"state,omitempty"`
}

// Deduplicator is satisfied by *dedupe.Deduplicator.
type Deduplicator interface {
	CheckAndMark(ctx context.Context, entityID, eventType string) (bool, error)
	Release(ctx context.Context, entityID, eventType string) error
}

// Gate is satisfied by *compliance.Gate.
type Gate interface {
	CanSend(ctx context.Context, leadID, organizationID, phone, recipientTimezone string) (compliance.Decision, error)
	RecordOptOut(ctx context.Context, organizationID, leadID, reason string) error
}

// Advancer is satisfied by *engine.Engine.
type Advancer interface {
	Advance(ctx context.Context, in engine.Input) (engine.Result, error)
}

// Deferrer replays an event later. Implemented by the scheduler client.
type Deferrer interface {
	ScheduleDeferredEvent(ctx context.Context, ev Event, runAt time.Time) error
}

type Service struct {
	dedupe   Deduplicator
	gate     Gate
	engine   Advancer
	store    conversations.MessageLog
	contacts conversations.ContactStore
	deferrer Deferrer
	val      *validator.Validator
	region   string
	now      func() time.Time
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// NewService wires the intake path. deferrer may be nil, in which case
// quiet-hours blocks are dropped like any other block.
func NewService(d Deduplicator, gate Gate, adv Advancer, messages conversations.MessageLog, contacts conversations.ContactStore,
	deferrer Deferrer, val *validator.Validator, phoneRegion string, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		dedupe:   d,
		gate:     gate,
		engine:   adv,
		store:    messages,
		contacts: contacts,
		deferrer: deferrer,
		val:      val,
		region:   phoneRegion,
		now:      time.Now,
		log:      log,
		metrics:  m,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Handle processes one webhook delivery exactly once per (entity, type)
// within the dedupe TTL. Errors are returned only for malformed events;
// every other result is an Outcome.
func (s *Service) Handle(ctx context.Context, ev Event) (Outcome, error) {
	payload, err := s.prepare(&ev)
	if err != nil {
		return Outcome{}, err
	}

	log := s.log.WithLead(ev.LeadID, ev.OrganizationID).With("eventType", ev.EventType, "entityId", ev.EntityID)

	fresh, err := s.dedupe.CheckAndMark(ctx, ev.EntityID, string(ev.EventType))
	if err != nil {
		log.Error("dedupe store unavailable, dropping event", "error", err)
		return s.finish(ev, Outcome{Status: StatusUnavailable, Reason: "dedupe_store_unavailable"}), nil
	}
	if !fresh {
		log.Info("duplicate event ignored")
		return s.finish(ev, Outcome{Status: StatusDuplicate}), nil
	}

	outcome, err := s.process(ctx, ev, payload)
	if err != nil {
		// Let the CRM's redelivery through.
		if releaseErr := s.dedupe.Release(ctx, ev.EntityID, string(ev.EventType)); releaseErr != nil {
			log.Error("failed to release dedupe mark", "error", releaseErr)
		}
		log.Warn("event processing failed", "error", err)
		return s.finish(ev, Outcome{Status: StatusUnavailable, Reason: failureReason(err)}), nil
	}
	return s.finish(ev, outcome), nil
}

// Replay processes an event that was already marked, typically one deferred
// by quiet hours. A returned error means the caller should retry.
func (s *Service) Replay(ctx context.Context, ev Event) (Outcome, error) {
	payload, err := s.prepare(&ev)
	if err != nil {
		return Outcome{}, err
	}

	outcome, err := s.process(ctx, ev, payload)
	if err != nil {
		return s.finish(ev, Outcome{Status: StatusUnavailable, Reason: failureReason(err)}), err
	}
	return s.finish(ev, outcome), nil
}

func (s *Service) prepare(ev *Event) (any, error) {
	et, err := ParseEventType(string(ev.EventType))
	if err != nil {
		return nil, err
	}
	ev.EventType = et

	if err := s.val.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	payload, err := decodePayload(et, ev.Payload)
	if err != nil {
		return nil, err
	}
	if err := s.val.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrInvalidEvent, err)
	}
	return payload, nil
}

func (s *Service) process(ctx context.Context, ev Event, payload any) (Outcome, error) {
	switch p := payload.(type) {
	case *MessagePayload:
		if ev.EventType == EventOutboundMessage {
			return s.outboundMessage(ctx, ev, p)
		}
		return s.inboundMessage(ctx, ev, p)
	case *ContactPayload:
		if ev.EventType == EventLeadCreated {
			return s.leadCreated(ctx, ev, p)
		}
		return s.personUpdated(ctx, ev, p)
	case *ClosedPayload:
		res, err := s.engine.Advance(ctx, engine.Input{Key: ev.Key(), Kind: engine.InputOpportunityClosed, Outcome: p.Outcome})
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Status: StatusProcessed, State: res.State}, nil
	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownEventType, ev.EventType)
	}
}

func (s *Service) inboundMessage(ctx context.Context, ev Event, p *MessagePayload) (Outcome, error) {
	key := ev.Key()

	if compliance.IsStopKeyword(p.Text) {
		if err := s.gate.RecordOptOut(ctx, key.OrganizationID, key.LeadID, "stop keyword"); err != nil {
			return Outcome{}, fmt.Errorf("record opt-out: %w", err)
		}
		s.logInbound(ctx, ev, p)
		s.log.WithLead(key.LeadID, key.OrganizationID).Info("lead opted out by keyword")
		return Outcome{Status: StatusBlocked, Reason: string(compliance.ReasonOptedOut)}, nil
	}

	if blocked, outcome, err := s.checkGate(ctx, ev); err != nil || blocked {
		if err == nil && outcome.RetryAt == nil {
			s.logInbound(ctx, ev, p)
		}
		return outcome, err
	}

	res, err := s.engine.Advance(ctx, engine.Input{
		Key:        key,
		Kind:       engine.InputLeadMessage,
		Text:       p.Text,
		ExternalID: p.MessageID,
		Channel:    p.Channel,
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: StatusProcessed, State: res.State}, nil
}

func (s *Service) leadCreated(ctx context.Context, ev Event, p *ContactPayload) (Outcome, error) {
	if err := s.upsertContact(ctx, ev, p); err != nil {
		return Outcome{}, err
	}

	if blocked, outcome, err := s.checkGate(ctx, ev); err != nil || blocked {
		return outcome, err
	}

	res, err := s.engine.Advance(ctx, engine.Input{Key: ev.Key(), Kind: engine.InputLeadCreated})
	if err != nil {
		return Outcome{}, err
	}
	if !res.Delivery.Sent && res.Delivery.Decision.Reason != "" {
		return Outcome{Status: StatusBlocked, Reason: string(res.Delivery.Decision.Reason), State: res.State}, nil
	}
	return Outcome{Status: StatusProcessed, State: res.State}, nil
}

func (s *Service) personUpdated(ctx context.Context, ev Event, p *ContactPayload) (Outcome, error) {
	if err := s.upsertContact(ctx, ev, p); err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: StatusProcessed}, nil
}

// outboundMessage records messages sent from the CRM. Echoes of our own
// automated sends are recognised by provider id, or by body while the send
// is still in flight. Everything else is human.
func (s *Service) outboundMessage(ctx context.Context, ev Event, p *MessagePayload) (Outcome, error) {
	if p.MessageID != "" {
		automated, err := s.store.IsAutomatedMessage(ctx, ev.OrganizationID, p.MessageID)
		if err != nil {
			return Outcome{}, fmt.Errorf("check message authorship: %w", err)
		}
		if automated {
			return Outcome{Status: StatusProcessed, Reason: "automated_echo"}, nil
		}
	}

	echo, err := s.store.ClaimPendingEcho(ctx, ev.Key(), p.MessageID, p.Text)
	if err != nil {
		return Outcome{}, fmt.Errorf("match pending automated message: %w", err)
	}
	if echo {
		return Outcome{Status: StatusProcessed, Reason: "automated_echo"}, nil
	}

	sentAt := s.now().UTC()
	if p.SentAt != nil {
		sentAt = p.SentAt.UTC()
	}

	_, err = s.store.AppendMessage(ctx, conversations.Message{
		OrganizationID: ev.OrganizationID,
		LeadID:         ev.LeadID,
		Direction:      conversations.DirectionOutbound,
		Sender:         conversations.SenderAgent,
		Channel:        p.Channel,
		Body:           p.Text,
		ExternalID:     p.MessageID,
		CreatedAt:      sentAt,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("log agent message: %w", err)
	}
	return Outcome{Status: StatusProcessed, Reason: "agent_message"}, nil
}

// checkGate evaluates compliance before any work that could send. A
// quiet-hours block defers the whole event to the end of the window.
func (s *Service) checkGate(ctx context.Context, ev Event) (bool, Outcome, error) {
	contact, err := s.contacts.GetContact(ctx, ev.Key())
	if err != nil && !errors.Is(err, conversations.ErrNotFound) {
		return true, Outcome{}, fmt.Errorf("load contact: %w", err)
	}

	decision, err := s.gate.CanSend(ctx, ev.LeadID, ev.OrganizationID, contact.Phone, contact.Timezone)
	if err != nil {
		return true, Outcome{}, fmt.Errorf("compliance check: %w", err)
	}
	if decision.Allowed {
		return false, Outcome{}, nil
	}

	outcome := Outcome{Status: StatusBlocked, Reason: string(decision.Reason)}
	log := s.log.WithLead(ev.LeadID, ev.OrganizationID)

	if decision.Reason == compliance.ReasonQuietHours && !decision.RetryAt.IsZero() && s.deferrer != nil {
		if err := s.deferrer.ScheduleDeferredEvent(ctx, ev, decision.RetryAt); err != nil {
			return true, Outcome{}, fmt.Errorf("defer event: %w", err)
		}
		retryAt := decision.RetryAt
		outcome.RetryAt = &retryAt
		log.Info("event deferred until quiet hours end", "eventType", ev.EventType, "retryAt", retryAt)
		return true, outcome, nil
	}

	log.Info("event blocked by compliance", "eventType", ev.EventType, "reason", decision.Reason)
	return true, outcome, nil
}

func (s *Service) upsertContact(ctx context.Context, ev Event, p *ContactPayload) error {
	normalized := phone.NormalizeE164(p.Phone, s.region)
	if err := s.contacts.UpsertContact(ctx, p.contact(ev.Key(), normalized)); err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

// logInbound keeps the transcript complete for messages that are not processed.
func (s *Service) logInbound(ctx context.Context, ev Event, p *MessagePayload) {
	_, err := s.store.AppendMessage(ctx, conversations.Message{
		OrganizationID: ev.OrganizationID,
		LeadID:         ev.LeadID,
		Direction:      conversations.DirectionInbound,
		Sender:         conversations.SenderLead,
		Channel:        p.Channel,
		Body:           p.Text,
		ExternalID:     p.MessageID,
		CreatedAt:      s.now().UTC(),
	})
	if err != nil {
		s.log.WithLead(ev.LeadID, ev.OrganizationID).Warn("failed to log inbound message", "error", err)
	}
}

func (s *Service) finish(ev Event, outcome Outcome) Outcome {
	s.metrics.ObserveIntake(string(ev.EventType), string(outcome.Status))
	return outcome
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrDecisionFailed):
		return "decision_failed"
	case errors.Is(err, conversations.ErrVersionConflict):
		return "conflict"
	default:
		return "processing_failed"
	}
}
