// Package engine advances a lead's conversation one inbound event at a time.
// The decision function supplies intent and extracted data; the engine owns
// the policy of what state follows and which side effects fire.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"engagement_backend/internal/classifier"
	"engagement_backend/internal/conversations"
	"engagement_backend/internal/escalation"
	"engagement_backend/internal/notifier"
	"engagement_backend/internal/outbound"
	"engagement_backend/platform/config"
	"engagement_backend/platform/logger"
	"engagement_backend/platform/metrics"
)

var (
	// ErrDecisionFailed means the decision function errored or timed out. The
	// conversation was not changed and nothing was sent.
	ErrDecisionFailed = errors.New("decision function failed")

	ErrUnknownInput = errors.New("unknown engine input")
)

const defaultHandoffReason = "lead score threshold reached"

// InputKind is the closed set of events the engine understands.
type InputKind string

const (
	InputLeadMessage       InputKind = "lead_message"
	InputLeadCreated       InputKind = "lead_created"
	InputOpportunityClosed InputKind = "opportunity_closed"
)

// Input is one event for one conversation.
type Input struct {
	Key        conversations.Key
	Kind       InputKind
	Text       string
	ExternalID string
	Channel    string
	// Outcome is the won/lost label carried by opportunity_closed.
	Outcome string
}

// Result describes the transition that was applied.
type Result struct {
	State    conversations.State
	Action   Action
	Delivery outbound.Result
	Notified notifier.Result
}

// Deliverer is satisfied by *outbound.Service.
type Deliverer interface {
	Deliver(ctx context.Context, req outbound.DeliverRequest) (outbound.Result, error)
}

// Notifier is satisfied by *notifier.Notifier.
type Notifier interface {
	Notify(ctx context.Context, req notifier.Request) notifier.Result
}

type Engine struct {
	store             conversations.Store
	contacts          conversations.ContactStore
	classifier        classifier.Classifier
	deliverer         Deliverer
	notifier          Notifier
	threshold         int
	decisionTimeout   time.Duration
	fallbackDelay     time.Duration
	reactivationDelay time.Duration
	now               func() time.Time
	log               *logger.Logger
	metrics           *metrics.Metrics
}

func New(store conversations.Store, contacts conversations.ContactStore, cls classifier.Classifier,
	deliverer Deliverer, n Notifier, cfg config.EngagementConfig, log *logger.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		store:             store,
		contacts:          contacts,
		classifier:        cls,
		deliverer:         deliverer,
		notifier:          n,
		threshold:         cfg.GetHandoffScoreThreshold(),
		decisionTimeout:   cfg.GetDecisionTimeout(),
		fallbackDelay:     cfg.GetFallbackDelay(),
		reactivationDelay: cfg.GetReactivationDelay(),
		now:               time.Now,
		log:               log,
		metrics:           m,
	}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Advance applies one input. A returned error means no state change was
// persisted and the event may be redelivered.
func (e *Engine) Advance(ctx context.Context, in Input) (Result, error) {
	switch in.Kind {
	case InputLeadMessage:
		return e.leadMessage(ctx, in)
	case InputLeadCreated:
		return e.leadCreated(ctx, in)
	case InputOpportunityClosed:
		return e.opportunityClosed(ctx, in)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownInput, in.Kind)
	}
}

func (e *Engine) leadMessage(ctx context.Context, in Input) (Result, error) {
	now := e.timestamp()
	log := e.log.WithLead(in.Key.LeadID, in.Key.OrganizationID)

	conv, err := e.store.GetOrCreate(ctx, in.Key, now)
	if err != nil {
		return Result{}, fmt.Errorf("load conversation: %w", err)
	}

	inbound := conversations.Message{
		OrganizationID: in.Key.OrganizationID,
		LeadID:         in.Key.LeadID,
		Direction:      conversations.DirectionInbound,
		Sender:         conversations.SenderLead,
		Channel:        in.Channel,
		Body:           in.Text,
		ExternalID:     in.ExternalID,
		CreatedAt:      now,
	}

	switch conv.State {
	case conversations.StateCompleted:
		if _, err := e.store.Save(ctx, conversations.SaveParams{
			Conversation: conv, ExpectedVersion: conv.Version, Messages: []conversations.Message{inbound},
		}); err != nil {
			return Result{}, fmt.Errorf("log message on completed conversation: %w", err)
		}
		return Result{State: conv.State, Action: ActionNone}, nil

	case conversations.StateHandedOff:
		// Agent stays silent; the timestamp lets escalation checks see the lead is still active.
		updated := conv.Clone()
		updated.LastLeadResponseAt = &now
		if _, err := e.store.Save(ctx, conversations.SaveParams{
			Conversation: updated, ExpectedVersion: conv.Version, Messages: []conversations.Message{inbound},
		}); err != nil {
			return Result{}, fmt.Errorf("record lead response in handoff: %w", err)
		}
		log.Info("lead message during handoff", "episodeAt", conv.LastAgentMessageAt)
		return Result{State: conv.State, Action: ActionNone}, nil
	}

	contact := e.contact(ctx, in.Key)

	decision, err := e.decide(ctx, classifier.Request{Conversation: conv, Contact: contact, InboundText: in.Text})
	if err != nil {
		log.Warn("decision function failed", "error", err)
		return Result{State: conv.State}, fmt.Errorf("%w: %v", ErrDecisionFailed, err)
	}

	updated := conv.Clone()
	updated.MergeQualification(decision.QualificationUpdates)
	updated.LeadScore = Score(updated.QualificationData, conv.LeadScore, decision.ScoreDelta)
	updated.LastLeadResponseAt = &now

	next, action := Transition(conv.State, decision, conv.LeadScore, updated.LeadScore, e.threshold)
	updated.State = next

	if action == ActionHandoff {
		return e.handoff(ctx, conv, updated, decision.Reason, inbound, contact, now)
	}

	saved, err := e.store.Save(ctx, conversations.SaveParams{
		Conversation:    updated,
		ExpectedVersion: conv.Version,
		Messages:        []conversations.Message{inbound},
	})
	if err != nil {
		return Result{}, fmt.Errorf("save conversation: %w", err)
	}

	res := Result{State: saved.State, Action: action}
	if action != ActionReply {
		return res, nil
	}

	res.Delivery = e.send(ctx, in.Key, contact, outbound.KindReply, decision.ReplyText)
	return res, nil
}

// handoff persists HANDED_OFF together with both escalation checks, then
// alerts the assignee once.
func (e *Engine) handoff(ctx context.Context, prev, updated conversations.Conversation, reason string,
	inbound conversations.Message, contact conversations.Contact, now time.Time) (Result, error) {
	if reason == "" {
		reason = defaultHandoffReason
	}
	updated.HandoffReason = reason
	updated.LastAgentMessageAt = &now
	updated.HandoffFallbackSentAt = nil
	updated.HandoffReactivatedAt = nil

	key := updated.Key()
	saved, err := e.store.Save(ctx, conversations.SaveParams{
		Conversation:    updated,
		ExpectedVersion: prev.Version,
		Messages:        []conversations.Message{inbound},
		Outbox:          escalation.Plan(key, now, e.fallbackDelay, e.reactivationDelay),
	})
	if err != nil {
		return Result{}, fmt.Errorf("save handoff: %w", err)
	}
	e.metrics.ObserveHandoff()

	notified := e.notifier.Notify(ctx, notifier.Request{
		Key:           key,
		HandoffReason: reason,
		LastMessage:   inbound.Body,
		Lead:          contact,
	})

	e.log.WithLead(key.LeadID, key.OrganizationID).Info("conversation handed off",
		"reason", reason, "from", prev.State, "score", saved.LeadScore,
		"notified", notified.Succeeded, "notifyFailed", len(notified.Failed))

	return Result{State: saved.State, Action: ActionHandoff, Notified: notified}, nil
}

func (e *Engine) leadCreated(ctx context.Context, in Input) (Result, error) {
	now := e.timestamp()

	conv, err := e.store.GetOrCreate(ctx, in.Key, now)
	if err != nil {
		return Result{}, fmt.Errorf("load conversation: %w", err)
	}
	if conv.State != conversations.StateInitial {
		return Result{State: conv.State, Action: ActionNone}, nil
	}

	contact := e.contact(ctx, in.Key)
	delivery, err := e.deliverer.Deliver(ctx, outbound.DeliverRequest{Key: in.Key, Contact: contact, Kind: outbound.KindOpener})
	if err != nil {
		return Result{State: conv.State}, fmt.Errorf("send opener: %w", err)
	}
	if !delivery.Sent {
		return Result{State: conv.State, Action: ActionNone, Delivery: delivery}, nil
	}

	updated := conv.Clone()
	updated.State = conversations.StateQualifying
	sentAt := e.timestamp()
	updated.LastAgentMessageAt = &sentAt

	saved, err := e.store.Save(ctx, conversations.SaveParams{Conversation: updated, ExpectedVersion: conv.Version})
	if err != nil {
		return Result{}, fmt.Errorf("save opener state: %w", err)
	}
	return Result{State: saved.State, Action: ActionOpener, Delivery: delivery}, nil
}

func (e *Engine) opportunityClosed(ctx context.Context, in Input) (Result, error) {
	now := e.timestamp()

	conv, err := e.store.GetOrCreate(ctx, in.Key, now)
	if err != nil {
		return Result{}, fmt.Errorf("load conversation: %w", err)
	}
	if conv.State.Terminal() {
		return Result{State: conv.State, Action: ActionNone}, nil
	}

	updated := conv.Clone()
	updated.State = conversations.StateCompleted
	if in.Outcome != "" {
		updated.MergeQualification(map[string]any{"opportunity_outcome": in.Outcome})
	}

	saved, err := e.store.Save(ctx, conversations.SaveParams{Conversation: updated, ExpectedVersion: conv.Version})
	if err != nil {
		return Result{}, fmt.Errorf("complete conversation: %w", err)
	}

	e.log.WithLead(in.Key.LeadID, in.Key.OrganizationID).Info("conversation completed", "outcome", in.Outcome, "from", conv.State)
	return Result{State: saved.State, Action: ActionComplete}, nil
}

func (e *Engine) decide(ctx context.Context, req classifier.Request) (classifier.Decision, error) {
	if e.decisionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.decisionTimeout)
		defer cancel()
	}

	start := time.Now()
	decision, err := e.classifier.Classify(ctx, req)
	e.metrics.ObserveDecision(time.Since(start))
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return decision, err
}

// send delivers a reply after the state write. Send failures are logged, not
// returned: the state change already happened and the fallback check covers
// an unanswered lead.
func (e *Engine) send(ctx context.Context, key conversations.Key, contact conversations.Contact, kind outbound.Kind, text string) outbound.Result {
	log := e.log.WithLead(key.LeadID, key.OrganizationID)

	delivery, err := e.deliverer.Deliver(ctx, outbound.DeliverRequest{Key: key, Contact: contact, Kind: kind, Text: text})
	if err != nil {
		log.Warn("reply not delivered", "kind", kind, "error", err)
		return delivery
	}
	if !delivery.Sent {
		return delivery
	}

	if err := e.store.MarkAgentMessage(ctx, key, e.timestamp()); err != nil {
		log.Error("failed to stamp agent message", "error", err)
	}
	return delivery
}

func (e *Engine) contact(ctx context.Context, key conversations.Key) conversations.Contact {
	contact, err := e.contacts.GetContact(ctx, key)
	if err != nil {
		if !errors.Is(err, conversations.ErrNotFound) {
			e.log.WithLead(key.LeadID, key.OrganizationID).Warn("contact lookup failed", "error", err)
		}
		return conversations.Contact{OrganizationID: key.OrganizationID, LeadID: key.LeadID}
	}
	return contact
}

// timestamp is truncated to the precision Postgres stores so episode anchors
// compare equal after a round trip.
func (e *Engine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}
