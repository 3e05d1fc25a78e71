package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"engagement_backend/internal/compliance"
	"engagement_backend/internal/conversations"
	"engagement_backend/internal/outbound"
	"engagement_backend/platform/logger"
	"engagement_backend/platform/metrics"
)

// Outcome describes what a check did.
type Outcome string

const (
	OutcomeSent         Outcome = "sent"
	OutcomeReactivated  Outcome = "reactivated"
	OutcomeStale        Outcome = "stale"
	OutcomeHumanReplied Outcome = "human_replied"
	OutcomeAlreadyDone  Outcome = "already_done"
	OutcomeDeferred     Outcome = "deferred"
	OutcomeBlocked      Outcome = "blocked"
)

// Result is returned by both checks. RetryAt is set when the check was
// deferred by quiet hours and should run again.
type Result struct {
	Outcome Outcome
	RetryAt time.Time
}

// Deliverer is satisfied by *outbound.Service.
type Deliverer interface {
	Deliver(ctx context.Context, req outbound.DeliverRequest) (outbound.Result, error)
}

type Checker struct {
	store     conversations.Store
	messages  conversations.MessageLog
	contacts  conversations.ContactStore
	deliverer Deliverer
	now       func() time.Time
	log       *logger.Logger
	metrics   *metrics.Metrics
}

func NewChecker(store conversations.Store, messages conversations.MessageLog, contacts conversations.ContactStore,
	deliverer Deliverer, log *logger.Logger, m *metrics.Metrics) *Checker {
	return &Checker{
		store:     store,
		messages:  messages,
		contacts:  contacts,
		deliverer: deliverer,
		now:       time.Now,
		log:       log,
		metrics:   m,
	}
}

// WithClock replaces the time source. Tests use it to simulate the horizons.
func (c *Checker) WithClock(now func() time.Time) *Checker {
	c.now = now
	return c
}

// RunFallback sends one reassurance message if the episode is still open and
// unanswered. The fallback marker is claimed before sending and released if
// the send does not happen, so at most one fallback goes out per episode.
func (c *Checker) RunFallback(ctx context.Context, p CheckPayload) (Result, error) {
	res, err := c.runFallback(ctx, p)
	c.observe(KindFallback, res, err)
	return res, err
}

func (c *Checker) runFallback(ctx context.Context, p CheckPayload) (Result, error) {
	key := p.Key()
	conv, open, err := c.openEpisode(ctx, p)
	if err != nil || !open {
		return Result{Outcome: OutcomeStale}, err
	}
	if conv.HandoffFallbackSentAt != nil {
		return Result{Outcome: OutcomeAlreadyDone}, nil
	}
	if replied, err := c.humanReplied(ctx, key, p.EpisodeAt); err != nil || replied {
		return Result{Outcome: OutcomeHumanReplied}, err
	}

	contact, err := c.contact(ctx, key)
	if err != nil {
		return Result{}, err
	}

	now := c.now().UTC()
	claimed, err := c.store.ClaimFallback(ctx, key, p.EpisodeAt, now)
	if err != nil {
		return Result{}, fmt.Errorf("claim fallback: %w", err)
	}
	if !claimed {
		return Result{Outcome: OutcomeAlreadyDone}, nil
	}

	sent, err := c.deliverer.Deliver(ctx, outbound.DeliverRequest{Key: key, Contact: contact, Kind: outbound.KindFallback})
	if err != nil || !sent.Sent {
		if releaseErr := c.store.ReleaseFallback(ctx, key, p.EpisodeAt); releaseErr != nil {
			c.log.StoreError("postgres", "release_fallback", releaseErr)
		}
		if err != nil {
			return Result{}, fmt.Errorf("deliver fallback: %w", err)
		}
		return blockedResult(sent.Decision), nil
	}

	c.log.WithLead(key.LeadID, key.OrganizationID).Info("handoff fallback sent", "episodeAt", p.EpisodeAt)
	return Result{Outcome: OutcomeSent}, nil
}

// RunReactivation returns an unanswered handed-off conversation to
// QUALIFYING and sends a re-engagement message. If the message cannot be
// sent the handoff is restored.
func (c *Checker) RunReactivation(ctx context.Context, p CheckPayload) (Result, error) {
	res, err := c.runReactivation(ctx, p)
	c.observe(KindReactivate, res, err)
	return res, err
}

func (c *Checker) runReactivation(ctx context.Context, p CheckPayload) (Result, error) {
	key := p.Key()
	conv, open, err := c.openEpisode(ctx, p)
	if err != nil || !open {
		return Result{Outcome: OutcomeStale}, err
	}
	if conv.HandoffReactivatedAt != nil {
		return Result{Outcome: OutcomeAlreadyDone}, nil
	}
	if replied, err := c.humanReplied(ctx, key, p.EpisodeAt); err != nil || replied {
		return Result{Outcome: OutcomeHumanReplied}, err
	}

	contact, err := c.contact(ctx, key)
	if err != nil {
		return Result{}, err
	}

	now := c.now().UTC()
	reactivated, err := c.store.Reactivate(ctx, key, p.EpisodeAt, now)
	if err != nil {
		return Result{}, fmt.Errorf("reactivate conversation: %w", err)
	}
	if !reactivated {
		return Result{Outcome: OutcomeAlreadyDone}, nil
	}

	sent, err := c.deliverer.Deliver(ctx, outbound.DeliverRequest{Key: key, Contact: contact, Kind: outbound.KindReengagement})
	if err != nil || !sent.Sent {
		if restoreErr := c.store.RestoreHandoff(ctx, key, p.EpisodeAt, conv.HandoffReason); restoreErr != nil {
			c.log.StoreError("postgres", "restore_handoff", restoreErr)
		}
		if err != nil {
			return Result{}, fmt.Errorf("deliver re-engagement: %w", err)
		}
		return blockedResult(sent.Decision), nil
	}

	if err := c.store.MarkAgentMessage(ctx, key, now); err != nil {
		c.log.StoreError("postgres", "mark_agent_message", err)
	}

	c.log.WithLead(key.LeadID, key.OrganizationID).Info("conversation reactivated", "episodeAt", p.EpisodeAt)
	return Result{Outcome: OutcomeReactivated}, nil
}

// openEpisode reports whether the conversation is still handed off in the
// episode the check was scheduled for.
func (c *Checker) openEpisode(ctx context.Context, p CheckPayload) (conversations.Conversation, bool, error) {
	conv, err := c.store.Get(ctx, p.Key())
	if errors.Is(err, conversations.ErrNotFound) {
		return conversations.Conversation{}, false, nil
	}
	if err != nil {
		return conversations.Conversation{}, false, fmt.Errorf("load conversation: %w", err)
	}
	return conv, conv.InEpisode(p.EpisodeAt), nil
}

func (c *Checker) humanReplied(ctx context.Context, key conversations.Key, since time.Time) (bool, error) {
	replied, err := c.messages.HasHumanReplySince(ctx, key, since)
	if err != nil {
		return false, fmt.Errorf("check human replies: %w", err)
	}
	return replied, nil
}

func (c *Checker) contact(ctx context.Context, key conversations.Key) (conversations.Contact, error) {
	contact, err := c.contacts.GetContact(ctx, key)
	if errors.Is(err, conversations.ErrNotFound) {
		return conversations.Contact{OrganizationID: key.OrganizationID, LeadID: key.LeadID}, nil
	}
	if err != nil {
		return conversations.Contact{}, fmt.Errorf("load contact: %w", err)
	}
	return contact, nil
}

func (c *Checker) observe(kind string, res Result, err error) {
	outcome := string(res.Outcome)
	if err != nil {
		outcome = "error"
	}
	c.metrics.ObserveEscalationCheck(kind, outcome)
}

func blockedResult(decision compliance.Decision) Result {
	if decision.Reason == compliance.ReasonQuietHours && !decision.RetryAt.IsZero() {
		return Result{Outcome: OutcomeDeferred, RetryAt: decision.RetryAt}
	}
	return Result{Outcome: OutcomeBlocked}
}
