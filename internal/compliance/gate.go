// Package compliance decides, immediately before every outbound send, whether
// contacting a lead is permitted right now.
package compliance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"engagement_backend/platform/config"
	"engagement_backend/platform/logger"
	"engagement_backend/platform/metrics"
	"engagement_backend/platform/phone"
)

// Reason names the first rule that blocked a send.
type Reason string

const (
	ReasonOptedOut           Reason = "opted_out"
	ReasonQuietHours         Reason = "quiet_hours"
	ReasonOrganizationPaused Reason = "organization_paused"
	ReasonStoreUnavailable   Reason = "store_unavailable"
)

// Decision is the outcome of one CanSend evaluation. RetryAt is set only for
// quiet-hours blocks.
type Decision struct {
	Allowed bool
	Reason  Reason
	RetryAt time.Time
}

// Store holds opt-outs and organization kill switches.
type Store interface {
	IsOptedOut(ctx context.Context, organizationID, leadID string) (bool, error)
	RecordOptOut(ctx context.Context, organizationID, leadID, reason string) error
	IsOutboundPaused(ctx context.Context, organizationID string) (bool, error)
}

type Gate struct {
	store         Store
	quiet         QuietHours
	defaultLoc    *time.Location
	defaultRegion string
	now           func() time.Time
	log           *logger.Logger
	metrics       *metrics.Metrics
}

func NewGate(store Store, cfg config.ComplianceConfig, log *logger.Logger, m *metrics.Metrics) (*Gate, error) {
	quiet, err := ParseQuietHours(cfg.GetQuietHoursStart(), cfg.GetQuietHoursEnd())
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.GetDefaultTimezone())
	if err != nil {
		return nil, fmt.Errorf("load default timezone: %w", err)
	}
	return &Gate{
		store:         store,
		quiet:         quiet,
		defaultLoc:    loc,
		defaultRegion: cfg.GetDefaultPhoneRegion(),
		now:           time.Now,
		log:           log,
		metrics:       m,
	}, nil
}

// WithClock replaces the time source. Tests use it to pin local time.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// CanSend evaluates opt-out, quiet hours in the recipient's timezone, then the
// organization kill switch, and returns the first failing rule. A store error
// blocks the send.
func (g *Gate) CanSend(ctx context.Context, leadID, organizationID, phoneNumber, recipientTimezone string) (Decision, error) {
	optedOut, err := g.store.IsOptedOut(ctx, organizationID, leadID)
	if err != nil {
		g.log.StoreError("postgres", "compliance_opt_out", err)
		return g.block(ReasonStoreUnavailable, time.Time{}), fmt.Errorf("check opt-out: %w", err)
	}
	if optedOut {
		return g.block(ReasonOptedOut, time.Time{}), nil
	}

	local := g.now().In(g.ResolveLocation(phoneNumber, recipientTimezone))
	if g.quiet.Contains(local) {
		return g.block(ReasonQuietHours, g.quiet.NextAllowed(local)), nil
	}

	paused, err := g.store.IsOutboundPaused(ctx, organizationID)
	if err != nil {
		g.log.StoreError("postgres", "compliance_org_paused", err)
		return g.block(ReasonStoreUnavailable, time.Time{}), fmt.Errorf("check organization settings: %w", err)
	}
	if paused {
		return g.block(ReasonOrganizationPaused, time.Time{}), nil
	}

	return Decision{Allowed: true}, nil
}

// RecordOptOut permanently stops automated contact with a lead.
func (g *Gate) RecordOptOut(ctx context.Context, organizationID, leadID, reason string) error {
	if err := g.store.RecordOptOut(ctx, organizationID, leadID, reason); err != nil {
		return fmt.Errorf("record opt-out: %w", err)
	}
	g.log.WithLead(leadID, organizationID).Info("lead opted out", "reason", reason)
	return nil
}

// ResolveLocation picks the recipient's zone: the explicit zone when valid,
// then the zone implied by the phone number, then the configured default.
func (g *Gate) ResolveLocation(phoneNumber, recipientTimezone string) *time.Location {
	if tz := strings.TrimSpace(recipientTimezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	if tz := phone.TimezoneFor(phoneNumber, g.defaultRegion); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return g.defaultLoc
}

func (g *Gate) block(reason Reason, retryAt time.Time) Decision {
	g.metrics.ObserveComplianceBlock(string(reason))
	return Decision{Reason: reason, RetryAt: retryAt}
}

// IsStopKeyword reports whether an inbound text is an opt-out request.
func IsStopKeyword(text string) bool {
	switch strings.ToUpper(strings.Trim(strings.TrimSpace(text), ".!")) {
	case "STOP", "STOPALL", "UNSUBSCRIBE", "CANCEL", "END", "QUIT":
		return true
	default:
		return false
	}
}
