// Package core is the composition root shared by the API and scheduler
// processes. Every engagement component is constructed once here and passed
// by reference; nothing is held in package globals.
package core

import (
	"context"
	"fmt"

	"engagement_backend/internal/classifier"
	"engagement_backend/internal/compliance"
	"engagement_backend/internal/conversations"
	"engagement_backend/internal/dedupe"
	"engagement_backend/internal/email"
	"engagement_backend/internal/engine"
	"engagement_backend/internal/escalation"
	"engagement_backend/internal/intake"
	"engagement_backend/internal/notifier"
	"engagement_backend/internal/outbound"
	"engagement_backend/internal/outbox"
	"engagement_backend/internal/whatsapp"
	"engagement_backend/platform/config"
	"engagement_backend/platform/logger"
	"engagement_backend/platform/metrics"
	"engagement_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Core struct {
	Conversations *conversations.Repository
	Compliance    *compliance.Repository
	Outbox        *outbox.Repository
	Dedupe        *dedupe.Deduplicator
	Gate          *compliance.Gate
	Outbound      *outbound.Service
	Notifier      *notifier.Notifier
	Engine        *engine.Engine
	Checker       *escalation.Checker
	Intake        *intake.Service
}

// Build wires the engagement components. deferrer may be nil.
func Build(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, rdb redis.UniversalClient,
	deferrer intake.Deferrer, log *logger.Logger, m *metrics.Metrics) (*Core, error) {
	convRepo := conversations.NewRepository(pool)
	complianceRepo := compliance.NewRepository(pool)

	gate, err := compliance.NewGate(complianceRepo, cfg, log, m)
	if err != nil {
		return nil, fmt.Errorf("compliance gate: %w", err)
	}

	templates, err := outbound.LoadTemplates(cfg.GetMessageTemplatesPath())
	if err != nil {
		return nil, fmt.Errorf("message templates: %w", err)
	}

	smtp := email.NewSMTPSender(cfg)
	senders := []outbound.Sender{outbound.NewSMSSender(cfg, cfg.GetDefaultPhoneRegion())}
	var mailer notifier.Mailer
	if smtp != nil {
		senders = append(senders, outbound.NewEmailSender(smtp, cfg.GetSMTPFromAddress()))
		mailer = smtp
	} else {
		log.Warn("SMTP not configured; email channel and email handoff alerts disabled")
	}

	var dm notifier.DirectMessenger
	if wa := whatsapp.NewClient(cfg, cfg.GetDefaultPhoneRegion(), log); wa != nil {
		dm = wa
	} else {
		log.Warn("WHATSAPP_URL not configured; direct handoff alerts disabled")
	}

	cls, err := newClassifier(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	out := outbound.NewService(gate, convRepo, complianceRepo, templates, cfg, log, senders...)
	notify := notifier.New(dm, mailer, log, m)
	eng := engine.New(convRepo, convRepo, cls, out, notify, cfg, log, m)
	dd := dedupe.New(rdb, cfg.GetDedupeTTL(), log, m)

	return &Core{
		Conversations: convRepo,
		Compliance:    complianceRepo,
		Outbox:        outbox.New(pool),
		Dedupe:        dd,
		Gate:          gate,
		Outbound:      out,
		Notifier:      notify,
		Engine:        eng,
		Checker:       escalation.NewChecker(convRepo, convRepo, convRepo, out, log, m),
		Intake: intake.NewService(dd, gate, eng, convRepo, convRepo, deferrer, validator.New(),
			cfg.GetDefaultPhoneRegion(), log, m),
	}, nil
}

func newClassifier(ctx context.Context, cfg config.ClassifierConfig, log *logger.Logger) (classifier.Classifier, error) {
	if !cfg.IsClassifierEnabled() {
		log.Warn("GEMINI_API_KEY not configured; using keyword rules for decisions")
		return classifier.NewRules(), nil
	}
	cls, err := classifier.NewGeminiClassifier(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini classifier: %w", err)
	}
	return cls, nil
}
