package scheduler

import (
	"context"
	"fmt"

	"engagement_backend/internal/escalation"
	"engagement_backend/internal/intake"
	"engagement_backend/platform/config"
	"engagement_backend/platform/logger"
	"engagement_backend/platform/redisx"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// CheckRunner is satisfied by *escalation.Checker.
type CheckRunner interface {
	RunFallback(ctx context.Context, p escalation.CheckPayload) (escalation.Result, error)
	RunReactivation(ctx context.Context, p escalation.CheckPayload) (escalation.Result, error)
}

// EventReplayer is satisfied by *intake.Service.
type EventReplayer interface {
	Replay(ctx context.Context, ev intake.Event) (intake.Outcome, error)
}

// OutboxTracker is satisfied by *outbox.Repository.
type OutboxTracker interface {
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	checks CheckRunner
	events EventReplayer
	outbox OutboxTracker
	client *Client
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, checks CheckRunner, events EventReplayer, tracker OutboxTracker,
	client *Client, log *logger.Logger) (*Worker, error) {
	opt, err := redisx.AsynqOpt(cfg)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newWorker(checks, events, tracker, client, log)
	w.server = server
	return w, nil
}

func newWorker(checks CheckRunner, events EventReplayer, tracker OutboxTracker, client *Client, log *logger.Logger) *Worker {
	mux := asynq.NewServeMux()
	w := &Worker{
		mux:    mux,
		checks: checks,
		events: events,
		outbox: tracker,
		client: client,
		log:    log,
	}

	mux.HandleFunc(TaskEscalationFallback, w.handleEscalationCheck)
	mux.HandleFunc(TaskEscalationReactivate, w.handleEscalationCheck)
	mux.HandleFunc(TaskDeferredEvent, w.handleDeferredEvent)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleEscalationCheck(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseEscalationCheckPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	var res escalation.Result
	switch task.Type() {
	case TaskEscalationFallback:
		res, err = w.checks.RunFallback(ctx, payload.CheckPayload)
	case TaskEscalationReactivate:
		res, err = w.checks.RunReactivation(ctx, payload.CheckPayload)
	default:
		return fmt.Errorf("unexpected task type %q: %w", task.Type(), asynq.SkipRetry)
	}

	log := w.log.WithLead(payload.LeadID, payload.OrganizationID)
	if err != nil {
		log.Warn("escalation check failed", "kind", task.Type(), "error", err)
		if isFinalAttempt(ctx) {
			w.markFailed(ctx, payload.OutboxID, err)
		}
		return err
	}

	if res.Outcome == escalation.OutcomeDeferred {
		id := deferredCheckID(task.Type(), payload.CheckPayload, res.RetryAt)
		if err := w.client.ScheduleCheck(ctx, task.Type(), id, payload, res.RetryAt); err != nil {
			return fmt.Errorf("reschedule deferred check: %w", err)
		}
		log.Info("escalation check deferred", "kind", task.Type(), "retryAt", res.RetryAt)
		return nil
	}

	log.Info("escalation check completed", "kind", task.Type(), "outcome", res.Outcome)
	w.markSucceeded(ctx, payload.OutboxID)
	return nil
}

func (w *Worker) handleDeferredEvent(ctx context.Context, task *asynq.Task) error {
	ev, err := ParseDeferredEventPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	outcome, err := w.events.Replay(ctx, ev)
	if err != nil {
		return err
	}
	w.log.Info("deferred event replayed", "eventType", ev.EventType, "entityId", ev.EntityID, "status", outcome.Status)
	return nil
}

func (w *Worker) markSucceeded(ctx context.Context, outboxID string) {
	id, ok := parseOutboxID(outboxID)
	if !ok || w.outbox == nil {
		return
	}
	if err := w.outbox.MarkSucceeded(ctx, id); err != nil {
		w.log.StoreError("postgres", "outbox_mark_succeeded", err)
	}
}

func (w *Worker) markFailed(ctx context.Context, outboxID string, cause error) {
	id, ok := parseOutboxID(outboxID)
	if !ok || w.outbox == nil {
		return
	}
	if err := w.outbox.MarkFailed(ctx, id, cause.Error()); err != nil {
		w.log.StoreError("postgres", "outbox_mark_failed", err)
	}
}

func parseOutboxID(raw string) (uuid.UUID, bool) {
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	return id, err == nil
}

func isFinalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return ok && retried >= maxRetry
}
