package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"engagement_backend/internal/escalation"
	"engagement_backend/internal/outbox"
	"engagement_backend/platform/logger"
	"engagement_backend/platform/metrics"
)

const (
	dispatchInterval  = 2 * time.Second
	dispatchBatchSize = 50
)

// PendingDispatcher is satisfied by *outbox.Repository.
type PendingDispatcher interface {
	DispatchPending(ctx context.Context, limit int, enqueue func(context.Context, outbox.Record) error) (outbox.DispatchResult, error)
}

// Dispatcher moves pending outbox rows onto the task queue. A row leaves
// pending only once its enqueue succeeded and the outbox transaction
// committed; anything else is retried on the next tick under the same task id.
type Dispatcher struct {
	repo    PendingDispatcher
	client  *Client
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(repo PendingDispatcher, client *Client, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{repo: repo, client: client, log: log, metrics: m}
}

func (d *Dispatcher) Run(ctx context.Context) {
	if d == nil || d.client == nil || d.repo == nil {
		return
	}

	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := d.dispatchOnce(ctx); err != nil {
			d.log.Warn("outbox dispatch failed", "error", err)
		}
	}
}

// dispatchOnce handles one batch and returns how many rows were enqueued.
func (d *Dispatcher) dispatchOnce(ctx context.Context) (int, error) {
	res, err := d.repo.DispatchPending(ctx, dispatchBatchSize, func(ctx context.Context, rec outbox.Record) error {
		if err := d.enqueue(ctx, rec); err != nil {
			d.log.Warn("outbox enqueue failed", "outboxId", rec.ID, "kind", rec.Kind, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for range res.Enqueued {
		d.metrics.ObserveOutboxDispatch("enqueued")
	}
	for range res.Failed {
		d.metrics.ObserveOutboxDispatch("error")
	}
	return res.Enqueued, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, rec outbox.Record) error {
	var check escalation.CheckPayload
	if err := json.Unmarshal(rec.Payload, &check); err != nil {
		return fmt.Errorf("decode outbox payload: %w", err)
	}

	payload := EscalationCheckPayload{OutboxID: rec.ID.String(), CheckPayload: check}
	return d.client.ScheduleCheck(ctx, rec.Kind, rec.ID.String(), payload, rec.RunAt)
}
