package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"engagement_backend/internal/escalation"
	"engagement_backend/internal/intake"
	"engagement_backend/platform/config"
	"engagement_backend/platform/redisx"

	"github.com/hibiken/asynq"
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Client struct {
	client   *asynq.Client
	enqueuer Enqueuer
	queue    string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	opt, err := redisx.AsynqOpt(cfg)
	if err != nil {
		return nil, err
	}

	client := asynq.NewClient(opt)
	return &Client{
		client:   client,
		enqueuer: client,
		queue:    queueName(cfg),
	}, nil
}

// NewClientWithEnqueuer builds a client over an arbitrary enqueuer.
func NewClientWithEnqueuer(e Enqueuer, queue string) *Client {
	if queue == "" {
		queue = "default"
	}
	return &Client{enqueuer: e, queue: queue}
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ScheduleCheck enqueues one escalation check to run at runAt. taskID
// suppresses duplicate enqueues of the same check; a conflict is not an error.
func (c *Client) ScheduleCheck(ctx context.Context, kind, taskID string, payload EscalationCheckPayload, runAt time.Time) error {
	if c == nil || c.enqueuer == nil {
		return fmt.Errorf("scheduler client not configured")
	}

	task, err := NewEscalationCheckTask(kind, payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, taskID, runAt)
}

// ScheduleDeferredEvent replays an intake event at runAt. It implements
// intake.Deferrer.
func (c *Client) ScheduleDeferredEvent(ctx context.Context, ev intake.Event, runAt time.Time) error {
	if c == nil || c.enqueuer == nil {
		return fmt.Errorf("scheduler client not configured")
	}

	task, err := NewDeferredEventTask(ev)
	if err != nil {
		return err
	}
	taskID := fmt.Sprintf("deferred:%s:%s:%d", ev.EventType, ev.EntityID, runAt.Unix())
	return c.enqueue(ctx, task, taskID, runAt)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, taskID string, runAt time.Time) error {
	opts := []asynq.Option{asynq.ProcessAt(runAt), asynq.Queue(c.queue)}
	if taskID != "" {
		opts = append(opts, asynq.TaskID(taskID))
	}

	_, err := c.enqueuer.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func queueName(cfg config.SchedulerConfig) string {
	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}
	return queue
}

// deferredCheckID keys a re-enqueued check by its episode and retry instant.
func deferredCheckID(kind string, p escalation.CheckPayload, runAt time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%d:%d", kind, p.OrganizationID, p.LeadID, p.EpisodeAt.UnixMicro(), runAt.Unix())
}
