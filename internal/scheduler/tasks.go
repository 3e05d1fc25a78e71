package scheduler

import (
	"encoding/json"
	"fmt"

	"engagement_backend/internal/escalation"
	"engagement_backend/internal/intake"

	"github.com/hibiken/asynq"
)

const (
	TaskEscalationFallback   = escalation.KindFallback
	TaskEscalationReactivate = escalation.KindReactivate
	TaskDeferredEvent        = "intake.deferred"
)

// EscalationCheckPayload is the task body for both escalation checks. OutboxID
// links the task back to the outbox row it was dispatched from.
type EscalationCheckPayload struct {
	OutboxID string `json:"outboxId,omitempty"`
	escalation.CheckPayload
}

func NewEscalationCheckTask(kind string, payload EscalationCheckPayload) (*asynq.Task, error) {
	if kind != TaskEscalationFallback && kind != TaskEscalationReactivate {
		return nil, fmt.Errorf("unknown escalation check kind %q", kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(kind, data), nil
}

func ParseEscalationCheckPayload(task *asynq.Task) (EscalationCheckPayload, error) {
	var payload EscalationCheckPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return EscalationCheckPayload{}, err
	}
	if payload.OrganizationID == "" || payload.LeadID == "" || payload.EpisodeAt.IsZero() {
		return EscalationCheckPayload{}, fmt.Errorf("escalation check payload is incomplete")
	}
	return payload, nil
}

func NewDeferredEventTask(ev intake.Event) (*asynq.Task, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeferredEvent, data), nil
}

func ParseDeferredEventPayload(task *asynq.Task) (intake.Event, error) {
	var ev intake.Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		return intake.Event{}, err
	}
	return ev, nil
}
