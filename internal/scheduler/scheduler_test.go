package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"engagement_backend/internal/escalation"
	"engagement_backend/internal/intake"
	"engagement_backend/internal/outbox"
	"engagement_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type enqueued struct {
	task      *asynq.Task
	taskID    string
	queue     string
	processAt time.Time
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []enqueued
	ids   map[string]bool
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	e := enqueued{task: task}
	for _, o := range opts {
		switch o.Type() {
		case asynq.TaskIDOpt:
			e.taskID = o.Value().(string)
		case asynq.QueueOpt:
			e.queue = o.Value().(string)
		case asynq.ProcessAtOpt:
			e.processAt = o.Value().(time.Time)
		}
	}
	if e.taskID != "" {
		if f.ids[e.taskID] {
			return nil, asynq.ErrTaskIDConflict
		}
		if f.ids == nil {
			f.ids = map[string]bool{}
		}
		f.ids[e.taskID] = true
	}
	f.tasks = append(f.tasks, e)
	return &asynq.TaskInfo{ID: e.taskID, Queue: e.queue}, nil
}

// fakeOutbox applies a dispatch batch only when commitErr is nil, the way a
// rolled back transaction leaves rows untouched.
type fakeOutbox struct {
	rows      []outbox.Record
	lastError map[uuid.UUID]string
	succeeded []uuid.UUID
	failed    map[uuid.UUID]string
	commitErr error
}

func newFakeOutbox(records ...outbox.Record) *fakeOutbox {
	for i := range records {
		records[i].Status = outbox.StatusPending
	}
	return &fakeOutbox{rows: records, lastError: map[uuid.UUID]string{}, failed: map[uuid.UUID]string{}}
}

func (f *fakeOutbox) DispatchPending(ctx context.Context, limit int, enqueue func(context.Context, outbox.Record) error) (outbox.DispatchResult, error) {
	var (
		res     outbox.DispatchResult
		applied = map[int]error{}
	)
	for i, rec := range f.rows {
		if rec.Status != outbox.StatusPending || len(applied) == limit {
			continue
		}
		err := enqueue(ctx, rec)
		applied[i] = err
		if err != nil {
			res.Failed++
		} else {
			res.Enqueued++
		}
	}
	if f.commitErr != nil {
		return outbox.DispatchResult{}, f.commitErr
	}
	for i, err := range applied {
		f.rows[i].Attempts++
		if err != nil {
			f.lastError[f.rows[i].ID] = err.Error()
			continue
		}
		f.rows[i].Status = outbox.StatusEnqueued
	}
	return res, nil
}

func (f *fakeOutbox) status(id uuid.UUID) outbox.Status {
	for _, rec := range f.rows {
		if rec.ID == id {
			return rec.Status
		}
	}
	return ""
}

func (f *fakeOutbox) MarkSucceeded(_ context.Context, id uuid.UUID) error {
	f.succeeded = append(f.succeeded, id)
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id uuid.UUID, lastError string) error {
	f.failed[id] = lastError
	return nil
}

type fakeChecks struct {
	fallback     escalation.Result
	reactivation escalation.Result
	err          error
	calls        []string
}

func (f *fakeChecks) RunFallback(_ context.Context, _ escalation.CheckPayload) (escalation.Result, error) {
	f.calls = append(f.calls, escalation.KindFallback)
	return f.fallback, f.err
}

func (f *fakeChecks) RunReactivation(_ context.Context, _ escalation.CheckPayload) (escalation.Result, error) {
	f.calls = append(f.calls, escalation.KindReactivate)
	return f.reactivation, f.err
}

type fakeReplayer struct {
	events []intake.Event
	err    error
}

func (f *fakeReplayer) Replay(_ context.Context, ev intake.Event) (intake.Outcome, error) {
	f.events = append(f.events, ev)
	return intake.Outcome{Status: intake.StatusProcessed}, f.err
}

var episode = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func checkPayload() escalation.CheckPayload {
	return escalation.CheckPayload{OrganizationID: "org-1", LeadID: "lead-1", EpisodeAt: episode}
}

func outboxRecord(t *testing.T, kind string, runAt time.Time, payload any) outbox.Record {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return outbox.Record{
		ID:             uuid.New(),
		OrganizationID: "org-1",
		LeadID:         "lead-1",
		Kind:           kind,
		Payload:        raw,
		RunAt:          runAt,
		Status:         outbox.StatusEnqueued,
	}
}

func TestDispatcherEnqueuesPlannedChecks(t *testing.T) {
	fallback := outboxRecord(t, escalation.KindFallback, episode.Add(3*time.Hour), checkPayload())
	reactivate := outboxRecord(t, escalation.KindReactivate, episode.Add(24*time.Hour), checkPayload())
	repo := newFakeOutbox(fallback, reactivate)
	enq := &fakeEnqueuer{}

	d := NewDispatcher(repo, NewClientWithEnqueuer(enq, "engagement"), logger.Nop(), nil)
	n, err := d.dispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, enq.tasks, 2)
	first := enq.tasks[0]
	assert.Equal(t, escalation.KindFallback, first.task.Type())
	assert.Equal(t, fallback.ID.String(), first.taskID)
	assert.Equal(t, "engagement", first.queue)
	assert.True(t, first.processAt.Equal(episode.Add(3*time.Hour)))

	payload, err := ParseEscalationCheckPayload(first.task)
	require.NoError(t, err)
	assert.Equal(t, fallback.ID.String(), payload.OutboxID)
	assert.True(t, payload.EpisodeAt.Equal(episode))

	assert.Equal(t, reactivate.ID.String(), enq.tasks[1].taskID)
	assert.Equal(t, outbox.StatusEnqueued, repo.status(fallback.ID))
	assert.Equal(t, outbox.StatusEnqueued, repo.status(reactivate.ID))
	assert.Empty(t, repo.lastError)
}

func TestDispatcherKeepsUndecodableRowsPending(t *testing.T) {
	bad := outboxRecord(t, escalation.KindFallback, episode, "not an object")
	repo := newFakeOutbox(bad)
	enq := &fakeEnqueuer{}

	d := NewDispatcher(repo, NewClientWithEnqueuer(enq, ""), logger.Nop(), nil)
	n, err := d.dispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, enq.tasks)
	assert.Equal(t, outbox.StatusPending, repo.status(bad.ID))
	assert.Contains(t, repo.lastError[bad.ID], "decode outbox payload")
}

func TestDispatcherTreatsTaskIDConflictAsEnqueued(t *testing.T) {
	rec := outboxRecord(t, escalation.KindFallback, episode, checkPayload())
	repo := newFakeOutbox(rec)
	enq := &fakeEnqueuer{err: asynq.ErrTaskIDConflict}

	d := NewDispatcher(repo, NewClientWithEnqueuer(enq, ""), logger.Nop(), nil)
	n, err := d.dispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, outbox.StatusEnqueued, repo.status(rec.ID))
}

func TestDispatcherKeepsRowPendingOnEnqueueFailure(t *testing.T) {
	rec := outboxRecord(t, escalation.KindFallback, episode, checkPayload())
	repo := newFakeOutbox(rec)
	enq := &fakeEnqueuer{err: errors.New("redis down")}

	d := NewDispatcher(repo, NewClientWithEnqueuer(enq, ""), logger.Nop(), nil)
	n, err := d.dispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, outbox.StatusPending, repo.status(rec.ID))
	assert.Equal(t, "redis down", repo.lastError[rec.ID])

	enq.err = nil
	n, err = d.dispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, outbox.StatusEnqueued, repo.status(rec.ID))
}

func TestDispatcherRecoversRowsWhenBatchIsNotCommitted(t *testing.T) {
	rec := outboxRecord(t, escalation.KindFallback, episode.Add(3*time.Hour), checkPayload())
	repo := newFakeOutbox(rec)
	enq := &fakeEnqueuer{}
	d := NewDispatcher(repo, NewClientWithEnqueuer(enq, ""), logger.Nop(), nil)

	repo.commitErr = errors.New("connection reset")
	_, err := d.dispatchOnce(context.Background())
	require.Error(t, err)
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, outbox.StatusPending, repo.status(rec.ID))

	repo.commitErr = nil
	n, err := d.dispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, outbox.StatusEnqueued, repo.status(rec.ID))
	assert.Len(t, enq.tasks, 1, "the task id suppresses the second enqueue")

	n, err = d.dispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func checkTask(t *testing.T, kind string, outboxID uuid.UUID) *asynq.Task {
	t.Helper()
	task, err := NewEscalationCheckTask(kind, EscalationCheckPayload{OutboxID: outboxID.String(), CheckPayload: checkPayload()})
	require.NoError(t, err)
	return task
}

func TestWorkerMarksCompletedChecksSucceeded(t *testing.T) {
	checks := &fakeChecks{
		fallback:     escalation.Result{Outcome: escalation.OutcomeSent},
		reactivation: escalation.Result{Outcome: escalation.OutcomeHumanReplied},
	}
	repo := newFakeOutbox()
	w := newWorker(checks, &fakeReplayer{}, repo, NewClientWithEnqueuer(&fakeEnqueuer{}, ""), logger.Nop())

	first, second := uuid.New(), uuid.New()
	require.NoError(t, w.handleEscalationCheck(context.Background(), checkTask(t, TaskEscalationFallback, first)))
	require.NoError(t, w.handleEscalationCheck(context.Background(), checkTask(t, TaskEscalationReactivate, second)))

	assert.Equal(t, []string{escalation.KindFallback, escalation.KindReactivate}, checks.calls)
	assert.Equal(t, []uuid.UUID{first, second}, repo.succeeded)
}

func TestWorkerReschedulesDeferredCheck(t *testing.T) {
	retryAt := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	checks := &fakeChecks{fallback: escalation.Result{Outcome: escalation.OutcomeDeferred, RetryAt: retryAt}}
	repo := newFakeOutbox()
	enq := &fakeEnqueuer{}
	w := newWorker(checks, &fakeReplayer{}, repo, NewClientWithEnqueuer(enq, ""), logger.Nop())

	id := uuid.New()
	require.NoError(t, w.handleEscalationCheck(context.Background(), checkTask(t, TaskEscalationFallback, id)))

	assert.Empty(t, repo.succeeded)
	require.Len(t, enq.tasks, 1)
	got := enq.tasks[0]
	assert.Equal(t, TaskEscalationFallback, got.task.Type())
	assert.True(t, got.processAt.Equal(retryAt))
	assert.Equal(t, deferredCheckID(TaskEscalationFallback, checkPayload(), retryAt), got.taskID)
	assert.NotEqual(t, id.String(), got.taskID)

	payload, err := ParseEscalationCheckPayload(got.task)
	require.NoError(t, err)
	assert.Equal(t, id.String(), payload.OutboxID)
}

func TestWorkerReturnsCheckErrorsForRetry(t *testing.T) {
	checks := &fakeChecks{err: errors.New("postgres down")}
	repo := newFakeOutbox()
	w := newWorker(checks, &fakeReplayer{}, repo, NewClientWithEnqueuer(&fakeEnqueuer{}, ""), logger.Nop())

	err := w.handleEscalationCheck(context.Background(), checkTask(t, TaskEscalationFallback, uuid.New()))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
	assert.Empty(t, repo.succeeded)
	assert.Empty(t, repo.failed)
}

func TestWorkerSkipsRetryForMalformedPayload(t *testing.T) {
	w := newWorker(&fakeChecks{}, &fakeReplayer{}, newFakeOutbox(), NewClientWithEnqueuer(&fakeEnqueuer{}, ""), logger.Nop())

	err := w.handleEscalationCheck(context.Background(), asynq.NewTask(TaskEscalationFallback, []byte(`{"leadId":"lead-1"}`)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestDeferredEventRoundTrip(t *testing.T) {
	enq := &fakeEnqueuer{}
	client := NewClientWithEnqueuer(enq, "")
	ev := intake.Event{
		EntityID:       "msg-1",
		EventType:      intake.EventInboundMessage,
		OrganizationID: "org-1",
		LeadID:         "lead-1",
		Payload:        json.RawMessage(`{"text":"hi","channel":"sms"}`),
	}
	runAt := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)

	require.NoError(t, client.ScheduleDeferredEvent(context.Background(), ev, runAt))
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskDeferredEvent, enq.tasks[0].task.Type())
	assert.Equal(t, "deferred:inbound_message_received:msg-1:1772524800", enq.tasks[0].taskID)
	assert.Equal(t, "default", enq.tasks[0].queue)

	replayer := &fakeReplayer{}
	w := newWorker(&fakeChecks{}, replayer, newFakeOutbox(), client, logger.Nop())
	require.NoError(t, w.handleDeferredEvent(context.Background(), enq.tasks[0].task))
	require.Len(t, replayer.events, 1)
	assert.Equal(t, ev.EntityID, replayer.events[0].EntityID)
	assert.JSONEq(t, string(ev.Payload), string(replayer.events[0].Payload))
}
