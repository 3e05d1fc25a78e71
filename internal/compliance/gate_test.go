package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"engagement_backend/platform/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	optedOut map[string]bool
	paused   map[string]bool
	err      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{optedOut: map[string]bool{}, paused: map[string]bool{}}
}

func (f *fakeStore) IsOptedOut(_ context.Context, orgID, leadID string) (bool, error) {
	return f.optedOut[orgID+"/"+leadID], f.err
}

func (f *fakeStore) RecordOptOut(_ context.Context, orgID, leadID, _ string) error {
	f.optedOut[orgID+"/"+leadID] = true
	return f.err
}

func (f *fakeStore) IsOutboundPaused(_ context.Context, orgID string) (bool, error) {
	return f.paused[orgID], f.err
}

type testConfig struct{ tz string }

func (c testConfig) GetQuietHoursStart() string    { return "21:00" }
func (c testConfig) GetQuietHoursEnd() string      { return "08:00" }
func (c testConfig) GetDefaultTimezone() string    { return c.tz }
func (c testConfig) GetDefaultPhoneRegion() string { return "US" }

func newGate(t *testing.T, store Store, at time.Time) *Gate {
	t.Helper()
	g, err := NewGate(store, testConfig{tz: "America/Los_Angeles"}, logger.Nop(), nil)
	require.NoError(t, err)
	return g.WithClock(func() time.Time { return at })
}

func TestCanSendAllowsOutsideQuietHours(t *testing.T) {
	at := time.Date(2026, 1, 15, 20, 0, 0, 0, time.UTC) // 12:00 in Los Angeles
	g := newGate(t, newFakeStore(), at)

	decision, err := g.CanSend(context.Background(), "L1", "org", "", "America/Los_Angeles")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reason)
}

func TestCanSendQuietHoursUseRecipientTimezone(t *testing.T) {
	at := time.Date(2026, 1, 15, 3, 0, 0, 0, time.UTC) // 19:00 LA, 22:00 NY
	store := newFakeStore()
	store.paused["org"] = true
	g := newGate(t, store, at)

	decision, err := g.CanSend(context.Background(), "L1", "org", "", "America/New_York")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonQuietHours, decision.Reason, "quiet hours win over the organization switch")

	ny, _ := time.LoadLocation("America/New_York")
	assert.True(t, decision.RetryAt.Equal(time.Date(2026, 1, 15, 8, 0, 0, 0, ny)))
}

func TestCanSendFallsBackToPhoneTimezone(t *testing.T) {
	at := time.Date(2026, 1, 15, 3, 0, 0, 0, time.UTC) // 19:00 LA, 22:00 NY
	g := newGate(t, newFakeStore(), at)

	decision, err := g.CanSend(context.Background(), "L1", "org", "+12127365000", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonQuietHours, decision.Reason)

	decision, err = g.CanSend(context.Background(), "L1", "org", "", "")
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "default zone is Los Angeles where it is 19:00")
}

func TestCanSendEvaluationOrder(t *testing.T) {
	at := time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC) // 22:00 LA
	store := newFakeStore()
	store.optedOut["org/L1"] = true
	store.paused["org"] = true
	g := newGate(t, store, at)

	decision, err := g.CanSend(context.Background(), "L1", "org", "", "America/Los_Angeles")
	require.NoError(t, err)
	assert.Equal(t, ReasonOptedOut, decision.Reason)
	assert.True(t, decision.RetryAt.IsZero())

	g = g.WithClock(func() time.Time { return at.Add(12 * time.Hour) })
	decision, err = g.CanSend(context.Background(), "L2", "org", "", "America/Los_Angeles")
	require.NoError(t, err)
	assert.Equal(t, ReasonOrganizationPaused, decision.Reason)
}

func TestCanSendFailsClosedOnStoreError(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")
	g := newGate(t, store, time.Date(2026, 1, 15, 20, 0, 0, 0, time.UTC))

	decision, err := g.CanSend(context.Background(), "L1", "org", "", "")
	assert.Error(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonStoreUnavailable, decision.Reason)
}

func TestRecordOptOutBlocksLaterSends(t *testing.T) {
	store := newFakeStore()
	g := newGate(t, store, time.Date(2026, 1, 15, 20, 0, 0, 0, time.UTC))
	ctx := context.Background()

	require.NoError(t, g.RecordOptOut(ctx, "org", "L1", "STOP"))
	decision, err := g.CanSend(ctx, "L1", "org", "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonOptedOut, decision.Reason)
}

func TestIsStopKeyword(t *testing.T) {
	for _, text := range []string{"STOP", "stop", " Unsubscribe ", "quit!", "End."} {
		assert.True(t, IsStopKeyword(text), text)
	}
	for _, text := range []string{"please stop calling at night", "", "stopping by tomorrow"} {
		assert.False(t, IsStopKeyword(text), text)
	}
}
