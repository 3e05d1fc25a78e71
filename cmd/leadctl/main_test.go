package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"engagement_backend/internal/conversations"
	"engagement_backend/internal/dedupe"
	"engagement_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(t *testing.T) (*env, *dedupe.Deduplicator) {
	t.Helper()
	color.NoColor = true
	mr := miniredis.RunT(t)

	seed := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = seed.Close() })

	e := &env{
		log:       logger.Nop(),
		dedupeTTL: func() (time.Duration, error) { return time.Hour, nil },
		openRedis: func(context.Context) (redis.UniversalClient, error) {
			return redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil
		},
		openPool: func(context.Context) (*pgxpool.Pool, error) {
			return nil, errors.New("no database in tests")
		},
	}
	return e, dedupe.New(seed, time.Hour, logger.Nop(), nil)
}

func run(t *testing.T, e *env, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(e)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDedupeListAndTTL(t *testing.T) {
	e, d := testEnv(t)
	ctx := context.Background()

	out, err := run(t, e, "dedupe", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no active dedupe marks")

	_, err = d.CheckAndMark(ctx, "msg-1", "inbound_message_received")
	require.NoError(t, err)

	out, err = run(t, e, "dedupe", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "inbound_message_received")
	assert.Contains(t, out, "msg-1")

	out, err = run(t, e, "dedupe", "ttl", "inbound_message_received", "msg-1")
	require.NoError(t, err)
	assert.Contains(t, out, "marked inbound_message_received/msg-1 expires in 1h0m0s")

	out, err = run(t, e, "dedupe", "ttl", "inbound_message_received", "msg-2")
	require.NoError(t, err)
	assert.Contains(t, out, "clear inbound_message_received/msg-2")
}

func TestDedupeClearRequiresConfirmation(t *testing.T) {
	e, d := testEnv(t)
	ctx := context.Background()

	_, err := d.CheckAndMark(ctx, "msg-1", "inbound_message_received")
	require.NoError(t, err)

	_, err = run(t, e, "dedupe", "clear")
	require.Error(t, err)
	marked, err := d.IsRecentlyProcessed(ctx, "msg-1", "inbound_message_received")
	require.NoError(t, err)
	assert.True(t, marked)

	out, err := run(t, e, "dedupe", "clear", "--confirm", confirmClear)
	require.NoError(t, err)
	assert.Contains(t, out, "cleared 1 dedupe marks")
	marked, err = d.IsRecentlyProcessed(ctx, "msg-1", "inbound_message_received")
	require.NoError(t, err)
	assert.False(t, marked)
}

func TestConversationListRejectsUnknownState(t *testing.T) {
	e, _ := testEnv(t)

	_, err := run(t, e, "conversation", "list", "--state", "sleeping")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown state")
}

func TestPrintConversation(t *testing.T) {
	color.NoColor = true
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	conv := conversations.Conversation{
		OrganizationID:     "org-1",
		LeadID:             "lead-1",
		State:              conversations.StateHandedOff,
		LeadScore:          45,
		HandoffReason:      "lead asked for a human",
		LastAgentMessageAt: &at,
		QualificationData:  map[string]any{"timeline": "this month", "budget": "20k"},
		Version:            3,
	}

	var out bytes.Buffer
	printConversation(&out, conv)

	s := out.String()
	assert.Contains(t, s, "org-1/lead-1")
	assert.Contains(t, s, "HANDED_OFF (v3)")
	assert.Contains(t, s, "lead asked for a human")
	assert.Contains(t, s, "last agent:   2026-03-02T15:00:00Z")
	assert.Contains(t, s, "fallback:     -")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("budget")), bytes.Index(out.Bytes(), []byte("timeline")))
}

type fakePauser struct {
	calls map[string]bool
	err   error
}

func (f *fakePauser) SetOutboundPaused(_ context.Context, organizationID string, paused bool) error {
	if f.err != nil {
		return f.err
	}
	if f.calls == nil {
		f.calls = map[string]bool{}
	}
	f.calls[organizationID] = paused
	return nil
}

func TestSetOutbound(t *testing.T) {
	color.NoColor = true
	p := &fakePauser{}
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, setOutbound(ctx, &out, p, "org-1", true))
	assert.Equal(t, "paused outbound sending for org-1\n", out.String())
	assert.True(t, p.calls["org-1"])

	out.Reset()
	require.NoError(t, setOutbound(ctx, &out, p, "org-1", false))
	assert.Equal(t, "resumed outbound sending for org-1\n", out.String())
	assert.False(t, p.calls["org-1"])

	p.err = errors.New("connection refused")
	err := setOutbound(ctx, &out, p, "org-2", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "org-2")
}

func TestOrgPauseValidatesArguments(t *testing.T) {
	e, _ := testEnv(t)

	_, err := run(t, e, "org", "pause")
	require.Error(t, err)

	_, err = run(t, e, "org", "resume", "  ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "organization id is required")

	_, err = run(t, e, "org", "pause", "org-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database in tests")
}
