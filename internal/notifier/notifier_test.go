package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"engagement_backend/internal/conversations"
	"engagement_backend/internal/email"
	"engagement_backend/platform/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDM struct {
	mu    sync.Mutex
	err   error
	sends []string
}

func (f *fakeDM) SendMessage(_ context.Context, phone, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, phone)
	return f.err
}

type fakeMailer struct {
	mu   sync.Mutex
	err  error
	sent []email.Message
}

func (f *fakeMailer) Send(_ context.Context, m email.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return f.err
}

func request() Request {
	return Request{
		Key:           conversations.Key{OrganizationID: "org", LeadID: "L1"},
		HandoffReason: "explicit human request",
		LastMessage:   "I need to talk to someone now",
		Lead: conversations.Contact{
			FirstName:     "Ada",
			LastName:      "Lovelace",
			Email:         "ada@example.com",
			Phone:         "+12127365000",
			AssigneePhone: "+12125551234",
			AssigneeEmail: "grace@example.com",
		},
	}
}

func TestNotifyBothChannels(t *testing.T) {
	dm, mail := &fakeDM{}, &fakeMailer{}
	n := New(dm, mail, logger.Nop(), nil)

	res := n.Notify(context.Background(), request())
	assert.Equal(t, []string{ChannelEmail, ChannelWhatsApp}, res.Succeeded)
	assert.Empty(t, res.Failed)

	require.Len(t, mail.sent, 1)
	msg := mail.sent[0]
	assert.Equal(t, "Ada Lovelace", msg.FromName)
	assert.Equal(t, "ada@example.com", msg.ReplyTo)
	assert.Equal(t, "grace@example.com", msg.To)
	assert.Contains(t, msg.Text, "I need to talk to someone now")
	assert.Equal(t, []string{"+12125551234"}, dm.sends)
}

func TestNotifyReportsPartialSuccess(t *testing.T) {
	dm := &fakeDM{err: errors.New("device offline")}
	mail := &fakeMailer{}
	n := New(dm, mail, logger.Nop(), nil)

	res := n.Notify(context.Background(), request())
	assert.Equal(t, []string{ChannelEmail}, res.Succeeded)
	assert.Equal(t, "device offline", res.Failed[ChannelWhatsApp])
	assert.True(t, res.AnySucceeded())
}

func TestNotifyWithoutAssigneeContact(t *testing.T) {
	n := New(&fakeDM{}, nil, logger.Nop(), nil)
	req := request()
	req.Lead.AssigneePhone = ""

	res := n.Notify(context.Background(), req)
	assert.False(t, res.AnySucceeded())
	assert.Contains(t, res.Failed, ChannelWhatsApp)
	assert.Contains(t, res.Failed, ChannelEmail)
}
