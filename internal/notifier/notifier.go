// Package notifier alerts the assigned human the moment a conversation is
// handed off. Delivery is best effort: each channel is attempted
// independently and partial success is reported, never raised.
package notifier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"engagement_backend/internal/conversations"
	"engagement_backend/internal/email"
	"engagement_backend/platform/logger"
	"engagement_backend/platform/metrics"

	"golang.org/x/sync/errgroup"
)

const (
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"

	channelTimeout = 15 * time.Second
)

// DirectMessenger is satisfied by *whatsapp.Client.
type DirectMessenger interface {
	SendMessage(ctx context.Context, phoneNumber, message string) error
}

// Mailer is satisfied by *email.SMTPSender.
type Mailer interface {
	Send(ctx context.Context, m email.Message) error
}

// Request describes one handoff alert.
type Request struct {
	Key           conversations.Key
	HandoffReason string
	LastMessage   string
	Lead          conversations.Contact
}

// Result lists channels by outcome. Failed maps channel to a short reason.
type Result struct {
	Succeeded []string
	Failed    map[string]string
}

// AnySucceeded reports whether at least one channel delivered.
func (r Result) AnySucceeded() bool { return len(r.Succeeded) > 0 }

type Notifier struct {
	dm      DirectMessenger
	mailer  Mailer
	log     *logger.Logger
	metrics *metrics.Metrics
}

func New(dm DirectMessenger, mailer Mailer, log *logger.Logger, m *metrics.Metrics) *Notifier {
	return &Notifier{dm: dm, mailer: mailer, log: log, metrics: m}
}

// Notify fires both channels concurrently and waits for both.
func (n *Notifier) Notify(ctx context.Context, req Request) Result {
	var (
		mu  sync.Mutex
		res = Result{Failed: map[string]string{}}
	)
	record := func(channel string, err error) {
		mu.Lock()
		defer mu.Unlock()
		n.metrics.ObserveNotifierChannel(channel, err == nil)
		if err != nil {
			res.Failed[channel] = err.Error()
			return
		}
		res.Succeeded = append(res.Succeeded, channel)
	}

	var g errgroup.Group
	g.Go(func() error {
		record(ChannelWhatsApp, n.sendDirectMessage(ctx, req))
		return nil
	})
	g.Go(func() error {
		record(ChannelEmail, n.sendEmail(ctx, req))
		return nil
	})
	_ = g.Wait()

	sort.Strings(res.Succeeded)
	log := n.log.WithLead(req.Key.LeadID, req.Key.OrganizationID)
	if len(res.Failed) > 0 {
		log.Warn("handoff notification partially failed", "succeeded", res.Succeeded, "failed", res.Failed)
	} else {
		log.Info("handoff notification sent", "channels", res.Succeeded)
	}
	return res
}

func (n *Notifier) sendDirectMessage(ctx context.Context, req Request) error {
	if n.dm == nil {
		return fmt.Errorf("direct messages not configured")
	}
	if req.Lead.AssigneePhone == "" {
		return fmt.Errorf("assignee has no phone number")
	}
	ctx, cancel := context.WithTimeout(ctx, channelTimeout)
	defer cancel()
	return n.dm.SendMessage(ctx, req.Lead.AssigneePhone, directMessageBody(req))
}

// sendEmail frames the alert as if it came from the lead so replying goes
// straight to them.
func (n *Notifier) sendEmail(ctx context.Context, req Request) error {
	if n.mailer == nil {
		return fmt.Errorf("email not configured")
	}
	if req.Lead.AssigneeEmail == "" {
		return fmt.Errorf("assignee has no email address")
	}
	ctx, cancel := context.WithTimeout(ctx, channelTimeout)
	defer cancel()

	leadName := req.Lead.DisplayName()
	return n.mailer.Send(ctx, email.Message{
		FromName:    leadName,
		To:          req.Lead.AssigneeEmail,
		ReplyTo:     req.Lead.Email,
		ReplyToName: leadName,
		Subject:     fmt.Sprintf("%s is waiting for you", leadName),
		Text:        emailBody(req),
	})
}

func directMessageBody(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Lead %s needs you now", req.Lead.DisplayName())
	if req.HandoffReason != "" {
		fmt.Fprintf(&b, " (%s)", req.HandoffReason)
	}
	b.WriteString(".")
	if req.LastMessage != "" {
		fmt.Fprintf(&b, "\nLast message: %q", req.LastMessage)
	}
	if req.Lead.Phone != "" {
		fmt.Fprintf(&b, "\nPhone: %s", req.Lead.Phone)
	}
	return b.String()
}

func emailBody(req Request) string {
	var b strings.Builder
	if req.LastMessage != "" {
		b.WriteString(req.LastMessage)
		b.WriteString("\n\n")
	}
	b.WriteString("--\n")
	if req.HandoffReason != "" {
		fmt.Fprintf(&b, "Handed off because: %s\n", req.HandoffReason)
	}
	if req.Lead.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", req.Lead.Phone)
	}
	b.WriteString("Automated replies are paused until you respond.\n")
	return b.String()
}
