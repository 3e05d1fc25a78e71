// Package email delivers plain-text email over SMTP.
package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"engagement_backend/platform/config"

	gomail "github.com/wneessen/go-mail"
)

// ErrNotConfigured is returned when SMTP_HOST is empty.
var ErrNotConfigured = errors.New("smtp not configured")

// Message is one outgoing email. FromName overrides the configured display
// name while the envelope sender stays the configured address.
type Message struct {
	FromName    string
	To          string
	ReplyTo     string
	ReplyToName string
	Subject     string
	Text        string
	MessageID   string
}

// SMTPSender delivers Messages through a direct SMTP connection via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
	timeout   time.Duration
}

// NewSMTPSender returns nil when SMTP is not configured; a nil sender reports
// ErrNotConfigured from Send.
func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	if !cfg.IsSMTPEnabled() {
		return nil
	}
	return &SMTPSender{
		host:      cfg.GetSMTPHost(),
		port:      cfg.GetSMTPPort(),
		username:  cfg.GetSMTPUsername(),
		password:  cfg.GetSMTPPassword(),
		fromName:  cfg.GetSMTPFromName(),
		fromEmail: cfg.GetSMTPFromAddress(),
		timeout:   15 * time.Second,
	}
}

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	if s == nil {
		return ErrNotConfigured
	}

	msg, err := s.build(m)
	if err != nil {
		return err
	}

	opts := []gomail.Option{
		gomail.WithPort(s.port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(s.timeout),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	}
	if s.username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.username),
			gomail.WithPassword(s.password),
		)
	}

	client, err := gomail.NewClient(s.host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTPSender) build(m Message) (*gomail.Msg, error) {
	fromName := m.FromName
	if fromName == "" {
		fromName = s.fromName
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(fromName, s.fromEmail); err != nil {
		return nil, fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return nil, fmt.Errorf("smtp to: %w", err)
	}
	if m.ReplyTo != "" {
		if err := msg.ReplyToFormat(m.ReplyToName, m.ReplyTo); err != nil {
			return nil, fmt.Errorf("smtp reply-to: %w", err)
		}
	}
	if m.MessageID != "" {
		msg.SetMessageIDWithValue(m.MessageID)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, m.Text)
	return msg, nil
}
