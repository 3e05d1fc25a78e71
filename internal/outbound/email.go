package outbound

import (
	"context"
	"fmt"
	"strings"

	"engagement_backend/internal/email"

	"github.com/google/uuid"
)

// Mailer is satisfied by *email.SMTPSender.
type Mailer interface {
	Send(ctx context.Context, m email.Message) error
}

// EmailSender delivers lead-facing messages by email. The generated
// Message-ID is returned as the external id so CRM echoes can be matched.
type EmailSender struct {
	mailer Mailer
	domain string
}

func NewEmailSender(mailer Mailer, fromAddress string) *EmailSender {
	domain := "engagement.local"
	if at := strings.LastIndex(fromAddress, "@"); at >= 0 && at < len(fromAddress)-1 {
		domain = fromAddress[at+1:]
	}
	return &EmailSender{mailer: mailer, domain: domain}
}

func (s *EmailSender) Channel() Channel { return ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, env Envelope) (string, error) {
	if s == nil || s.mailer == nil {
		return "", ErrChannelUnavailable
	}
	if env.Contact.Email == "" {
		return "", fmt.Errorf("lead has no email address")
	}

	messageID := fmt.Sprintf("%s@%s", uuid.NewString(), s.domain)
	err := s.mailer.Send(ctx, email.Message{
		To:        env.Contact.Email,
		Subject:   env.Subject,
		Text:      env.Text,
		MessageID: messageID,
	})
	if err != nil {
		return "", err
	}
	return messageID, nil
}
