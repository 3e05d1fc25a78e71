package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"engagement_backend/platform/config"
	"engagement_backend/platform/phone"
)

// SMSSender posts messages to an HTTP SMS gateway.
type SMSSender struct {
	baseURL string
	apiKey  string
	from    string
	region  string
	http    *http.Client
}

type smsRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type smsResponse struct {
	ID string `json:"id"`
}

// NewSMSSender returns nil when SMS_GATEWAY_URL is empty.
func NewSMSSender(cfg config.SMSConfig, region string) *SMSSender {
	if cfg.GetSMSGatewayURL() == "" {
		return nil
	}
	return &SMSSender{
		baseURL: strings.TrimRight(cfg.GetSMSGatewayURL(), "/"),
		apiKey:  cfg.GetSMSGatewayKey(),
		from:    cfg.GetSMSFromNumber(),
		region:  region,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *SMSSender) Channel() Channel { return ChannelSMS }

func (s *SMSSender) Send(ctx context.Context, env Envelope) (string, error) {
	if s == nil {
		return "", ErrChannelUnavailable
	}
	to := phone.NormalizeE164(env.Contact.Phone, s.region)
	if !strings.HasPrefix(to, "+") {
		return "", fmt.Errorf("sms recipient %q is not a valid phone number", env.Contact.Phone)
	}

	body, err := json.Marshal(smsRequest{From: s.from, To: to, Text: env.Text})
	if err != nil {
		return "", fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("sms request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out smsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("decode sms response: %w", err)
	}
	return out.ID, nil
}
