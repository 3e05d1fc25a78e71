package outbound

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"engagement_backend/internal/conversations"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type smsConfig struct{ url string }

func (c smsConfig) GetSMSGatewayURL() string { return c.url }
func (c smsConfig) GetSMSGatewayKey() string { return "k3y" }
func (c smsConfig) GetSMSFromNumber() string { return "+15550001111" }

func TestSMSSenderSend(t *testing.T) {
	var got smsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "Bearer k3y", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(smsResponse{ID: "SM123"})
	}))
	defer srv.Close()

	s := NewSMSSender(smsConfig{url: srv.URL}, "US")
	id, err := s.Send(context.Background(), Envelope{
		Contact: conversations.Contact{Phone: "(212) 736-5000"},
		Text:    "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "SM123", id)
	assert.Equal(t, "+12127365000", got.To)
	assert.Equal(t, "+15550001111", got.From)
}

func TestSMSSenderRejectsInvalidNumber(t *testing.T) {
	s := NewSMSSender(smsConfig{url: "http://127.0.0.1:1"}, "US")
	_, err := s.Send(context.Background(), Envelope{Contact: conversations.Contact{Phone: "n/a"}, Text: "hello"})
	assert.Error(t, err)
}
