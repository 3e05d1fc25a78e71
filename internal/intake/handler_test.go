package intake

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type stubEventHandler struct {
	outcome Outcome
	err     error
}

func (h stubEventHandler) Handle(context.Context, Event) (Outcome, error) {
	return h.outcome, h.err
}

func serve(t *testing.T, svc EventHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.POST("/crm", NewHandler(svc).HandleEvent)

	req := httptest.NewRequest(http.MethodPost, "/crm", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestHandleEventStatusCodes(t *testing.T) {
	body := `{"entityId":"e1","eventType":"inbound_message_received","organizationId":"o","leadId":"l","payload":{"text":"hi"}}`

	cases := map[string]struct {
		svc  stubEventHandler
		body string
		want int
	}{
		"processed":    {stubEventHandler{outcome: Outcome{Status: StatusProcessed}}, body, http.StatusOK},
		"duplicate":    {stubEventHandler{outcome: Outcome{Status: StatusDuplicate}}, body, http.StatusOK},
		"blocked":      {stubEventHandler{outcome: Outcome{Status: StatusBlocked}}, body, http.StatusOK},
		"unavailable":  {stubEventHandler{outcome: Outcome{Status: StatusUnavailable}}, body, http.StatusServiceUnavailable},
		"unknown type": {stubEventHandler{err: ErrUnknownEventType}, body, http.StatusBadRequest},
		"invalid":      {stubEventHandler{err: ErrInvalidEvent}, body, http.StatusBadRequest},
		"bad json":     {stubEventHandler{}, `{`, http.StatusBadRequest},
		"internal":     {stubEventHandler{err: assert.AnError}, body, http.StatusInternalServerError},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := serve(t, tc.svc, tc.body)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
