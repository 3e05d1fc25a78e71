package intake

import (
	"context"
	"errors"
	"net/http"

	"engagement_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

const (
	errInvalidRequest = "invalid request body"
	errUnknownType    = "unknown event type"
	errInvalidEvent   = "invalid event"
)

// EventHandler is satisfied by *Service.
type EventHandler interface {
	Handle(ctx context.Context, ev Event) (Outcome, error)
}

type Handler struct {
	svc EventHandler
}

func NewHandler(svc EventHandler) *Handler {
	return &Handler{svc: svc}
}

// HandleEvent accepts one CRM webhook delivery.
// POST /api/v1/webhooks/crm
func (h *Handler) HandleEvent(c *gin.Context) {
	var ev Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return
	}

	outcome, err := h.svc.Handle(c.Request.Context(), ev)
	switch {
	case errors.Is(err, ErrUnknownEventType):
		httpkit.Error(c, http.StatusBadRequest, errUnknownType, string(ev.EventType))
		return
	case errors.Is(err, ErrInvalidEvent):
		httpkit.Error(c, http.StatusBadRequest, errInvalidEvent, err.Error())
		return
	case httpkit.HandleError(c, err):
		return
	}

	c.JSON(statusCode(outcome.Status), outcome)
}

// statusCode asks the CRM to redeliver only when the store was unavailable
// or processing failed recoverably.
func statusCode(s Status) int {
	if s == StatusUnavailable {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
