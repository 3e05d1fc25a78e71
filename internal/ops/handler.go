// Package ops exposes read-only status endpoints for support and debugging,
// plus a guarded clear of the dedupe store.
package ops

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"engagement_backend/internal/conversations"
	"engagement_backend/internal/dedupe"
	"engagement_backend/internal/outbox"
	"engagement_backend/platform/apperr"
	"engagement_backend/platform/httpkit"
	"engagement_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
	confirmClear     = "clear-all"
)

// DedupeInspector is satisfied by *dedupe.Deduplicator.
type DedupeInspector interface {
	IsRecentlyProcessed(ctx context.Context, entityID, eventType string) (bool, error)
	RemainingTTL(ctx context.Context, entityID, eventType string) (time.Duration, error)
	EnumerateActive(ctx context.Context, limit int) ([]dedupe.Record, error)
	ClearAll(ctx context.Context) (int, error)
}

// ConversationReader is the read side of the conversation store.
type ConversationReader interface {
	Get(ctx context.Context, key conversations.Key) (conversations.Conversation, error)
	ListByState(ctx context.Context, state conversations.State, limit int) ([]conversations.Conversation, error)
}

// OutboxCounter is satisfied by *outbox.Repository.
type OutboxCounter interface {
	CountByStatus(ctx context.Context) (map[outbox.Status]int, error)
}

type Handler struct {
	dedupe        DedupeInspector
	conversations ConversationReader
	outbox        OutboxCounter
	log           *logger.Logger
}

func NewHandler(d DedupeInspector, convs ConversationReader, ob OutboxCounter, log *logger.Logger) *Handler {
	return &Handler{dedupe: d, conversations: convs, outbox: ob, log: log}
}

type dedupeRecordResponse struct {
	EntityID    string     `json:"entityId"`
	EventType   string     `json:"eventType"`
	FirstSeenAt *time.Time `json:"firstSeenAt,omitempty"`
	TTLSeconds  int64      `json:"ttlSeconds"`
}

type dedupeStatusResponse struct {
	EntityID   string `json:"entityId"`
	EventType  string `json:"eventType"`
	Processed  bool   `json:"processed"`
	TTLSeconds int64  `json:"ttlSeconds"`
}

type conversationResponse struct {
	OrganizationID        string              `json:"organizationId"`
	LeadID                string              `json:"leadId"`
	State                 conversations.State `json:"state"`
	LeadScore             int                 `json:"leadScore"`
	QualificationData     map[string]any      `json:"qualificationData"`
	HandoffReason         string              `json:"handoffReason,omitempty"`
	LastAgentMessageAt    *time.Time          `json:"lastAgentMessageAt,omitempty"`
	LastLeadResponseAt    *time.Time          `json:"lastLeadResponseAt,omitempty"`
	HandoffFallbackSentAt *time.Time          `json:"handoffFallbackSentAt,omitempty"`
	HandoffReactivatedAt  *time.Time          `json:"handoffReactivatedAt,omitempty"`
	Version               int64               `json:"version"`
	UpdatedAt             time.Time           `json:"updatedAt"`
}

// ListDedupe returns active dedupe keys.
// GET /api/v1/ops/dedupe?limit=100
func (h *Handler) ListDedupe(c *gin.Context) {
	records, err := h.dedupe.EnumerateActive(c.Request.Context(), parseLimit(c))
	if err != nil {
		httpkit.HandleError(c, apperr.Unavailable("dedupe store unavailable"))
		return
	}

	out := make([]dedupeRecordResponse, 0, len(records))
	for _, r := range records {
		item := dedupeRecordResponse{EntityID: r.EntityID, EventType: r.EventType, TTLSeconds: int64(r.TTL.Seconds())}
		if !r.FirstSeenAt.IsZero() {
			seen := r.FirstSeenAt
			item.FirstSeenAt = &seen
		}
		out = append(out, item)
	}
	httpkit.OK(c, gin.H{"items": out, "count": len(out)})
}

// GetDedupe reports whether one (entity, event type) pair is marked.
// GET /api/v1/ops/dedupe/:eventType/:entityId
func (h *Handler) GetDedupe(c *gin.Context) {
	eventType, entityID := c.Param("eventType"), c.Param("entityId")
	ctx := c.Request.Context()

	processed, err := h.dedupe.IsRecentlyProcessed(ctx, entityID, eventType)
	if err != nil {
		httpkit.HandleError(c, apperr.Unavailable("dedupe store unavailable"))
		return
	}
	ttl, err := h.dedupe.RemainingTTL(ctx, entityID, eventType)
	if err != nil {
		httpkit.HandleError(c, apperr.Unavailable("dedupe store unavailable"))
		return
	}

	httpkit.OK(c, dedupeStatusResponse{
		EntityID:   entityID,
		EventType:  eventType,
		Processed:  processed,
		TTLSeconds: int64(ttl.Seconds()),
	})
}

// ClearDedupe deletes every dedupe key. Requires ?confirm=clear-all.
// DELETE /api/v1/ops/dedupe
func (h *Handler) ClearDedupe(c *gin.Context) {
	if c.Query("confirm") != confirmClear {
		httpkit.HandleError(c, apperr.BadRequest("confirm=clear-all is required"))
		return
	}

	cleared, err := h.dedupe.ClearAll(c.Request.Context())
	if err != nil {
		httpkit.HandleError(c, apperr.Unavailable("dedupe store unavailable"))
		return
	}

	operator, _ := c.Get(httpkit.ContextOperatorKey)
	h.log.Warn("dedupe store cleared", "operator", operator, "cleared", cleared)
	httpkit.OK(c, gin.H{"cleared": cleared})
}

// GetConversation returns one conversation.
// GET /api/v1/ops/conversations/:organizationId/:leadId
func (h *Handler) GetConversation(c *gin.Context) {
	key := conversations.Key{OrganizationID: c.Param("organizationId"), LeadID: c.Param("leadId")}

	conv, err := h.conversations.Get(c.Request.Context(), key)
	if errors.Is(err, conversations.ErrNotFound) {
		httpkit.HandleError(c, apperr.NotFound("conversation not found"))
		return
	}
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toConversationResponse(conv))
}

// ListConversations lists conversations in one state.
// GET /api/v1/ops/conversations?state=HANDED_OFF&limit=100
func (h *Handler) ListConversations(c *gin.Context) {
	state, ok := conversations.ParseState(c.DefaultQuery("state", string(conversations.StateHandedOff)))
	if !ok {
		httpkit.HandleError(c, apperr.Validation("unknown state"))
		return
	}

	convs, err := h.conversations.ListByState(c.Request.Context(), state, parseLimit(c))
	if httpkit.HandleError(c, err) {
		return
	}

	out := make([]conversationResponse, 0, len(convs))
	for _, conv := range convs {
		out = append(out, toConversationResponse(conv))
	}
	httpkit.OK(c, gin.H{"items": out, "count": len(out)})
}

// OutboxStatus returns escalation outbox row counts by status.
// GET /api/v1/ops/outbox
func (h *Handler) OutboxStatus(c *gin.Context) {
	counts, err := h.outbox.CountByStatus(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"counts": counts})
}

func toConversationResponse(c conversations.Conversation) conversationResponse {
	return conversationResponse{
		OrganizationID:        c.OrganizationID,
		LeadID:                c.LeadID,
		State:                 c.State,
		LeadScore:             c.LeadScore,
		QualificationData:     c.QualificationData,
		HandoffReason:         c.HandoffReason,
		LastAgentMessageAt:    c.LastAgentMessageAt,
		LastLeadResponseAt:    c.LastLeadResponseAt,
		HandoffFallbackSentAt: c.HandoffFallbackSentAt,
		HandoffReactivatedAt:  c.HandoffReactivatedAt,
		Version:               c.Version,
		UpdatedAt:             c.UpdatedAt,
	}
}

func parseLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit < 1 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}
