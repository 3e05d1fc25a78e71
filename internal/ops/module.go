package ops

import (
	apphttp "engagement_backend/internal/http"
	"engagement_backend/platform/logger"
)

// Module mounts the operational endpoints on the ops group.
type Module struct {
	handler *Handler
}

func NewModule(d DedupeInspector, convs ConversationReader, ob OutboxCounter, log *logger.Logger) *Module {
	return &Module{handler: NewHandler(d, convs, ob, log)}
}

func (m *Module) Name() string {
	return "ops"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Ops.GET("/dedupe", m.handler.ListDedupe)
	ctx.Ops.GET("/dedupe/:eventType/:entityId", m.handler.GetDedupe)
	ctx.Ops.DELETE("/dedupe", m.handler.ClearDedupe)
	ctx.Ops.GET("/conversations", m.handler.ListConversations)
	ctx.Ops.GET("/conversations/:organizationId/:leadId", m.handler.GetConversation)
	ctx.Ops.GET("/outbox", m.handler.OutboxStatus)
}
