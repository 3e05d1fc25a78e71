package intake

import (
	apphttp "engagement_backend/internal/http"
	"engagement_backend/platform/httpkit"
)

// Module mounts the webhook intake endpoint.
type Module struct {
	handler *Handler
}

func NewModule(svc *Service) *Module {
	return &Module{handler: NewHandler(svc)}
}

func (m *Module) Name() string {
	return "intake"
}

// RegisterRoutes mounts POST /api/v1/webhooks/crm behind the shared secret
// and the webhook rate limiter.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/webhooks")
	group.Use(ctx.WebhookRateLimiter.RateLimit(), httpkit.WebhookSecretRequired(ctx.Config))
	group.POST("/crm", m.handler.HandleEvent)
}
