package router

import (
	"context"
	"net/http"
	"time"

	apphttp "engagement_backend/internal/http"
	"engagement_backend/platform/httpkit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const (
	webhookRatePerSecond = 50
	webhookBurst         = 100
	readyTimeout         = 2 * time.Second
)

func New(app *apphttp.App) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.SecurityHeaders())
	engine.Use(httpkit.RequestLogger(app.Logger))

	if origins := app.Config.GetCORSOrigins(); len(origins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	engine.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/api/health/ready", readiness(app.Health))

	if app.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := engine.Group("/api/v1")
	ops := v1.Group("/ops")
	ops.Use(httpkit.OpsAuthRequired(app.Config))

	routerCtx := &apphttp.RouterContext{
		Engine:             engine,
		V1:                 v1,
		Ops:                ops,
		Config:             app.Config,
		WebhookRateLimiter: httpkit.NewIPRateLimiter(rate.Limit(webhookRatePerSecond), webhookBurst, app.Logger),
	}

	for _, module := range app.Modules {
		module.RegisterRoutes(routerCtx)
		app.Logger.Debug("registered module routes", "module", module.Name())
	}

	return engine
}

func readiness(checks map[string]apphttp.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()

		failed := map[string]string{}
		for name, check := range checks {
			if err := check.Ping(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
