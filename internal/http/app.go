// Package http provides HTTP server infrastructure including module registration.
package http

import (
	"context"

	"engagement_backend/platform/config"
	"engagement_backend/platform/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// RouterConfig combines the config interfaces needed by the HTTP router.
type RouterConfig interface {
	config.HTTPConfig
	config.OpsConfig
}

// HealthChecker exposes minimal functionality for readiness checks.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App holds the fully initialized application dependencies.
// This is populated by main.go (the composition root) and passed to the router.
type App struct {
	Config RouterConfig
	Logger *logger.Logger
	// Health is used for readiness checks; each entry is pinged by /api/health/ready.
	Health map[string]HealthChecker
	// Gatherer backs /metrics.
	Gatherer prometheus.Gatherer
	Modules  []Module
}

// HealthFunc adapts a plain function to HealthChecker.
type HealthFunc func(ctx context.Context) error

func (f HealthFunc) Ping(ctx context.Context) error { return f(ctx) }
