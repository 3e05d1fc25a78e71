package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"engagement_backend/platform/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServerExposesSchedulerMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	m.ObserveOutboxDispatch("enqueued")
	m.ObserveEscalationCheck("escalation.fallback", "sent")

	srv := newMetricsServer(":0", registry)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `engagement_outbox_dispatched_total{result="enqueued"} 1`)
	assert.Contains(t, body, "engagement_escalation_checks_total")
}

func TestMetricsServerHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv := newMetricsServer(":0", prometheus.NewRegistry())

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
