package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveIntake("lead_created", "processed")
		m.ObserveComplianceBlock("quiet_hours")
		m.ObserveHandoff()
		m.ObserveEscalationCheck("fallback", "sent")
		m.ObserveNotifierChannel("email", false)
		m.ObserveDecision(time.Second)
		m.ObserveOutboxDispatch("enqueued")
		m.ObserveDedupeFailure()
	})
}

func TestCountersRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveIntake("inbound_message_received", "duplicate")
	m.ObserveIntake("inbound_message_received", "duplicate")
	m.ObserveHandoff()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IntakeEvents.WithLabelValues("inbound_message_received", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Handoffs))
}
