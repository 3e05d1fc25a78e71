// Package metrics provides Prometheus collectors for the engagement core.
// This is part of the platform layer and contains no business logic.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector the engagement processes export.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	IntakeEvents        *prometheus.CounterVec
	ComplianceBlocks    *prometheus.CounterVec
	Handoffs            prometheus.Counter
	EscalationChecks    *prometheus.CounterVec
	NotifierChannels    *prometheus.CounterVec
	DecisionDuration    prometheus.Histogram
	OutboxDispatched    *prometheus.CounterVec
	DedupeStoreFailures prometheus.Counter
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IntakeEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_intake_events_total",
			Help: "Inbound webhook events by type and outcome",
		}, []string{"event_type", "status"}),
		ComplianceBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_compliance_blocks_total",
			Help: "Outbound sends blocked by the compliance gate, by reason",
		}, []string{"reason"}),
		Handoffs: factory.NewCounter(prometheus.CounterOpts{
			Name: "engagement_handoffs_total",
			Help: "Conversations transitioned into HANDED_OFF",
		}),
		EscalationChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_escalation_checks_total",
			Help: "Fallback and reactivation check executions by outcome",
		}, []string{"kind", "outcome"}),
		NotifierChannels: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_notifier_channels_total",
			Help: "Agent notification channel attempts by channel and result",
		}, []string{"channel", "result"}),
		DecisionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "engagement_decision_duration_seconds",
			Help:    "Latency of the external decision function",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),
		OutboxDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_outbox_dispatched_total",
			Help: "Escalation outbox rows handed to the task queue by result",
		}, []string{"result"}),
		DedupeStoreFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "engagement_dedupe_store_failures_total",
			Help: "Deduplicator calls that failed closed because Redis was unreachable",
		}),
	}
}

func (m *Metrics) ObserveIntake(eventType, status string) {
	if m == nil {
		return
	}
	m.IntakeEvents.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) ObserveComplianceBlock(reason string) {
	if m == nil {
		return
	}
	m.ComplianceBlocks.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveHandoff() {
	if m == nil {
		return
	}
	m.Handoffs.Inc()
}

func (m *Metrics) ObserveEscalationCheck(kind, outcome string) {
	if m == nil {
		return
	}
	m.EscalationChecks.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveNotifierChannel(channel string, ok bool) {
	if m == nil {
		return
	}
	result := "succeeded"
	if !ok {
		result = "failed"
	}
	m.NotifierChannels.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) ObserveDecision(d time.Duration) {
	if m == nil {
		return
	}
	m.DecisionDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveOutboxDispatch(result string) {
	if m == nil {
		return
	}
	m.OutboxDispatched.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveDedupeFailure() {
	if m == nil {
		return
	}
	m.DedupeStoreFailures.Inc()
}
