package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels shared by the reconciliation counters.
const (
	OutcomeApplied   = "applied"
	OutcomeNoop      = "noop"
	OutcomeIgnored   = "ignored"
	OutcomeUnmatched = "unmatched"
	OutcomeFailed    = "failed"
)

// ReconciliationMetrics counts how external events were folded into orders.
type ReconciliationMetrics struct {
	events       *prometheus.CounterVec
	paidRace     *prometheus.CounterVec
	carrierCalls *prometheus.CounterVec
}

func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	m := &ReconciliationMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "events_total",
			Help:      "Reconciliation events by source, event and outcome.",
		}, []string{"source", "event", "outcome"}),
		paidRace: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "paid_transitions_total",
			Help:      "Paid transition attempts; won=false means another writer already set paid.",
		}, []string{"source", "won"}),
		carrierCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fulfillment",
			Name:      "carrier_calls_total",
			Help:      "Carrier API calls made by the orchestrator by step and result.",
		}, []string{"step", "result"}),
	}
	reg.MustRegister(m.events, m.paidRace, m.carrierCalls)
	return m
}

func (m *ReconciliationMetrics) Event(source, event, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(source), normalizeLabel(event), normalizeLabel(outcome)).Inc()
}

func (m *ReconciliationMetrics) PaidTransition(source string, won bool) {
	if m == nil || m.paidRace == nil {
		return
	}
	m.paidRace.WithLabelValues(normalizeLabel(source), boolLabel(won)).Inc()
}

func (m *ReconciliationMetrics) CarrierCall(step string, err error) {
	if m == nil || m.carrierCalls == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.carrierCalls.WithLabelValues(normalizeLabel(step), result).Inc()
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
