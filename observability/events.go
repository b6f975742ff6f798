// Package observability exports process-wide counters that span all
// coordinators in the running process (per-cache-instance counters live in
// capability.MetricsSnapshot instead; see capability/metrics.go).
package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	outcomes  *prometheus.CounterVec
	published *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the process-wide metrics registry tracking proposal
// outcomes and record publication, segmented by coordination type and
// record kind respectively.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agentconnector",
				Subsystem: "events",
				Name:      "proposal_outcomes_total",
				Help:      "Count of finalized proposals segmented by coordination type and outcome.",
			}, []string{"coordination_type", "outcome"}),
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agentconnector",
				Subsystem: "events",
				Name:      "records_published_total",
				Help:      "Count of signed records stored, segmented by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(eventRegistry.outcomes, eventRegistry.published)
	})
	return eventRegistry
}

// RecordOutcome increments the outcome counter for a finalized proposal.
func (m *eventMetrics) RecordOutcome(coordinationType, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(normalize(coordinationType), normalize(outcome)).Inc()
}

// RecordPublished increments the publication counter for a stored record
// kind (e.g. "5910", "6910", "7910", "31990").
func (m *eventMetrics) RecordPublished(kind string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(normalize(kind)).Inc()
}

func normalize(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
