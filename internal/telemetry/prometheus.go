package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is a process-wide prometheus.Registerer shared by the orchestrator
// and message bus for simple counters that don't need OTEL's batching (OTEL
// carries traces and the richer gauges; these are cheap Grafana-friendly
// counters scraped directly).
var Registry = prometheus.NewRegistry()

var (
	// DecisionsTotal counts MakeDecision outcomes by agent type and result
	// ("ok", "error", "circuit_open").
	DecisionsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "coordination_core",
		Subsystem: "orchestrator",
		Name:      "decisions_total",
		Help:      "Agent decisions made, labeled by agent_type and outcome.",
	}, []string{"agent_type", "outcome"})

	// MessagesTotal counts Message Bus sends by message type and outcome.
	// Only the "sent" outcome is recorded, by Bus.Send.
	MessagesTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "coordination_core",
		Subsystem: "messagebus",
		Name:      "messages_total",
		Help:      "Messages processed by the bus, labeled by type and outcome.",
	}, []string{"type", "outcome"})
)
