package orchestrator

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/compliance-agents/coordination-core/internal/model"
)

// GetSystemHealth aggregates per-agent circuit state and decision counts
// alongside the Message Bus's own stats snapshot.
func (o *Orchestrator) GetSystemHealth(ctx context.Context) (*model.SystemHealth, error) {
	o.mu.RLock()
	entries := make([]*agentEntry, 0, len(o.agents))
	for _, e := range o.agents {
		entries = append(entries, e)
	}
	o.mu.RUnlock()

	healthy := true
	agents := make([]model.AgentHealth, 0, len(entries))
	for _, e := range entries {
		served := e.served.Load()
		failed := e.failed.Load()
		total := served + failed
		failureRate := 0.0
		if total > 0 {
			failureRate = float64(failed) / float64(total)
		}
		state := circuitStateName(e.breaker.State())
		if state == "open" {
			healthy = false
		}

		e.mu.Lock()
		initialized := e.handler != nil
		e.mu.Unlock()

		agents = append(agents, model.AgentHealth{
			AgentType:       e.spec.AgentType,
			Initialized:     initialized,
			CircuitState:    state,
			DecisionsServed: served,
			FailureRate:     failureRate,
			LastError:       e.getLastErr(),
		})
	}

	health := &model.SystemHealth{Agents: agents, Healthy: healthy, CheckedAt: time.Now()}

	if o.bus != nil {
		stats, err := o.bus.Stats(ctx)
		if err != nil {
			o.logger.Warn("orchestrator: failed to read bus stats for health check", "error", err)
			health.Healthy = false
		} else {
			health.BusStats = stats
		}
	}

	return health, nil
}

func circuitStateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
