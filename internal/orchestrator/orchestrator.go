// Package orchestrator implements the Agent Orchestrator: it owns the
// lifecycle of pluggable agent handlers, routes decision requests to them
// under a per-agent-type circuit breaker, and aggregates health across the
// Message Bus and every registered agent.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"github.com/compliance-agents/coordination-core/internal/messagebus"
	"github.com/compliance-agents/coordination-core/internal/model"
)

// Handler produces a decision for a single agent type. Implementations are
// supplied by the deployment embedding this module; the orchestrator only
// manages their lifecycle and failure isolation.
type Handler interface {
	HandleDecision(ctx context.Context, req model.DecisionRequest) (model.AgentDecision, error)
}

// Factory lazily constructs a Handler. Eager specs run the factory at
// Register time; lazy specs run it on first MakeDecision call.
type Factory func(ctx context.Context) (Handler, error)

// Config tunes circuit breaker behavior (spec §4.5).
type Config struct {
	CircuitMaxFailures uint32
	CircuitOpenTimeout time.Duration
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{CircuitMaxFailures: 5, CircuitOpenTimeout: 30 * time.Second}
}

type agentEntry struct {
	spec    model.AgentSpec
	factory Factory

	mu      sync.Mutex
	handler Handler // nil until initialized
	initErr error

	breaker *gobreaker.CircuitBreaker
	served  atomic.Int64
	failed  atomic.Int64

	lastErrMu sync.Mutex
	lastErr   string
}

// Orchestrator is the Agent Orchestrator.
type Orchestrator struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	bus    *messagebus.Bus
	cfg    Config

	mu     sync.RWMutex
	agents map[string]*agentEntry
}

// New creates an Orchestrator. bus may be nil if decision notifications
// aren't wired up (tests, or an MB-less deployment).
func New(pool *pgxpool.Pool, logger *slog.Logger, bus *messagebus.Bus, cfg Config) *Orchestrator {
	return &Orchestrator{pool: pool, logger: logger, bus: bus, cfg: cfg, agents: map[string]*agentEntry{}}
}

// Register adds an agent type to the orchestrator. Eager specs are
// initialized immediately; if initialization fails and FailFast is set, the
// error propagates instead of being deferred to the first decision.
func (o *Orchestrator) Register(ctx context.Context, spec model.AgentSpec, factory Factory) error {
	if spec.AgentType == "" {
		return model.InvalidInput("agent_type is required")
	}
	if spec.InitStrategy != "lazy" && spec.InitStrategy != "eager" {
		return model.InvalidInput("init_strategy must be \"lazy\" or \"eager\", got %q", spec.InitStrategy)
	}

	maxFailures := o.cfg.CircuitMaxFailures
	openTimeout := o.cfg.CircuitOpenTimeout
	entry := &agentEntry{spec: spec, factory: factory}
	entry.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        spec.AgentType,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			o.logger.Warn("orchestrator: circuit breaker state change", "agent_type", name, "from", from, "to", to)
		},
	})

	o.mu.Lock()
	o.agents[spec.AgentType] = entry
	o.mu.Unlock()

	if spec.InitStrategy == "eager" {
		if err := o.initialize(ctx, entry); err != nil && spec.FailFast {
			return fmt.Errorf("orchestrator: eager init of %q failed: %w", spec.AgentType, err)
		}
	}
	return nil
}

func (o *Orchestrator) initialize(ctx context.Context, e *agentEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handler != nil || e.initErr != nil {
		return e.initErr
	}
	h, err := e.factory(ctx)
	if err != nil {
		e.initErr = fmt.Errorf("orchestrator: initialize agent %q: %w", e.spec.AgentType, err)
		return e.initErr
	}
	e.handler = h
	return nil
}

func (e *agentEntry) setLastErr(err error) {
	e.lastErrMu.Lock()
	defer e.lastErrMu.Unlock()
	if err == nil {
		e.lastErr = ""
		return
	}
	e.lastErr = err.Error()
}

func (e *agentEntry) getLastErr() string {
	e.lastErrMu.Lock()
	defer e.lastErrMu.Unlock()
	return e.lastErr
}

func (o *Orchestrator) entry(agentType string) (*agentEntry, error) {
	o.mu.RLock()
	e, ok := o.agents[agentType]
	o.mu.RUnlock()
	if !ok {
		return nil, model.NotFound("agent type %q is not registered", agentType)
	}
	return e, nil
}

