package orchestrator

import (
	"context"
	"log/slog"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliance-agents/coordination-core/internal/model"
)

func newTestOrchestrator() *Orchestrator {
	return New(nil, slog.Default(), nil, DefaultConfig())
}

func TestRegister_RejectsMissingAgentType(t *testing.T) {
	o := newTestOrchestrator()
	err := o.Register(context.Background(), model.AgentSpec{InitStrategy: "lazy"}, nil)
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
}

func TestRegister_RejectsUnknownInitStrategy(t *testing.T) {
	o := newTestOrchestrator()
	err := o.Register(context.Background(), model.AgentSpec{AgentType: "kyc", InitStrategy: "eventually"}, nil)
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
}

func TestRegister_LazyDoesNotInitialize(t *testing.T) {
	o := newTestOrchestrator()
	called := false
	err := o.Register(context.Background(), model.AgentSpec{AgentType: "kyc", InitStrategy: "lazy"}, func(ctx context.Context) (Handler, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestRegister_EagerInitializesImmediately(t *testing.T) {
	o := newTestOrchestrator()
	called := false
	err := o.Register(context.Background(), model.AgentSpec{AgentType: "kyc", InitStrategy: "eager"}, func(ctx context.Context) (Handler, error) {
		called = true
		return stubHandler{}, nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestRegister_EagerFailFastPropagatesError(t *testing.T) {
	o := newTestOrchestrator()
	err := o.Register(context.Background(), model.AgentSpec{AgentType: "kyc", InitStrategy: "eager", FailFast: true}, func(ctx context.Context) (Handler, error) {
		return nil, assert.AnError
	})
	assert.Error(t, err)
}

func TestEntry_UnregisteredAgentType(t *testing.T) {
	o := newTestOrchestrator()
	_, err := o.entry("unknown")
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestCircuitStateName(t *testing.T) {
	assert.Equal(t, "closed", circuitStateName(gobreaker.StateClosed))
	assert.Equal(t, "open", circuitStateName(gobreaker.StateOpen))
	assert.Equal(t, "half-open", circuitStateName(gobreaker.StateHalfOpen))
}

type stubHandler struct{}

func (stubHandler) HandleDecision(ctx context.Context, req model.DecisionRequest) (model.AgentDecision, error) {
	return model.AgentDecision{AgentID: req.AgentType, Confidence: 0.9}, nil
}
