package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliance-agents/coordination-core/internal/model"
)

func TestDegradedModeDecision_ZeroConfidenceAndReviewFlagged(t *testing.T) {
	req := model.DecisionRequest{AgentType: "kyc", DecisionType: "onboarding", Urgency: model.UrgencyHigh}
	d := degradedModeDecision(req)
	assert.Equal(t, 0.0, d.Confidence)
	assert.True(t, d.RequiresHumanReview)
	assert.Equal(t, "kyc", d.AgentID)
	assert.Equal(t, "onboarding", d.Type)
	assert.NotEqual(t, uuid.Nil, d.DecisionID)
}

type failingHandler struct{ err error }

func (f failingHandler) HandleDecision(ctx context.Context, req model.DecisionRequest) (model.AgentDecision, error) {
	return model.AgentDecision{}, f.err
}

func TestMakeDecision_CircuitOpenReturnsDegradedModeNotError(t *testing.T) {
	o := newTestOrchestrator()
	failErr := errors.New("boom")
	require.NoError(t, o.Register(context.Background(), model.AgentSpec{AgentType: "kyc", InitStrategy: "eager"}, func(ctx context.Context) (Handler, error) {
		return failingHandler{err: failErr}, nil
	}))

	// Trip the breaker: DefaultConfig requires 5 consecutive failures.
	for i := 0; i < 5; i++ {
		_, err := o.MakeDecision(context.Background(), uuid.Nil, model.DecisionRequest{AgentType: "kyc", DecisionType: "x", Urgency: model.UrgencyMedium})
		assert.Error(t, err)
	}

	decision, err := o.MakeDecision(context.Background(), uuid.Nil, model.DecisionRequest{AgentType: "kyc", DecisionType: "x", Urgency: model.UrgencyMedium})
	require.NoError(t, err, "circuit-open must return a degraded decision, not an error")
	require.NotNil(t, decision)
	assert.Equal(t, 0.0, decision.Confidence)
	assert.True(t, decision.RequiresHumanReview)
}
