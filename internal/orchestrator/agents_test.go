package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliance-agents/coordination-core/internal/knowledge"
	"github.com/compliance-agents/coordination-core/internal/model"
)

func TestAgentConstructors_RegistersThreeVariants(t *testing.T) {
	assert.Len(t, AgentConstructors, 3)
	for _, agentType := range []string{"transaction_guardian", "regulatory_assessor", "audit_intelligence"} {
		assert.Contains(t, AgentConstructors, agentType)
	}
}

func TestAgentConstructors_RejectNilStore(t *testing.T) {
	for agentType, ctor := range AgentConstructors {
		_, err := ctor(Dependencies{})
		assert.Errorf(t, err, "%s should require a knowledge store", agentType)
	}
}

func TestDomainAgent_ScoreWithNoEntities(t *testing.T) {
	a := &domainAgent{agentType: "transaction_guardian", domain: model.DomainTransactionMonitoring, reviewThreshold: 0.6}
	confidence, reasoning, actions := a.score(&model.DecisionContextResult{})
	assert.Equal(t, 0.3, confidence)
	assert.Contains(t, reasoning, "no")
	assert.Contains(t, actions, "escalate_for_human_review")
}

func TestDomainAgent_ScoreAveragesEntityConfidence(t *testing.T) {
	a := &domainAgent{agentType: "regulatory_assessor", domain: model.DomainRegulatoryCompliance, reviewThreshold: 0.5}
	decCtx := &model.DecisionContextResult{
		Entities: []model.KnowledgeEntity{
			{Title: "rule one", ConfidenceScore: 0.8},
			{Title: "rule two", ConfidenceScore: 0.4},
		},
	}
	confidence, reasoning, actions := a.score(decCtx)
	assert.InDelta(t, 0.6, confidence, 0.001)
	assert.Contains(t, reasoning, "rule one")
	assert.Contains(t, reasoning, "rule two")
	assert.Contains(t, actions, "record_decision")
	assert.NotContains(t, actions, "escalate_for_human_review")
}

func TestDomainAgent_ScoreBelowThresholdEscalates(t *testing.T) {
	a := &domainAgent{agentType: "audit_intelligence", domain: model.DomainAuditIntelligence, reviewThreshold: 0.9}
	decCtx := &model.DecisionContextResult{
		Entities: []model.KnowledgeEntity{{Title: "weak evidence", ConfidenceScore: 0.2}},
	}
	_, _, actions := a.score(decCtx)
	assert.Contains(t, actions, "escalate_for_human_review")
}

func TestNewDomainAgent_DefaultsLogger(t *testing.T) {
	store := knowledge.New(nil, nil, nil, nil)
	h, err := newTransactionGuardian(Dependencies{Store: store})
	require.NoError(t, err)
	da, ok := h.(*domainAgent)
	require.True(t, ok)
	assert.NotNil(t, da.logger)
	assert.Equal(t, "transaction_guardian", da.agentType)
}
