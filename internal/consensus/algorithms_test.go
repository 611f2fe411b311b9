package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliance-agents/coordination-core/internal/model"
)

func session(algo model.ConsensusAlgorithm, participants []string, threshold float64, maxRounds int) *model.ConsensusSession {
	parts := make([]model.ConsensusParticipant, len(participants))
	for i, a := range participants {
		parts[i] = model.ConsensusParticipant{AgentID: a, VotingWeight: 1}
	}
	return &model.ConsensusSession{
		ConsensusID:     "c1",
		Algorithm:       algo,
		Participants:    parts,
		MinParticipants: len(participants),
		Threshold:       threshold,
		MaxRounds:       maxRounds,
		CurrentRound:    1,
	}
}

func opinion(agent, decision string, confidence float64) model.Opinion {
	return model.Opinion{AgentID: agent, Decision: decision, Confidence: confidence, SubmittedAt: time.Now()}
}

func TestCalculateUnanimous(t *testing.T) {
	s := session(model.AlgorithmUnanimous, []string{"a", "b", "c"}, 0, 1)

	t.Run("agrees", func(t *testing.T) {
		res, err := Calculate(s, []model.Opinion{opinion("a", "approve", 0.9), opinion("b", "approve", 0.8), opinion("c", "approve", 0.7)})
		require.NoError(t, err)
		assert.False(t, res.Deadlocked)
		assert.Equal(t, "approve", res.Decision)
		assert.Equal(t, 1.0, res.AgreementRatio)
	})

	t.Run("disagrees", func(t *testing.T) {
		res, err := Calculate(s, []model.Opinion{opinion("a", "approve", 0.9), opinion("b", "reject", 0.8)})
		require.NoError(t, err)
		assert.True(t, res.Deadlocked)
	})
}

func TestCalculateMajority(t *testing.T) {
	s := session(model.AlgorithmMajority, []string{"a", "b", "c"}, 0.5, 1)
	res, err := Calculate(s, []model.Opinion{
		opinion("a", "approve", 0.9), opinion("b", "approve", 0.8), opinion("c", "reject", 0.7),
	})
	require.NoError(t, err)
	assert.Equal(t, "approve", res.Decision)
	assert.False(t, res.Deadlocked)
}

func TestCalculateWeightedMajority(t *testing.T) {
	s := session(model.AlgorithmWeightedMajority, nil, 0.6, 1)
	s.Participants = []model.ConsensusParticipant{
		{AgentID: "expert", VotingWeight: 3},
		{AgentID: "novice", VotingWeight: 1},
	}
	res, err := Calculate(s, []model.Opinion{
		opinion("expert", "reject", 0.9),
		opinion("novice", "approve", 0.5),
	})
	require.NoError(t, err)
	assert.Equal(t, "reject", res.Decision)
	assert.InDelta(t, 0.75, res.AgreementRatio, 0.001)
}

func TestCalculateRankedChoice(t *testing.T) {
	s := session(model.AlgorithmRankedChoice, []string{"a", "b", "c"}, 0, 1)
	res, err := Calculate(s, []model.Opinion{
		{AgentID: "a", SupportingData: map[string]any{"ranking": []string{"x", "y", "z"}}, SubmittedAt: time.Now()},
		{AgentID: "b", SupportingData: map[string]any{"ranking": []string{"y", "x", "z"}}, SubmittedAt: time.Now()},
		{AgentID: "c", SupportingData: map[string]any{"ranking": []string{"y", "z", "x"}}, SubmittedAt: time.Now()},
	})
	require.NoError(t, err)
	assert.Equal(t, "y", res.Decision)
	assert.False(t, res.Deadlocked)
}

func TestCalculateQuorum(t *testing.T) {
	s := session(model.AlgorithmQuorum, []string{"a", "b", "c", "d"}, 0, 1)
	s.MinParticipants = 3

	t.Run("quorum not met", func(t *testing.T) {
		res, err := Calculate(s, []model.Opinion{opinion("a", "approve", 0.9)})
		require.NoError(t, err)
		assert.True(t, res.Deadlocked)
	})

	t.Run("quorum met", func(t *testing.T) {
		res, err := Calculate(s, []model.Opinion{
			opinion("a", "approve", 0.9), opinion("b", "approve", 0.8), opinion("c", "reject", 0.7),
		})
		require.NoError(t, err)
		assert.False(t, res.Deadlocked)
		assert.Equal(t, "approve", res.Decision)
	})
}

func TestTieBreak_Deterministic(t *testing.T) {
	opinions := []model.Opinion{
		{AgentID: "a", Decision: "x", Confidence: 0.5},
		{AgentID: "b", Decision: "y", Confidence: 0.5},
	}
	weights := map[string]float64{"a": 1, "b": 1}
	decision, trail := tieBreak([]string{"x", "y"}, opinions, weights)
	assert.Equal(t, "x", decision, "weight and confidence both tie, lexicographically smallest wins")
	assert.Equal(t, []string{"weight_tie→confidence", "confidence_tie→lexicographic"}, trail)
}

// TestCalculateWeightedMajority_TieBreak mirrors the weighted consensus
// tie-break scenario: weights tie 3-3, broken by aggregate confidence.
func TestCalculateWeightedMajority_TieBreak(t *testing.T) {
	s := session(model.AlgorithmWeightedMajority, nil, 0.5, 1)
	s.Participants = []model.ConsensusParticipant{
		{AgentID: "p1", VotingWeight: 2},
		{AgentID: "p2", VotingWeight: 1},
		{AgentID: "p3", VotingWeight: 2},
		{AgentID: "p4", VotingWeight: 1},
	}
	res, err := Calculate(s, []model.Opinion{
		opinion("p1", "A", 0.9),
		opinion("p2", "A", 0.7),
		opinion("p3", "B", 0.9),
		opinion("p4", "B", 0.6),
	})
	require.NoError(t, err)
	assert.Equal(t, "A", res.Decision)
	assert.Equal(t, []string{"weight_tie→confidence"}, res.TieBreakers)
}
