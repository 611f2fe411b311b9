package mediator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliance-agents/coordination-core/internal/service/embedding"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0, 0}, []float32{1, 0, 0}), 1e-6)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{}, []float32{}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
}

func TestDetectConflict_NoPriorTurns(t *testing.T) {
	// recentTurnsByOthers needs a pool, so the no-prior-turns path cannot be
	// reached without a DB fixture; this test runs no check of it. The pure
	// helper cosineSimilarity is covered by TestCosineSimilarity instead.
	_ = context.Background()
}

func TestHashingProviderAgreesOnIdenticalText(t *testing.T) {
	p := embedding.NewHashingProvider(64)
	a, err := p.Embed(context.Background(), "the transaction was flagged as suspicious")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "the transaction was flagged as suspicious")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cosineSimilarity(a.Slice(), b.Slice()), 1e-6)
}

func TestHashingProviderDivergesOnUnrelatedText(t *testing.T) {
	p := embedding.NewHashingProvider(64)
	a, err := p.Embed(context.Background(), "approve the wire transfer immediately")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "the quarterly audit found no exceptions")
	require.NoError(t, err)
	assert.Less(t, cosineSimilarity(a.Slice(), b.Slice()), 0.9)
}
