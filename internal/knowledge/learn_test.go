package knowledge

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/compliance-agents/coordination-core/internal/model"
)

func TestLearnFromInteraction_RewardOutOfRange(t *testing.T) {
	s := &Store{}
	_, err := s.LearnFromInteraction(context.Background(), uuid.New(), "q", uuid.New(), 1.5)
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
}

func TestGetContextForDecision_InvalidDomain(t *testing.T) {
	s := &Store{}
	_, err := s.GetContextForDecision(context.Background(), uuid.New(), model.Domain("not-a-domain"), "q", 5)
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
}
