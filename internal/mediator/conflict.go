package mediator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/compliance-agents/coordination-core/internal/model"
)

// detectConflict runs the two-stage scoring scheme conflict scoring uses
// for decisions, adapted to conversation turns: a candidate pair must
// first clear ClaimTopicSimFloor (be about the same thing) before its
// divergence is even considered, and only then must it clear ClaimDivFloor
// to count as a genuine disagreement rather than two participants agreeing
// in different words.
func (m *Mediator) detectConflict(ctx context.Context, cc *model.ConversationContext, agentID, content string) (*model.Conflict, error) {
	recent, err := m.recentTurnsByOthers(ctx, cc.ConversationID, agentID, 10)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, nil
	}

	newVec, err := m.embedder.Embed(ctx, content)
	if err != nil {
		// No embedding available (noop provider with no key, transient API
		// failure): conflict detection degrades to "no conflict found"
		// rather than blocking the turn from being recorded.
		return nil, nil
	}

	var involved []string
	var maxDivergence float64
	for _, turn := range recent {
		otherVec, err := m.embedder.Embed(ctx, turn.content)
		if err != nil {
			continue
		}
		sim := cosineSimilarity(newVec.Slice(), otherVec.Slice())
		if sim < m.cfg.ClaimTopicSimFloor {
			continue // not about the same thing
		}
		divergence := 1 - sim
		if divergence < m.cfg.ClaimDivFloor {
			continue // same topic, but in agreement
		}
		involved = append(involved, turn.agentID)
		if divergence > maxDivergence {
			maxDivergence = divergence
		}
	}
	if len(involved) == 0 {
		return nil, nil
	}
	involved = append(involved, agentID)

	return &model.Conflict{
		ConflictID:     uuid.New(),
		ConversationID: cc.ConversationID,
		Type:           model.ConflictContradictoryResponses,
		Description:    fmt.Sprintf("agent %s's turn diverges from %d other participant(s) on the same topic (divergence=%.2f)", agentID, len(involved)-1, maxDivergence),
		InvolvedAgents: involved,
		DetectedAt:     time.Now(),
	}, nil
}

type turnRef struct {
	agentID string
	content string
}

func (m *Mediator) recentTurnsByOthers(ctx context.Context, conversationID uuid.UUID, excludeAgentID string, limit int) ([]turnRef, error) {
	rows, err := m.pool.Query(ctx,
		`SELECT from_agent, content FROM conversation_messages
		 WHERE conversation_id = $1 AND from_agent != $2
		 ORDER BY created_at DESC LIMIT $3`,
		conversationID, excludeAgentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("mediator: query recent turns: %w", err)
	}
	defer rows.Close()

	var out []turnRef
	for rows.Next() {
		var t turnRef
		if err := rows.Scan(&t.agentID, &t.content); err != nil {
			return nil, fmt.Errorf("mediator: scan turn: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
