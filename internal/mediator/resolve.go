package mediator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/compliance-agents/coordination-core/internal/messagebus"
	"github.com/compliance-agents/coordination-core/internal/model"
)

// Resolve applies a resolution strategy to an open conflict. majority_vote,
// weighted_vote, and expert_arbitration delegate to the Consensus Engine
// (seated with the conflict's involved agents); compromise_negotiation
// re-checks, up to MaxNegotiationRounds times, whether the involved agents'
// latest recorded turns have converged; the remaining strategies
// are terminal dispositions recorded directly.
func (m *Mediator) Resolve(ctx context.Context, orgID uuid.UUID, conflictID uuid.UUID, strategy model.ResolutionStrategy) (*model.MediationResult, error) {
	conflict, conversationID, err := m.getConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.StrategyUsed != nil {
		return nil, model.StateConflict("conflict %s already resolved with strategy %s", conflictID, *conflict.StrategyUsed)
	}

	if err := m.transition(ctx, conversationID, model.ConvResolvingConflict); err != nil {
		return nil, err
	}

	var result *model.MediationResult
	switch strategy {
	case model.StrategyMajorityVote, model.StrategyWeightedVote, model.StrategyExpertArbitration:
		result, err = m.resolveViaConsensus(ctx, orgID, conversationID, conflict, strategy)
	case model.StrategyCompromise:
		result, err = m.resolveCompromise(ctx, conversationID, conflict)
	case model.StrategyEscalation:
		result = &model.MediationResult{ConflictID: conflictID, Strategy: strategy, Success: false, Summary: "escalated for human review"}
	case model.StrategyExternalMediation:
		result = &model.MediationResult{ConflictID: conflictID, Strategy: strategy, Success: false, Summary: "deferred to an external mediation service"}
	case model.StrategyTimeoutAbort:
		result = &model.MediationResult{ConflictID: conflictID, Strategy: strategy, Success: false, Summary: "conversation aborted after conflict timeout"}
	case model.StrategyManualOverride:
		result = &model.MediationResult{ConflictID: conflictID, Strategy: strategy, Success: true, Summary: "resolved by manual operator override"}
	default:
		return nil, model.InvalidInput("unknown resolution strategy %q", strategy)
	}
	if err != nil {
		return nil, err
	}

	if err := m.recordResolution(ctx, conflictID, result); err != nil {
		return nil, err
	}

	nextState := model.ConvDeadlock
	if result.Success {
		nextState = model.ConvConsensusReached
	}
	if err := m.transition(ctx, conversationID, nextState); err != nil {
		return nil, err
	}

	m.notifyResolution(ctx, orgID, result)

	return result, nil
}

func (m *Mediator) resolveViaConsensus(ctx context.Context, orgID uuid.UUID, conversationID uuid.UUID, conflict *model.Conflict, strategy model.ResolutionStrategy) (*model.MediationResult, error) {
	if m.consensus == nil {
		return nil, model.Unavailable("consensus engine is not wired into this mediator")
	}
	cc, err := m.GetContext(ctx, orgID, conversationID)
	if err != nil {
		return nil, err
	}

	algo := model.AlgorithmMajority
	if strategy == model.StrategyWeightedVote || strategy == model.StrategyExpertArbitration {
		algo = model.AlgorithmWeightedMajority
	}

	participants := make([]model.ConsensusParticipant, 0, len(conflict.InvolvedAgents))
	for _, agentID := range conflict.InvolvedAgents {
		weight := 1.0
		if strategy == model.StrategyExpertArbitration {
			if p, ok := cc.ParticipantByID(agentID); ok {
				weight = p.ExpertiseWeight
				if weight <= 0 {
					weight = 1
				}
			}
		}
		participants = append(participants, model.ConsensusParticipant{AgentID: agentID, VotingWeight: weight})
	}

	session, err := m.consensus.Initiate(ctx, orgID, model.ConsensusConfig{
		Topic:           fmt.Sprintf("conflict:%s", conflict.ConflictID),
		Algorithm:       algo,
		Participants:    participants,
		MinParticipants: len(participants),
		Threshold:       0.5,
		MaxRounds:       1,
		TimeoutPerRound: m.cfg.TurnTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("mediator: initiate consensus for conflict: %w", err)
	}

	// Seed round-1 opinions from the conflicting turns themselves: each
	// involved agent's most recent turn becomes its vote.
	for _, agentID := range conflict.InvolvedAgents {
		content, err := m.latestTurn(ctx, conversationID, agentID)
		if err != nil || content == "" {
			continue
		}
		_ = m.consensus.SubmitOpinion(ctx, orgID, model.Opinion{
			ConsensusID: session.ConsensusID,
			Round:       1,
			AgentID:     agentID,
			Decision:    content,
			Confidence:  0.5,
		})
	}

	consResult, err := m.consensus.EndRound(ctx, orgID, session.ConsensusID)
	if err != nil {
		return nil, fmt.Errorf("mediator: end consensus round for conflict: %w", err)
	}

	return &model.MediationResult{
		ConflictID:     conflict.ConflictID,
		Strategy:       strategy,
		Success:        !consResult.Deadlocked,
		Decision:       consResult.Decision,
		AgreementRatio: consResult.AgreementRatio,
		Summary:        fmt.Sprintf("%s consensus over %d involved agents", algo, len(participants)),
	}, nil
}

// resolveCompromise runs up to cfg.MaxNegotiationRounds rounds, each round
// simply re-checking whether the involved agents' most recent turns have
// converged (their pairwise divergence has dropped below ClaimDivFloor).
// A real negotiation would solicit a fresh counter-proposal per round from
// each agent; this mediator observes the conversation's own turn stream,
// so "negotiation" here means waiting for participants to narrow their own
// positions across subsequent turns already recorded in the conversation.
func (m *Mediator) resolveCompromise(ctx context.Context, conversationID uuid.UUID, conflict *model.Conflict) (*model.MediationResult, error) {
	for round := 1; round <= m.cfg.MaxNegotiationRounds; round++ {
		converged, err := m.involvedTurnsConverged(ctx, conversationID, conflict.InvolvedAgents)
		if err != nil {
			return nil, err
		}
		if converged {
			return &model.MediationResult{
				ConflictID: conflict.ConflictID,
				Strategy:   model.StrategyCompromise,
				Success:    true,
				Summary:    fmt.Sprintf("positions converged within %d negotiation round(s)", round),
			}, nil
		}
	}
	return &model.MediationResult{
		ConflictID: conflict.ConflictID,
		Strategy:   model.StrategyCompromise,
		Success:    false,
		Summary:    fmt.Sprintf("positions did not converge within %d negotiation round(s)", m.cfg.MaxNegotiationRounds),
	}, nil
}

func (m *Mediator) involvedTurnsConverged(ctx context.Context, conversationID uuid.UUID, agentIDs []string) (bool, error) {
	turns := make(map[string]string, len(agentIDs))
	for _, a := range agentIDs {
		content, err := m.latestTurn(ctx, conversationID, a)
		if err != nil {
			return false, err
		}
		turns[a] = content
	}
	for i := 0; i < len(agentIDs); i++ {
		for j := i + 1; j < len(agentIDs); j++ {
			a, b := turns[agentIDs[i]], turns[agentIDs[j]]
			if a == "" || b == "" {
				continue
			}
			vecA, errA := m.embedder.Embed(ctx, a)
			vecB, errB := m.embedder.Embed(ctx, b)
			if errA != nil || errB != nil {
				continue
			}
			if 1-cosineSimilarity(vecA.Slice(), vecB.Slice()) >= m.cfg.ClaimDivFloor {
				return false, nil
			}
		}
	}
	return true, nil
}

func (m *Mediator) latestTurn(ctx context.Context, conversationID uuid.UUID, agentID string) (string, error) {
	var content string
	err := m.pool.QueryRow(ctx,
		`SELECT content FROM conversation_messages
		 WHERE conversation_id = $1 AND from_agent = $2
		 ORDER BY created_at DESC LIMIT 1`,
		conversationID, agentID,
	).Scan(&content)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("mediator: latest turn: %w", err)
	}
	return content, nil
}

func (m *Mediator) getConflict(ctx context.Context, conflictID uuid.UUID) (*model.Conflict, uuid.UUID, error) {
	var c model.Conflict
	var detailJSON []byte
	err := m.pool.QueryRow(ctx,
		`SELECT conflict_id, conversation_id, type, description, involved_agents, detected_at, detail
		 FROM conflict_resolutions WHERE conflict_id = $1`,
		conflictID,
	).Scan(&c.ConflictID, &c.ConversationID, &c.Type, &c.Description, &c.InvolvedAgents, &c.DetectedAt, &detailJSON)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, uuid.Nil, model.NotFound("conflict %s not found", conflictID)
		}
		return nil, uuid.Nil, fmt.Errorf("mediator: get conflict: %w", err)
	}
	if len(detailJSON) > 0 {
		var full model.Conflict
		if err := json.Unmarshal(detailJSON, &full); err == nil {
			c.StrategyUsed = full.StrategyUsed
			c.ResolvedSuccessfully = full.ResolvedSuccessfully
			c.ResolutionSummary = full.ResolutionSummary
			c.Explanation = full.Explanation
			c.ResolvedAt = full.ResolvedAt
		}
	}
	return &c, c.ConversationID, nil
}

func (m *Mediator) recordResolution(ctx context.Context, conflictID uuid.UUID, result *model.MediationResult) error {
	now := time.Now()
	explanation := result.Summary
	conflict := model.Conflict{
		ConflictID:           conflictID,
		StrategyUsed:         &result.Strategy,
		ResolvedSuccessfully: &result.Success,
		ResolutionSummary:    &result.Summary,
		Explanation:          &explanation,
		ResolvedAt:           &now,
	}
	detailJSON, err := json.Marshal(conflict)
	if err != nil {
		return fmt.Errorf("mediator: marshal resolution detail: %w", err)
	}
	if _, err := m.pool.Exec(ctx,
		`UPDATE conflict_resolutions
		 SET detail = detail || $1::jsonb, resolved_at = $2
		 WHERE conflict_id = $3`,
		detailJSON, now, conflictID,
	); err != nil {
		return fmt.Errorf("mediator: record resolution: %w", err)
	}
	return nil
}

// notifyResolution publishes a decision_feedback message on the bus once a
// conflict is resolved, so downstream agents learn the outcome without
// polling the conversation state directly.
func (m *Mediator) notifyResolution(ctx context.Context, orgID uuid.UUID, result *model.MediationResult) {
	if m.bus == nil {
		return
	}
	_, err := m.bus.Send(ctx, messagebus.SendInput{
		OrgID: orgID,
		From:  "mediator",
		To:    []string{"*"},
		Type:  "decision_feedback",
		Payload: map[string]any{
			"decision_id": result.ConflictID.String(),
			"score":       result.AgreementRatio,
		},
	})
	if err != nil {
		m.logger.Warn("mediator: failed to publish resolution feedback", "error", err)
	}
}
