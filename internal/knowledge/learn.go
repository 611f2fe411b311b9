package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/compliance-agents/coordination-core/internal/model"
)

// learningRate is the fraction of a reward signal applied to the selected
// entity's confidence score per interaction, kept small so a single noisy
// interaction cannot swing confidence far (spec §4.1).
const learningRate = 0.05

// LearnFromInteraction records that selectedID was chosen in response to
// query and nudges its confidence score by reward * learningRate, clamped
// to [0,1].
func (s *Store) LearnFromInteraction(ctx context.Context, orgID uuid.UUID, query string, selectedID uuid.UUID, reward float64) (*model.LearningInteraction, error) {
	if reward < -1 || reward > 1 {
		return nil, model.InvalidInput("reward must be in [-1,1], got %f", reward)
	}

	delta := float32(reward * learningRate)
	if _, err := s.UpdateConfidence(ctx, orgID, selectedID, delta); err != nil {
		return nil, err
	}

	li := &model.LearningInteraction{
		ID:         uuid.New(),
		OrgID:      orgID,
		Query:      query,
		SelectedID: selectedID,
		Reward:     reward,
		ObservedAt: time.Now(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO learning_interactions (id, org_id, query, selected_entity_id, reward, observed_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		li.ID, li.OrgID, li.Query, li.SelectedID, li.Reward, li.ObservedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("knowledge: insert learning interaction: %w", err)
	}
	return li, nil
}

// GetContextForDecision assembles the knowledge an agent should consider
// before making a decision of the given type: a hybrid search over the
// domain plus a tally of how past interactions in that domain have
// historically been rewarded (a crude "decision pattern" signal until a
// dedicated analytics path exists).
func (s *Store) GetContextForDecision(ctx context.Context, orgID uuid.UUID, domain model.Domain, decisionQuery string, maxResults int) (*model.DecisionContextResult, error) {
	if !model.ValidDomain(domain) {
		return nil, model.InvalidInput("unknown knowledge domain %q", domain)
	}
	cfg := model.DefaultHybridSearchConfig()
	cfg.Domain = &domain
	if maxResults > 0 {
		cfg.MaxResults = maxResults
	}

	entities, err := s.HybridSearch(ctx, orgID, decisionQuery, cfg)
	if err != nil {
		return nil, err
	}
	resultEntities := make([]model.KnowledgeEntity, 0, len(entities))
	for _, r := range entities {
		resultEntities = append(resultEntities, r.Entity)
	}

	patterns, err := s.decisionPatterns(ctx, orgID, domain)
	if err != nil {
		return nil, err
	}

	return &model.DecisionContextResult{Entities: resultEntities, DecisionPatterns: patterns}, nil
}

func (s *Store) decisionPatterns(ctx context.Context, orgID uuid.UUID, domain model.Domain) (map[string]any, error) {
	var count int64
	var avgReward float64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(AVG(li.reward), 0)
		 FROM learning_interactions li
		 JOIN knowledge_entities ke ON ke.entity_id = li.selected_entity_id
		 WHERE li.org_id = $1 AND ke.domain = $2`,
		orgID, domain,
	).Scan(&count, &avgReward)
	if err != nil {
		return nil, fmt.Errorf("knowledge: decision patterns: %w", err)
	}
	return map[string]any{
		"domain":               string(domain),
		"interaction_count":    count,
		"average_reward":       avgReward,
	}, nil
}
