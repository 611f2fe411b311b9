package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/compliance-agents/coordination-core/internal/model"
	"github.com/compliance-agents/coordination-core/internal/service/embedding"
)

// SemanticSearch embeds the query and ranks entities purely by vector
// similarity. When no ANN index is configured, or embedding fails, it
// degrades to full-text search over Postgres (Explanation.Mode records
// which path served the request).
func (s *Store) SemanticSearch(ctx context.Context, orgID uuid.UUID, q model.SearchQuery) ([]model.QueryResult, error) {
	limit := q.MaxResults
	if limit <= 0 {
		limit = 10
	}

	if s.index == nil {
		return s.keywordWithAccess(ctx, orgID, q.Text, q, limit)
	}

	vec, err := s.embed(ctx, q.Text)
	if err != nil {
		s.logger.Warn("knowledge: embedding unavailable, falling back to full-text search", "error", err)
		return s.keywordWithAccess(ctx, orgID, q.Text, q, limit)
	}

	hits, err := s.index.Search(ctx, orgID, vec.Slice(), q, limit)
	if err != nil {
		s.logger.Warn("knowledge: ann search failed, falling back to full-text search", "error", err)
		return s.keywordWithAccess(ctx, orgID, q.Text, q, limit)
	}

	results, err := s.hydrate(ctx, orgID, hits)
	if err != nil {
		return nil, err
	}
	threshold := q.SimilarityThreshold
	out := make([]model.QueryResult, 0, len(results))
	for _, r := range results {
		if r.SimilarityScore < threshold {
			continue
		}
		out = append(out, r)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	s.recordAccesses(ctx, entityIDs(out))
	return out, nil
}

// keywordWithAccess runs the keyword fallback and applies the same
// once-per-query access accounting as the ANN path.
func (s *Store) keywordWithAccess(ctx context.Context, orgID uuid.UUID, query string, q model.SearchQuery, limit int) ([]model.QueryResult, error) {
	out, err := s.searchByKeyword(ctx, orgID, query, q, limit)
	if err != nil {
		return nil, err
	}
	s.recordAccesses(ctx, entityIDs(out))
	return out, nil
}

// entityIDs extracts the EntityID of every result, for batched access
// accounting over a search's final result set.
func entityIDs(results []model.QueryResult) []uuid.UUID {
	ids := make([]uuid.UUID, len(results))
	for i, r := range results {
		ids[i] = r.Entity.EntityID
	}
	return ids
}

// HybridSearch blends vector similarity and keyword relevance per cfg's
// weights (spec §4.1's default 0.6/0.4 split), running both searches and
// combining scores for entities found by either.
func (s *Store) HybridSearch(ctx context.Context, orgID uuid.UUID, text string, cfg model.HybridSearchConfig) ([]model.QueryResult, error) {
	if cfg.VectorWeight == 0 && cfg.KeywordWeight == 0 {
		cfg = model.DefaultHybridSearchConfig()
	}
	limit := cfg.MaxResults
	if limit <= 0 {
		limit = 10
	}

	vq := model.SearchQuery{Text: text, Domain: cfg.Domain, KnowledgeType: cfg.KnowledgeType, MaxResults: limit * 2}
	vectorResults, err := s.vectorOnly(ctx, orgID, vq)
	if err != nil {
		return nil, err
	}
	keywordResults, err := s.searchByKeyword(ctx, orgID, text, vq, limit*2)
	if err != nil {
		return nil, err
	}

	combined := make(map[uuid.UUID]*model.QueryResult, len(vectorResults)+len(keywordResults))
	for _, r := range vectorResults {
		r := r
		combined[r.Entity.EntityID] = &model.QueryResult{
			Entity:          r.Entity,
			SimilarityScore: cfg.VectorWeight * r.SimilarityScore,
			Explanation: model.Explanation{
				Mode:        "hybrid",
				VectorScore: r.SimilarityScore,
				Metric:      string(model.MetricCosine),
			},
		}
	}
	for _, r := range keywordResults {
		if existing, ok := combined[r.Entity.EntityID]; ok {
			existing.SimilarityScore += cfg.KeywordWeight * r.SimilarityScore
			existing.Explanation.KeywordScore = r.SimilarityScore
		} else {
			r := r
			combined[r.Entity.EntityID] = &model.QueryResult{
				Entity:          r.Entity,
				SimilarityScore: cfg.KeywordWeight * r.SimilarityScore,
				Explanation: model.Explanation{
					Mode:         "hybrid",
					KeywordScore: r.SimilarityScore,
				},
			}
		}
	}

	out := make([]model.QueryResult, 0, len(combined))
	for _, r := range combined {
		if r.SimilarityScore < cfg.SimilarityThreshold {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SimilarityScore > out[j].SimilarityScore })
	if len(out) > limit {
		out = out[:limit]
	}
	s.recordAccesses(ctx, entityIDs(out))
	return out, nil
}

// vectorOnly runs the ANN leg of a hybrid search without the threshold/
// fallback behavior SemanticSearch applies for standalone use.
func (s *Store) vectorOnly(ctx context.Context, orgID uuid.UUID, q model.SearchQuery) ([]model.QueryResult, error) {
	if s.index == nil {
		return nil, nil
	}
	vec, err := s.embed(ctx, q.Text)
	if err != nil {
		return nil, nil
	}
	hits, err := s.index.Search(ctx, orgID, vec.Slice(), q, q.MaxResults)
	if err != nil {
		s.logger.Warn("knowledge: ann search failed during hybrid search", "error", err)
		return nil, nil
	}
	return s.hydrate(ctx, orgID, hits)
}

// hydrate resolves ANN hits to full entities from Postgres, the source of
// truth, dropping any hit whose entity was deleted since indexing.
func (s *Store) hydrate(ctx context.Context, orgID uuid.UUID, hits []VectorHit) ([]model.QueryResult, error) {
	mode := "embedding"
	if _, ok := s.embedder.(*embedding.HashingProvider); ok {
		mode = "hashing-fallback"
	}
	out := make([]model.QueryResult, 0, len(hits))
	for _, h := range hits {
		e, err := s.scanOne(ctx,
			`SELECT entity_id, org_id, domain, knowledge_type, title, content, metadata, tags,
			        embedding, confidence_score, access_count, created_at, last_accessed,
			        expires_at, retention_policy
			 FROM knowledge_entities WHERE entity_id = $1 AND org_id = $2`,
			h.EntityID, orgID,
		)
		if err != nil {
			if model.KindOf(err) == model.KindNotFound {
				continue
			}
			return nil, fmt.Errorf("knowledge: hydrate ann hit: %w", err)
		}
		out = append(out, model.QueryResult{
			Entity:          *e,
			SimilarityScore: normalizeScore(h.Score),
			Explanation:     model.Explanation{Mode: mode, VectorScore: float64(h.Score), Metric: string(model.MetricCosine)},
		})
	}
	return out, nil
}

// normalizeScore clamps a raw cosine score (which Qdrant returns in
// [-1,1]) into [0,1] so it combines predictably with keyword scores.
func normalizeScore(score float32) float64 {
	v := (float64(score) + 1) / 2
	return math.Max(0, math.Min(1, v))
}
