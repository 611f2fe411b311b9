// Package knowledge implements the Vector Knowledge Store: durable,
// domain-scoped storage of knowledge entities in Postgres with semantic
// search over an external ANN index (Qdrant), full-text fallback when the
// index or the embedding provider is unavailable, a relationship graph, and
// a time-based retention sweep.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/singleflight"

	"github.com/compliance-agents/coordination-core/internal/model"
	"github.com/compliance-agents/coordination-core/internal/service/embedding"
)

// Store is the Vector Knowledge Store.
type Store struct {
	pool     *pgxpool.Pool
	logger   *slog.Logger
	embedder embedding.Provider
	index    *Index // may be nil: search degrades to Postgres full-text only

	// embedGroup dedupes concurrent embedding calls for identical text —
	// two agents searching the same query at once share one API call.
	embedGroup singleflight.Group
}

// New creates a Store. index may be nil if no ANN index is configured.
func New(pool *pgxpool.Pool, logger *slog.Logger, embedder embedding.Provider, index *Index) *Store {
	return &Store{pool: pool, logger: logger, embedder: embedder, index: index}
}

// Create inserts a new knowledge entity, embedding its content and, when an
// ANN index is configured, upserting the vector there too.
func (s *Store) Create(ctx context.Context, e model.KnowledgeEntity) (*model.KnowledgeEntity, error) {
	if !model.ValidDomain(e.Domain) {
		return nil, model.InvalidInput("unknown knowledge domain %q", e.Domain)
	}
	if e.EntityID == uuid.Nil {
		e.EntityID = uuid.New()
	}
	now := time.Now()
	e.CreatedAt = now
	e.LastAccessed = now
	e.ConfidenceScore = model.ClampConfidence(e.ConfidenceScore)
	if e.ExpiresAt.IsZero() {
		e.ExpiresAt = now.Add(model.RetentionDuration(e.RetentionPolicy))
	}

	vec, err := s.embed(ctx, e.Content)
	if err != nil {
		s.logger.Warn("knowledge: embedding failed, storing without vector", "entity_id", e.EntityID, "error", err)
	} else {
		e.Embedding = &vec
	}

	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("knowledge: marshal metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO knowledge_entities
		 (entity_id, org_id, domain, knowledge_type, title, content, metadata, tags,
		  embedding, confidence_score, access_count, created_at, last_accessed,
		  expires_at, retention_policy)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,$11,$12,$13,$14)`,
		e.EntityID, e.OrgID, e.Domain, e.KnowledgeType, e.Title, e.Content, metadataJSON,
		e.Tags, e.Embedding, e.ConfidenceScore, e.CreatedAt, e.LastAccessed, e.ExpiresAt, e.RetentionPolicy,
	)
	if err != nil {
		return nil, fmt.Errorf("knowledge: insert entity: %w", err)
	}

	if s.index != nil && e.Embedding != nil {
		if err := s.index.Upsert(ctx, []EntityPoint{{Entity: e}}); err != nil {
			s.logger.Warn("knowledge: ann upsert failed, entity remains searchable via full-text only", "entity_id", e.EntityID, "error", err)
		}
	}
	return &e, nil
}

// Get fetches an entity by ID, scoped to orgID, and records the access
// (touching AccessCount/LastAccessed — spec §4.1's "access patterns feed
// ranking" invariant).
func (s *Store) Get(ctx context.Context, orgID, entityID uuid.UUID) (*model.KnowledgeEntity, error) {
	e, err := s.scanOne(ctx,
		`SELECT entity_id, org_id, domain, knowledge_type, title, content, metadata, tags,
		        embedding, confidence_score, access_count, created_at, last_accessed,
		        expires_at, retention_policy
		 FROM knowledge_entities WHERE entity_id = $1 AND org_id = $2`,
		entityID, orgID,
	)
	if err != nil {
		return nil, err
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE knowledge_entities SET access_count = access_count + 1, last_accessed = now()
		 WHERE entity_id = $1`, entityID,
	); err != nil {
		s.logger.Warn("knowledge: failed to record access", "entity_id", entityID, "error", err)
	}
	return e, nil
}

// recordAccesses batch-updates access_count/last_accessed for every entity
// in ids in a single statement — the search paths (SemanticSearch,
// HybridSearch) apply this once per query over their final result set,
// mirroring the per-entity accounting Get does for a single fetch.
func (s *Store) recordAccesses(ctx context.Context, ids []uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE knowledge_entities SET access_count = access_count + 1, last_accessed = now()
		 WHERE entity_id = ANY($1)`, ids,
	); err != nil {
		s.logger.Warn("knowledge: failed to record search access", "count", len(ids), "error", err)
	}
}

// UpdateConfidence adjusts an entity's confidence score by delta, clamped to
// [0,1], used by LearnFromInteraction and by agents reporting outcomes.
func (s *Store) UpdateConfidence(ctx context.Context, orgID, entityID uuid.UUID, delta float32) (float32, error) {
	var current float32
	err := s.pool.QueryRow(ctx,
		`SELECT confidence_score FROM knowledge_entities WHERE entity_id = $1 AND org_id = $2 FOR UPDATE`,
		entityID, orgID,
	).Scan(&current)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, model.NotFound("knowledge entity %s not found", entityID)
		}
		return 0, fmt.Errorf("knowledge: read confidence: %w", err)
	}
	next := model.ClampConfidence(current + delta)
	if _, err := s.pool.Exec(ctx,
		`UPDATE knowledge_entities SET confidence_score = $1 WHERE entity_id = $2`, next, entityID,
	); err != nil {
		return 0, fmt.Errorf("knowledge: update confidence: %w", err)
	}
	return next, nil
}

// Delete removes an entity from Postgres and, if configured, the ANN index.
func (s *Store) Delete(ctx context.Context, orgID, entityID uuid.UUID) error {
	ct, err := s.pool.Exec(ctx,
		`DELETE FROM knowledge_entities WHERE entity_id = $1 AND org_id = $2`, entityID, orgID,
	)
	if err != nil {
		return fmt.Errorf("knowledge: delete entity: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return model.NotFound("knowledge entity %s not found", entityID)
	}
	if s.index != nil {
		if err := s.index.DeleteByIDs(ctx, []uuid.UUID{entityID}); err != nil {
			s.logger.Warn("knowledge: ann delete failed", "entity_id", entityID, "error", err)
		}
	}
	return nil
}

// embed wraps the configured provider with singleflight dedup keyed on text.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	v, err, _ := s.embedGroup.Do(text, func() (any, error) {
		return s.embedder.Embed(ctx, text)
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	return v.(pgvector.Vector), nil
}

func (s *Store) scanOne(ctx context.Context, query string, args ...any) (*model.KnowledgeEntity, error) {
	var e model.KnowledgeEntity
	var metadataJSON []byte
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&e.EntityID, &e.OrgID, &e.Domain, &e.KnowledgeType, &e.Title, &e.Content, &metadataJSON,
		&e.Tags, &e.Embedding, &e.ConfidenceScore, &e.AccessCount, &e.CreatedAt, &e.LastAccessed,
		&e.ExpiresAt, &e.RetentionPolicy,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, model.NotFound("knowledge entity not found")
		}
		return nil, fmt.Errorf("knowledge: scan entity: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("knowledge: unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}

// searchByFTS and searchByILIKE mirror the two-tier full-text strategy used
// for decision search: websearch_to_tsquery first (stemming, stop words,
// phrase/exclusion syntax), then an OR-any-term ILIKE fallback when FTS
// returns nothing (typos, partial words, non-English terms).
func (s *Store) searchByKeyword(ctx context.Context, orgID uuid.UUID, query string, q model.SearchQuery, limit int) ([]model.QueryResult, error) {
	results, err := s.searchByFTS(ctx, orgID, query, q, limit)
	if err != nil {
		return s.searchByILIKE(ctx, orgID, query, q, limit)
	}
	if len(results) > 0 {
		return results, nil
	}
	return s.searchByILIKE(ctx, orgID, query, q, limit)
}

func (s *Store) searchByFTS(ctx context.Context, orgID uuid.UUID, query string, q model.SearchQuery, limit int) ([]model.QueryResult, error) {
	where, args := buildWhereClause(orgID, q, 1)
	args = append(args, query)
	qp := len(args)
	where += fmt.Sprintf(` AND search_vector @@ websearch_to_tsquery('english', $%d)`, qp)

	sql := fmt.Sprintf(
		`SELECT entity_id, org_id, domain, knowledge_type, title, content, metadata, tags,
		        confidence_score, access_count, created_at, last_accessed, expires_at, retention_policy,
		        ts_rank(search_vector, websearch_to_tsquery('english', $%d)) AS relevance
		 FROM knowledge_entities%s
		 ORDER BY relevance DESC
		 LIMIT %d`, qp, where, limit,
	)
	return s.execQueryResultQuery(ctx, sql, args, "keyword")
}

func (s *Store) searchByILIKE(ctx context.Context, orgID uuid.UUID, query string, q model.SearchQuery, limit int) ([]model.QueryResult, error) {
	where, args := buildWhereClause(orgID, q, 1)
	words := strings.Fields(query)
	if len(words) > 20 {
		words = words[:20]
	}
	if len(words) == 0 {
		return nil, nil
	}

	var clauses []string
	for _, w := range words {
		args = append(args, "%"+w+"%")
		clauses = append(clauses, fmt.Sprintf("(title ILIKE $%d OR content ILIKE $%d)", len(args), len(args)))
	}
	where += " AND (" + strings.Join(clauses, " OR ") + ")"

	sql := fmt.Sprintf(
		`SELECT entity_id, org_id, domain, knowledge_type, title, content, metadata, tags,
		        confidence_score, access_count, created_at, last_accessed, expires_at, retention_policy,
		        0.5::float8 AS relevance
		 FROM knowledge_entities%s
		 ORDER BY last_accessed DESC
		 LIMIT %d`, where, limit,
	)
	return s.execQueryResultQuery(ctx, sql, args, "keyword")
}

func (s *Store) execQueryResultQuery(ctx context.Context, sql string, args []any, mode string) ([]model.QueryResult, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("knowledge: keyword search: %w", err)
	}
	defer rows.Close()

	var out []model.QueryResult
	for rows.Next() {
		var e model.KnowledgeEntity
		var metadataJSON []byte
		var relevance float64
		if err := rows.Scan(&e.EntityID, &e.OrgID, &e.Domain, &e.KnowledgeType, &e.Title, &e.Content,
			&metadataJSON, &e.Tags, &e.ConfidenceScore, &e.AccessCount, &e.CreatedAt, &e.LastAccessed,
			&e.ExpiresAt, &e.RetentionPolicy, &relevance); err != nil {
			return nil, fmt.Errorf("knowledge: scan keyword result: %w", err)
		}
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &e.Metadata)
		}
		out = append(out, model.QueryResult{
			Entity:          e,
			SimilarityScore: relevance,
			Explanation:     model.Explanation{Mode: mode, KeywordScore: relevance},
		})
	}
	return out, rows.Err()
}

func buildWhereClause(orgID uuid.UUID, q model.SearchQuery, start int) (string, []any) {
	args := []any{orgID}
	where := " WHERE org_id = $1 AND (expires_at IS NULL OR expires_at > now())"
	if q.Domain != nil {
		args = append(args, *q.Domain)
		where += fmt.Sprintf(" AND domain = $%d", len(args))
	}
	if q.KnowledgeType != nil {
		args = append(args, *q.KnowledgeType)
		where += fmt.Sprintf(" AND knowledge_type = $%d", len(args))
	}
	if len(q.Tags) > 0 {
		args = append(args, q.Tags)
		where += fmt.Sprintf(" AND tags && $%d", len(args))
	}
	if q.MaxAgeSeconds != nil {
		args = append(args, *q.MaxAgeSeconds)
		where += fmt.Sprintf(" AND EXTRACT(EPOCH FROM (now() - created_at)) <= $%d", len(args))
	}
	return where, args
}
