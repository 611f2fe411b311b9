package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/compliance-agents/coordination-core/internal/model"
)

// IndexConfig holds configuration for connecting to Qdrant.
type IndexConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dims       uint64
}

// EntityPoint is the data needed to upsert a single knowledge entity.
type EntityPoint struct {
	Entity model.KnowledgeEntity
}

// VectorHit is a raw ANN hit: an entity ID and its similarity score. The
// caller hydrates the full entity from Postgres (source of truth).
type VectorHit struct {
	EntityID uuid.UUID
	Score    float32
}

// Index implements ANN search over knowledge entity embeddings backed by
// Qdrant Cloud, adapted from the search outbox's decision index: the
// payload fields change (org_id/domain/knowledge_type/tags instead of
// org_id/agent_id/decision_type) but the collection lifecycle, filter
// construction, and health-check caching are the same shape.
type Index struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	logger     *slog.Logger

	healthMu  sync.Mutex
	lastCheck time.Time
	lastErr   error
}

func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("knowledge: invalid qdrant URL: %q", rawURL)
	}
	useTLS = u.Scheme == "https"
	host = u.Hostname()
	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("knowledge: invalid port in qdrant URL: %q", portStr)
		}
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}
	return host, port, useTLS, nil
}

// NewIndex connects to Qdrant via gRPC.
func NewIndex(cfg IndexConfig, logger *slog.Logger) (*Index, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: connect to qdrant at %s:%d: %w", host, port, err)
	}
	return &Index{client: client, collection: cfg.Collection, dims: cfg.Dims, logger: logger}, nil
}

// EnsureCollection creates the collection with cosine-distance HNSW if it
// doesn't already exist, plus payload indexes for the fields SemanticSearch
// filters on.
func (x *Index) EnsureCollection(ctx context.Context) error {
	exists, err := x.client.CollectionExists(ctx, x.collection)
	if err != nil {
		return fmt.Errorf("knowledge: check collection exists: %w", err)
	}
	if exists {
		x.logger.Info("knowledge: ann collection already exists", "collection", x.collection)
		return nil
	}

	m := uint64(16)
	efConstruct := uint64(128)
	err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     x.dims,
			Distance: qdrant.Distance_Cosine,
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           &m,
				EfConstruct: &efConstruct,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("knowledge: create collection %q: %w", x.collection, err)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{"org_id", "domain", "knowledge_type", "tags"} {
		if _, err := x.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: x.collection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("knowledge: create index on %q: %w", field, err)
		}
	}
	floatType := qdrant.FieldType_FieldTypeFloat
	if _, err := x.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: x.collection,
		FieldName:      "confidence_score",
		FieldType:      &floatType,
	}); err != nil {
		return fmt.Errorf("knowledge: create index on confidence_score: %w", err)
	}

	x.logger.Info("knowledge: created ann collection with payload indexes", "collection", x.collection, "dims", x.dims)
	return nil
}

// Search queries Qdrant for entities matching embedding, org-scoped and
// optionally filtered by domain/knowledge type/tags. Over-fetches limit*3
// so the caller can re-rank (e.g. HybridSearch blending in keyword score).
func (x *Index) Search(ctx context.Context, orgID uuid.UUID, embedding []float32, q model.SearchQuery, limit int) ([]VectorHit, error) {
	must := []*qdrant.Condition{qdrant.NewMatch("org_id", orgID.String())}
	if q.Domain != nil {
		must = append(must, qdrant.NewMatch("domain", string(*q.Domain)))
	}
	if q.KnowledgeType != nil {
		must = append(must, qdrant.NewMatch("knowledge_type", string(*q.KnowledgeType)))
	}
	for _, tag := range q.Tags {
		must = append(must, qdrant.NewMatch("tags", tag))
	}

	fetchLimit := uint64(limit) * 3 //nolint:gosec // limit is bounded by caller
	scored, err := x.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          qdrant.NewQueryDense(embedding),
		Filter:         &qdrant.Filter{Must: must},
		Limit:          &fetchLimit,
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: qdrant query: %w", err)
	}

	hits := make([]VectorHit, 0, len(scored))
	for _, sp := range scored {
		idStr := sp.Id.GetUuid()
		if idStr == "" {
			continue
		}
		entityID, err := uuid.Parse(idStr)
		if err != nil {
			x.logger.Warn("knowledge: invalid UUID in point ID", "id", idStr)
			continue
		}
		hits = append(hits, VectorHit{EntityID: entityID, Score: sp.Score})
	}
	return hits, nil
}

// Upsert inserts or updates entity points in Qdrant.
func (x *Index) Upsert(ctx context.Context, points []EntityPoint) error {
	if len(points) == 0 {
		return nil
	}
	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if p.Entity.Embedding == nil {
			continue
		}
		payload := map[string]any{
			"org_id":           p.Entity.OrgID.String(),
			"domain":           string(p.Entity.Domain),
			"knowledge_type":   string(p.Entity.KnowledgeType),
			"tags":             p.Entity.Tags,
			"confidence_score": float64(p.Entity.ConfidenceScore),
		}
		qdrantPoints = append(qdrantPoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.Entity.EntityID.String()),
			Vectors: qdrant.NewVectorsDense(p.Entity.Embedding.Slice()),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	if len(qdrantPoints) == 0 {
		return nil
	}
	_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("knowledge: qdrant upsert %d points: %w", len(qdrantPoints), err)
	}
	return nil
}

// DeleteByIDs removes specific points from Qdrant by entity ID.
func (x *Index) DeleteByIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(id.String())
	}
	_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: x.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("knowledge: qdrant delete %d points: %w", len(ids), err)
	}
	return nil
}

// DeleteByOrg removes all points for an organization.
func (x *Index) DeleteByOrg(ctx context.Context, orgID uuid.UUID) error {
	_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: x.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("org_id", orgID.String())}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("knowledge: qdrant delete by org %s: %w", orgID, err)
	}
	return nil
}

// Healthy returns nil if Qdrant is reachable, caching the result for 5s.
func (x *Index) Healthy(ctx context.Context) error {
	x.healthMu.Lock()
	defer x.healthMu.Unlock()
	if time.Since(x.lastCheck) < 5*time.Second {
		return x.lastErr
	}
	_, err := x.client.HealthCheck(ctx)
	x.lastCheck = time.Now()
	if err != nil {
		x.lastErr = fmt.Errorf("knowledge: qdrant unhealthy: %w", err)
	} else {
		x.lastErr = nil
	}
	return x.lastErr
}

// Close shuts down the Qdrant gRPC connection.
func (x *Index) Close() error {
	return x.client.Close()
}
