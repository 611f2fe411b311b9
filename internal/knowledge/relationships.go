package knowledge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/compliance-agents/coordination-core/internal/model"
)

// AddRelationship records a directed, labelled edge between two entities
// owned by the same org. Both endpoints must already exist.
func (s *Store) AddRelationship(ctx context.Context, orgID uuid.UUID, rel model.KnowledgeRelationship) error {
	var sourceOK, targetOK bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM knowledge_entities WHERE entity_id = $1 AND org_id = $2)`,
		rel.SourceID, orgID,
	).Scan(&sourceOK); err != nil {
		return fmt.Errorf("knowledge: check relationship source: %w", err)
	}
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM knowledge_entities WHERE entity_id = $1 AND org_id = $2)`,
		rel.TargetID, orgID,
	).Scan(&targetOK); err != nil {
		return fmt.Errorf("knowledge: check relationship target: %w", err)
	}
	if !sourceOK || !targetOK {
		return model.InvalidInput("both source %s and target %s must exist in org %s", rel.SourceID, rel.TargetID, orgID)
	}

	propsJSON, err := json.Marshal(rel.Properties)
	if err != nil {
		return fmt.Errorf("knowledge: marshal relationship properties: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO knowledge_relationships (source_id, target_id, relationship_type, properties, created_at)
		 VALUES ($1,$2,$3,$4,now())
		 ON CONFLICT (source_id, target_id, relationship_type) DO UPDATE SET properties = EXCLUDED.properties`,
		rel.SourceID, rel.TargetID, rel.RelationshipType, propsJSON,
	)
	if err != nil {
		return fmt.Errorf("knowledge: insert relationship: %w", err)
	}
	return nil
}

// RelatedEntities performs a breadth-first traversal of the relationship
// graph starting at entityID, up to maxDepth hops, and returns the entities
// reached (entityID itself excluded). relationshipType, when non-empty,
// restricts traversal to edges of that type.
func (s *Store) RelatedEntities(ctx context.Context, orgID, entityID uuid.UUID, relationshipType string, maxDepth int) ([]model.KnowledgeEntity, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}

	visited := map[uuid.UUID]bool{entityID: true}
	frontier := []uuid.UUID{entityID}
	var foundIDs []uuid.UUID

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		next, err := s.neighbors(ctx, frontier, relationshipType)
		if err != nil {
			return nil, err
		}
		var nextFrontier []uuid.UUID
		for _, id := range next {
			if visited[id] {
				continue
			}
			visited[id] = true
			foundIDs = append(foundIDs, id)
			nextFrontier = append(nextFrontier, id)
		}
		frontier = nextFrontier
	}

	if len(foundIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT entity_id, org_id, domain, knowledge_type, title, content, metadata, tags,
		        embedding, confidence_score, access_count, created_at, last_accessed,
		        expires_at, retention_policy
		 FROM knowledge_entities WHERE entity_id = ANY($1) AND org_id = $2`,
		foundIDs, orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("knowledge: fetch related entities: %w", err)
	}
	defer rows.Close()

	var out []model.KnowledgeEntity
	for rows.Next() {
		var e model.KnowledgeEntity
		var metadataJSON []byte
		if err := rows.Scan(&e.EntityID, &e.OrgID, &e.Domain, &e.KnowledgeType, &e.Title, &e.Content,
			&metadataJSON, &e.Tags, &e.Embedding, &e.ConfidenceScore, &e.AccessCount, &e.CreatedAt,
			&e.LastAccessed, &e.ExpiresAt, &e.RetentionPolicy); err != nil {
			return nil, fmt.Errorf("knowledge: scan related entity: %w", err)
		}
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) neighbors(ctx context.Context, ids []uuid.UUID, relationshipType string) ([]uuid.UUID, error) {
	var rows pgx.Rows
	var err error
	if relationshipType != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT target_id FROM knowledge_relationships WHERE source_id = ANY($1) AND relationship_type = $2
			 UNION
			 SELECT source_id FROM knowledge_relationships WHERE target_id = ANY($1) AND relationship_type = $2`,
			ids, relationshipType,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT target_id FROM knowledge_relationships WHERE source_id = ANY($1)
			 UNION
			 SELECT source_id FROM knowledge_relationships WHERE target_id = ANY($1)`,
			ids,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("knowledge: query neighbors: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("knowledge: scan neighbor: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
