package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Domain enumerates the compliance domains a KnowledgeEntity belongs to.
type Domain string

const (
	DomainRegulatoryCompliance Domain = "regulatory-compliance"
	DomainTransactionMonitoring Domain = "transaction-monitoring"
	DomainAuditIntelligence    Domain = "audit-intelligence"
	DomainBusinessProcesses    Domain = "business-processes"
	DomainRiskManagement       Domain = "risk-management"
	DomainLegalFrameworks      Domain = "legal-frameworks"
	DomainFinancialInstruments Domain = "financial-instruments"
	DomainMarketIntelligence   Domain = "market-intelligence"
)

var validDomains = map[Domain]bool{
	DomainRegulatoryCompliance: true, DomainTransactionMonitoring: true,
	DomainAuditIntelligence: true, DomainBusinessProcesses: true,
	DomainRiskManagement: true, DomainLegalFrameworks: true,
	DomainFinancialInstruments: true, DomainMarketIntelligence: true,
}

// ValidDomain reports whether d is one of the eight defined domains.
func ValidDomain(d Domain) bool { return validDomains[d] }

// KnowledgeType enumerates the kind of content a KnowledgeEntity holds.
type KnowledgeType string

const (
	KnowledgeFact         KnowledgeType = "fact"
	KnowledgeRule         KnowledgeType = "rule"
	KnowledgePattern      KnowledgeType = "pattern"
	KnowledgeRelationship KnowledgeType = "relationship"
	KnowledgeContext      KnowledgeType = "context"
	KnowledgeExperience   KnowledgeType = "experience"
	KnowledgeDecision     KnowledgeType = "decision"
	KnowledgePrediction   KnowledgeType = "prediction"
)

// RetentionPolicy enumerates how long a KnowledgeEntity survives before expiry.
type RetentionPolicy string

const (
	RetentionEphemeral  RetentionPolicy = "ephemeral"
	RetentionSession    RetentionPolicy = "session"
	RetentionPersistent RetentionPolicy = "persistent"
	RetentionArchival   RetentionPolicy = "archival"
)

// RetentionDuration returns how long an entity with the given policy lives
// from creation, following the baseline durations the store assumes when
// SetRetention is called without an explicit expiry override.
func RetentionDuration(p RetentionPolicy) time.Duration {
	switch p {
	case RetentionEphemeral:
		return time.Hour
	case RetentionSession:
		return 24 * time.Hour
	case RetentionPersistent:
		return 365 * 24 * time.Hour
	case RetentionArchival:
		return 10 * 365 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// KnowledgeEntity is the retrievable unit stored and ranked by VKS.
type KnowledgeEntity struct {
	EntityID        uuid.UUID        `json:"entity_id"`
	OrgID           uuid.UUID        `json:"org_id"`
	Domain          Domain           `json:"domain"`
	KnowledgeType   KnowledgeType    `json:"knowledge_type"`
	Title           string           `json:"title"`
	Content         string           `json:"content"`
	Metadata        map[string]any   `json:"metadata"`
	Tags            []string         `json:"tags"`
	Embedding       *pgvector.Vector `json:"-"`
	ConfidenceScore float32          `json:"confidence_score"`
	AccessCount     int64            `json:"access_count"`
	CreatedAt       time.Time        `json:"created_at"`
	LastAccessed    time.Time        `json:"last_accessed"`
	ExpiresAt       time.Time        `json:"expires_at"`
	RetentionPolicy RetentionPolicy  `json:"retention_policy"`
}

// ClampConfidence clamps a confidence score into [0,1], as every update path
// must (spec §3 invariant).
func ClampConfidence(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// KnowledgeRelationship is a directed labelled edge between two entities.
type KnowledgeRelationship struct {
	SourceID         uuid.UUID      `json:"source_id"`
	TargetID         uuid.UUID      `json:"target_id"`
	RelationshipType string         `json:"relationship_type"`
	Properties       map[string]any `json:"properties"`
	CreatedAt        time.Time      `json:"created_at"`
}

// SimilarityMetric enumerates the supported vector similarity functions.
type SimilarityMetric string

const (
	MetricCosine    SimilarityMetric = "cosine"
	MetricEuclidean SimilarityMetric = "euclidean"
	MetricDot       SimilarityMetric = "dot"
	MetricManhattan SimilarityMetric = "manhattan"
)

// SearchQuery is the input to VKS.SemanticSearch.
type SearchQuery struct {
	Text               string
	Domain             *Domain
	KnowledgeType      *KnowledgeType
	Tags               []string
	MaxAgeSeconds      *int64
	Metric             SimilarityMetric
	SimilarityThreshold float64
	MaxResults         int
}

// QueryResult is one ranked hit from a VKS search.
type QueryResult struct {
	Entity          KnowledgeEntity `json:"entity"`
	SimilarityScore float64         `json:"similarity_score"`
	MatchedTerms    []string        `json:"matched_terms"`
	Explanation     Explanation     `json:"explanation"`
}

// Explanation documents how a QueryResult's score was derived.
type Explanation struct {
	Mode           string  `json:"mode"` // "embedding", "hashing-fallback", "keyword", "hybrid"
	VectorScore    float64 `json:"vector_score,omitempty"`
	KeywordScore   float64 `json:"keyword_score,omitempty"`
	Metric         string  `json:"metric,omitempty"`
	Notes          string  `json:"notes,omitempty"`
}

// HybridSearchConfig tunes the weighted combination in VKS.HybridSearch.
type HybridSearchConfig struct {
	VectorWeight  float64 // w_v, default 0.6
	KeywordWeight float64 // w_k, default 0.4
	SimilarityThreshold float64
	MaxResults    int
	Domain        *Domain
	KnowledgeType *KnowledgeType
}

// DefaultHybridSearchConfig returns the spec default weights (§4.4).
func DefaultHybridSearchConfig() HybridSearchConfig {
	return HybridSearchConfig{VectorWeight: 0.6, KeywordWeight: 0.4, MaxResults: 10}
}

// LearningInteraction records a learn_from_interaction call for audit and
// for nudging an entity's confidence.
type LearningInteraction struct {
	ID         uuid.UUID `json:"id"`
	OrgID      uuid.UUID `json:"org_id"`
	Query      string    `json:"query"`
	SelectedID uuid.UUID `json:"selected_entity_id"`
	Reward     float64   `json:"reward"`
	ObservedAt time.Time `json:"observed_at"`
}

// DecisionContextResult is returned by VKS.GetContextForDecision.
type DecisionContextResult struct {
	Entities         []KnowledgeEntity `json:"entities"`
	DecisionPatterns map[string]any    `json:"decision_patterns"`
}
