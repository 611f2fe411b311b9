package model

import (
	"time"

	"github.com/google/uuid"
)

// Urgency is the caller-supplied urgency class for a decision request,
// used by the orchestrator to pick timeout and escalation behavior.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// UrgencyTimeout returns the default per-urgency decision timeout the
// orchestrator falls back to when a caller does not supply one.
func UrgencyTimeout(u Urgency) time.Duration {
	switch u {
	case UrgencyCritical:
		return 5 * time.Second
	case UrgencyHigh:
		return 15 * time.Second
	case UrgencyMedium:
		return 60 * time.Second
	case UrgencyLow:
		return 5 * time.Minute
	default:
		return 60 * time.Second
	}
}

// DecisionRequest is the input to Orchestrator.MakeDecision. OrgID is set by
// the orchestrator itself from the caller's own org scope before the request
// reaches a Handler, so agent implementations never need to accept it as a
// separate argument to look up org-scoped knowledge.
type DecisionRequest struct {
	OrgID         uuid.UUID      `json:"org_id"`
	AgentType     string         `json:"agent_type"`
	DecisionType  string         `json:"decision_type"`
	Urgency       Urgency        `json:"urgency"`
	InputContext  map[string]any `json:"input_context"`
	RequireReview bool           `json:"require_human_review"`
}

// AgentDecision is the output of Orchestrator.MakeDecision, and the shape
// persisted for audit and replayed back into VKS as experience.
type AgentDecision struct {
	DecisionID         uuid.UUID      `json:"decision_id"`
	AgentID            string         `json:"agent_id"`
	Type               string         `json:"type"`
	Urgency            Urgency        `json:"urgency"`
	Confidence         float64        `json:"confidence"`
	Reasoning          string         `json:"reasoning"`
	RecommendedActions []string       `json:"recommended_actions"`
	InputContext       map[string]any `json:"input_context"`
	Output             map[string]any `json:"output"`
	Timestamp          time.Time      `json:"timestamp"`
	RequiresHumanReview bool          `json:"requires_human_review"`
}

// FeedbackType enumerates the kind of signal a LearningFeedback carries.
type FeedbackType string

const (
	FeedbackOutcome    FeedbackType = "outcome"
	FeedbackCorrection FeedbackType = "correction"
	FeedbackRating     FeedbackType = "rating"
)

// LearningFeedback is the input to Orchestrator.IncorporateFeedback: an
// observed outcome for a previously made AgentDecision, fed back into VKS
// as experience and correlated against the agent's decision history.
type LearningFeedback struct {
	DecisionID       uuid.UUID    `json:"decision_id"`
	Type             FeedbackType `json:"type"`
	Score            float64      `json:"score"` // [-1, 1], negative is a correction
	Notes            string       `json:"notes"`
	AppliedEntityIDs []uuid.UUID  `json:"applied_entity_ids"`
	ObservedAt       time.Time    `json:"observed_at"`
}

// AgentSpec configures one agent variant the orchestrator can instantiate.
type AgentSpec struct {
	AgentType      string         `json:"agent_type"`
	InitStrategy   string         `json:"init_strategy"` // "lazy", "eager"
	Config         map[string]any `json:"config"`
	FailFast       bool           `json:"fail_fast"`
	MaxConcurrency int            `json:"max_concurrency"`
}

// AgentHealth is one agent's entry in the AO system health snapshot.
type AgentHealth struct {
	AgentType       string  `json:"agent_type"`
	Initialized     bool    `json:"initialized"`
	CircuitState    string  `json:"circuit_state"` // "closed", "open", "half-open"
	DecisionsServed int64   `json:"decisions_served"`
	FailureRate     float64 `json:"failure_rate"`
	LastError       string  `json:"last_error,omitempty"`
}

// SystemHealth is returned by Orchestrator.GetSystemHealth, aggregating
// every component the orchestrator fronts.
type SystemHealth struct {
	Agents       []AgentHealth `json:"agents"`
	BusStats     BusStats      `json:"bus_stats"`
	Healthy      bool          `json:"healthy"`
	CheckedAt    time.Time     `json:"checked_at"`
}
