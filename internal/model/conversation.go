package model

import (
	"time"

	"github.com/google/uuid"
)

// ConversationState is a node in the CM state machine (spec §4.3).
type ConversationState string

const (
	ConvInitializing       ConversationState = "initializing"
	ConvActive             ConversationState = "active"
	ConvWaitingForResponse ConversationState = "waiting_for_response"
	ConvConflictDetected   ConversationState = "conflict_detected"
	ConvResolvingConflict  ConversationState = "resolving_conflict"
	ConvConsensusReached   ConversationState = "consensus_reached"
	ConvDeadlock           ConversationState = "deadlock"
	ConvCompleted          ConversationState = "completed"
	ConvTimeout            ConversationState = "timeout"
	ConvCancelled          ConversationState = "cancelled"
)

// Terminal reports whether s has no further transitions.
func (s ConversationState) Terminal() bool {
	switch s {
	case ConvCompleted, ConvTimeout, ConvCancelled, ConvConsensusReached, ConvDeadlock:
		return true
	default:
		return false
	}
}

// conversationEdges enumerates the allowed state transitions (spec §4.3).
var conversationEdges = map[ConversationState]map[ConversationState]bool{
	ConvInitializing: {
		ConvActive: true,
	},
	ConvActive: {
		ConvWaitingForResponse: true,
		ConvConflictDetected:   true,
		ConvCompleted:          true,
		ConvTimeout:            true,
		ConvCancelled:          true,
	},
	ConvWaitingForResponse: {
		ConvActive:    true,
		ConvTimeout:   true,
		ConvCancelled: true,
	},
	ConvConflictDetected: {
		ConvResolvingConflict: true,
	},
	ConvResolvingConflict: {
		ConvActive:           true,
		ConvConsensusReached: true,
		ConvDeadlock:         true,
	},
}

// CanTransition reports whether a move from `from` to `to` is permitted.
func CanTransition(from, to ConversationState) bool {
	if from.Terminal() {
		return false
	}
	return conversationEdges[from][to]
}

// Participant is one agent seated in a conversation.
type Participant struct {
	AgentID         string    `json:"agent_id"`
	Role            string    `json:"role"`
	ExpertiseWeight float64   `json:"expertise_weight"`
	DomainSpecialty string    `json:"domain_specialty"`
	JoinedAt        time.Time `json:"joined_at"`
	LastActive      time.Time `json:"last_active"`
}

// ConversationContext is the mutable state of a running conversation.
type ConversationContext struct {
	ConversationID  uuid.UUID         `json:"conversation_id"`
	OrgID           uuid.UUID         `json:"org_id"`
	Topic           string            `json:"topic"`
	Objective       string            `json:"objective"`
	State           ConversationState `json:"state"`
	Participants    []Participant     `json:"participants"`
	MessageHistory  []Message         `json:"message_history"`
	Conflicts       []Conflict        `json:"conflicts"`
	StartedAt       time.Time         `json:"started_at"`
	LastActivity    time.Time         `json:"last_activity"`
	TimeoutDuration time.Duration     `json:"timeout_duration"`
	Metadata        map[string]any    `json:"metadata"`

	// PendingRespondents holds the agent IDs the mediator is waiting on
	// while State == ConvWaitingForResponse. Sends from agents not in this
	// set still enter MessageHistory but do not advance the state machine.
	PendingRespondents []string `json:"pending_respondents,omitempty"`
	Protocol           string   `json:"protocol,omitempty"`
}

// ParticipantByID returns the participant with the given agent ID, or false.
func (c *ConversationContext) ParticipantByID(agentID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.AgentID == agentID {
			return p, true
		}
	}
	return Participant{}, false
}

// ConflictType enumerates the CM conflict taxonomy (spec §4.3).
type ConflictType string

const (
	ConflictContradictoryResponses ConflictType = "contradictory_responses"
	ConflictResource               ConflictType = "resource_conflict"
	ConflictPriority               ConflictType = "priority_conflict"
	ConflictTiming                 ConflictType = "timing_conflict"
	ConflictProtocolMismatch       ConflictType = "protocol_mismatch"
	ConflictConsensusFailure       ConflictType = "consensus_failure"
	ConflictExternalConstraint     ConflictType = "external_constraint"
)

// ResolutionStrategy enumerates the CM resolution strategies (spec §4.3).
type ResolutionStrategy string

const (
	StrategyMajorityVote      ResolutionStrategy = "majority_vote"
	StrategyWeightedVote      ResolutionStrategy = "weighted_vote"
	StrategyExpertArbitration ResolutionStrategy = "expert_arbitration"
	StrategyCompromise        ResolutionStrategy = "compromise_negotiation"
	StrategyEscalation        ResolutionStrategy = "escalation"
	StrategyExternalMediation ResolutionStrategy = "external_mediation"
	StrategyTimeoutAbort      ResolutionStrategy = "timeout_abort"
	StrategyManualOverride    ResolutionStrategy = "manual_override"
)

// Conflict is a detected semantic incompatibility among conversation messages.
type Conflict struct {
	ConflictID         uuid.UUID           `json:"conflict_id"`
	ConversationID     uuid.UUID           `json:"conversation_id"`
	Type               ConflictType        `json:"type"`
	Description        string              `json:"description"`
	InvolvedAgents     []string            `json:"involved_agents"`
	StrategyUsed       *ResolutionStrategy `json:"strategy_used,omitempty"`
	ResolvedSuccessfully *bool             `json:"resolved_successfully,omitempty"`
	ResolutionSummary  *string             `json:"resolution_summary,omitempty"`
	Explanation        *string             `json:"explanation,omitempty"`
	DetectedAt         time.Time           `json:"detected_at"`
	ResolvedAt         *time.Time          `json:"resolved_at,omitempty"`
}

// MediationResult is returned by CM.Resolve.
type MediationResult struct {
	ConflictID      uuid.UUID          `json:"conflict_id"`
	Strategy        ResolutionStrategy `json:"strategy"`
	Success         bool               `json:"success"`
	Decision        string             `json:"decision,omitempty"`
	AgreementRatio  float64            `json:"agreement_ratio,omitempty"`
	Summary         string             `json:"summary"`
}
