package model

import "time"

// ConsensusAlgorithm enumerates the five CE voting algorithms (spec §4.2).
type ConsensusAlgorithm string

const (
	AlgorithmUnanimous        ConsensusAlgorithm = "unanimous"
	AlgorithmMajority         ConsensusAlgorithm = "majority"
	AlgorithmWeightedMajority ConsensusAlgorithm = "weighted_majority"
	AlgorithmRankedChoice     ConsensusAlgorithm = "ranked_choice"
	AlgorithmQuorum           ConsensusAlgorithm = "quorum"
)

// ConsensusState is the lifecycle state of a ConsensusSession.
type ConsensusState string

const (
	ConsensusOpen         ConsensusState = "open"
	ConsensusRoundOpen    ConsensusState = "round_open"
	ConsensusRoundTimeout ConsensusState = "round_timeout"
	ConsensusDecided      ConsensusState = "decided"
	ConsensusDeadlock     ConsensusState = "deadlock"
	ConsensusCancelled    ConsensusState = "cancelled"
)

func (s ConsensusState) Terminal() bool {
	switch s {
	case ConsensusDecided, ConsensusDeadlock, ConsensusCancelled:
		return true
	default:
		return false
	}
}

// ConsensusParticipant is one voter in a ConsensusSession.
type ConsensusParticipant struct {
	AgentID      string  `json:"agent_id"`
	VotingWeight float64 `json:"voting_weight"`
}

// ConsensusConfig is the input to Engine.Initiate.
type ConsensusConfig struct {
	Topic               string                 `json:"topic"`
	Algorithm           ConsensusAlgorithm     `json:"algorithm"`
	Participants        []ConsensusParticipant `json:"participants"`
	MinParticipants     int                    `json:"min_participants"`
	Threshold           float64                `json:"threshold"`
	TimeoutPerRound      time.Duration          `json:"timeout_per_round"`
	MaxRounds           int                    `json:"max_rounds"`
	RequireJustification bool                  `json:"require_justification"`
}

// ConsensusSession is a bounded multi-round voting process.
type ConsensusSession struct {
	ConsensusID  string             `json:"consensus_id"`
	Topic        string             `json:"topic"`
	Algorithm    ConsensusAlgorithm `json:"algorithm"`
	Participants []ConsensusParticipant `json:"participants"`
	MinParticipants int             `json:"min_participants"`
	Threshold    float64            `json:"threshold"`
	TimeoutPerRound time.Duration   `json:"timeout_per_round"`
	MaxRounds    int                `json:"max_rounds"`
	RequireJustification bool       `json:"require_justification"`
	State        ConsensusState     `json:"state"`
	CurrentRound int                `json:"current_round"`
	RoundsUsed   int                `json:"rounds_used"`
	RoundStartedAt time.Time        `json:"round_started_at"`
	Result       *ConsensusResult   `json:"result,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Opinion is one participant's vote in one round.
type Opinion struct {
	ConsensusID    string         `json:"consensus_id"`
	Round          int            `json:"round"`
	AgentID        string         `json:"agent_id"`
	Decision       string         `json:"decision"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
	SupportingData map[string]any `json:"supporting_data"`
	SubmittedAt    time.Time      `json:"submitted_at"`
}

// Ranking extracts the ranked-choice preference order from SupportingData,
// if present (key "ranking", a []string of decision labels, most preferred
// first). Returns nil if absent.
func (o Opinion) Ranking() []string {
	raw, ok := o.SupportingData["ranking"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ConsensusResult is the outcome of Engine.Calculate.
type ConsensusResult struct {
	ConsensusID      string   `json:"consensus_id"`
	Decision         string   `json:"decision"`
	Confidence       float64  `json:"confidence"`
	AgreementRatio   float64  `json:"agreement_ratio"`
	ParticipationRatio float64 `json:"participation_ratio"`
	RoundsUsed       int      `json:"rounds_used"`
	TieBreakers      []string `json:"tie_breakers"`
	Deadlocked       bool     `json:"deadlocked"`
}
