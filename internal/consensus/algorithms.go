// Package consensus implements the Consensus Engine: bounded multi-round
// voting across a fixed set of agent participants, with five selectable
// algorithms (spec §4.2). The session/round bookkeeping here mirrors the
// shape of a poll set — add participants, collect votes per round, ask
// whether the round is finished, read the result — the same shape
// luxfi-consensus's poll.Set/poll.Poll interfaces use, expressed fresh
// since that package's module path is private and cannot be imported.
package consensus

import (
	"sort"

	"github.com/compliance-agents/coordination-core/internal/model"
)

// Calculate dispatches to the algorithm named by session.Algorithm, given
// every opinion submitted in the current round.
func Calculate(session *model.ConsensusSession, opinions []model.Opinion) (model.ConsensusResult, error) {
	switch session.Algorithm {
	case model.AlgorithmUnanimous:
		return calculateUnanimous(session, opinions)
	case model.AlgorithmMajority:
		return calculateMajority(session, opinions)
	case model.AlgorithmWeightedMajority:
		return calculateWeightedMajority(session, opinions)
	case model.AlgorithmRankedChoice:
		return calculateRankedChoice(session, opinions)
	case model.AlgorithmQuorum:
		return calculateQuorum(session, opinions)
	default:
		return model.ConsensusResult{}, model.InvalidInput("unknown consensus algorithm %q", session.Algorithm)
	}
}

func participationRatio(session *model.ConsensusSession, opinions []model.Opinion) float64 {
	if len(session.Participants) == 0 {
		return 0
	}
	return float64(len(opinions)) / float64(len(session.Participants))
}

// baseResult seeds a ConsensusResult's session-derived fields and returns
// the round's average opinion confidence alongside it — the caller combines
// the two with AgreementRatio, once known, via withConfidence.
func baseResult(session *model.ConsensusSession, opinions []model.Opinion) (model.ConsensusResult, float64) {
	var confSum float64
	for _, o := range opinions {
		confSum += o.Confidence
	}
	avgConf := 0.0
	if len(opinions) > 0 {
		avgConf = confSum / float64(len(opinions))
	}
	return model.ConsensusResult{
		ConsensusID:        session.ConsensusID,
		ParticipationRatio: participationRatio(session, opinions),
		RoundsUsed:         session.CurrentRound,
	}, avgConf
}

// withConfidence applies the confidence formula — agreement_ratio ×
// participation_ratio × avg_opinion_confidence, capped at 1.0 — once
// result.AgreementRatio has its final value.
func withConfidence(result model.ConsensusResult, avgConf float64) model.ConsensusResult {
	conf := result.AgreementRatio * result.ParticipationRatio * avgConf
	if conf > 1 {
		conf = 1
	}
	result.Confidence = conf
	return result
}

// participantWeights indexes a session's participants by AgentID for
// weight lookups during tie-breaking and weighted tallying.
func participantWeights(session *model.ConsensusSession) map[string]float64 {
	weights := make(map[string]float64, len(session.Participants))
	for _, p := range session.Participants {
		weights[p.AgentID] = p.VotingWeight
	}
	return weights
}

// weightOf returns an agent's configured voting weight, defaulting to 1
// when the agent has no explicit entry (or an explicit weight of 0).
func weightOf(weights map[string]float64, agentID string) float64 {
	if w := weights[agentID]; w != 0 {
		return w
	}
	return 1
}

// tieBreak picks a winner among decisions tied at the top of an
// algorithm's own tally, in the fixed order: (a) greater aggregate voting
// weight, (b) greater aggregate (mean) confidence, (c) lexicographic order
// on the decision string. Returns the winning decision and a trail with one
// labeled entry per stage whose tie carried into the next stage (e.g.
// "weight_tie→confidence"), for ConsensusResult.TieBreakers.
func tieBreak(tied []string, opinions []model.Opinion, weights map[string]float64) (string, []string) {
	if len(tied) == 0 {
		return "", nil
	}
	current := append([]string(nil), tied...)
	sort.Strings(current)
	if len(current) == 1 {
		return current[0], nil
	}

	stages := []struct {
		name  string
		score func(decision string) float64
	}{
		{"weight", func(d string) float64 {
			var sum float64
			for _, o := range opinions {
				if o.Decision == d {
					sum += weightOf(weights, o.AgentID)
				}
			}
			return sum
		}},
		{"confidence", func(d string) float64 {
			var sum float64
			var n int
			for _, o := range opinions {
				if o.Decision == d {
					sum += o.Confidence
					n++
				}
			}
			if n == 0 {
				return 0
			}
			return sum / float64(n)
		}},
	}

	var trail []string
	for i, st := range stages {
		if len(current) == 1 {
			break
		}
		best := 0.0
		var narrowed []string
		for _, d := range current {
			s := st.score(d)
			switch {
			case s > best:
				best = s
				narrowed = []string{d}
			case s == best:
				narrowed = append(narrowed, d)
			}
		}
		sort.Strings(narrowed)
		current = narrowed
		if len(current) > 1 {
			next := "lexicographic"
			if i+1 < len(stages) {
				next = stages[i+1].name
			}
			trail = append(trail, st.name+"_tie→"+next)
		}
	}
	// Lexicographic: current is kept sorted ascending after every stage, so
	// any remaining tie resolves to its first (smallest) member.
	return current[0], trail
}

func tally(opinions []model.Opinion) map[string]int {
	counts := make(map[string]int)
	for _, o := range opinions {
		counts[o.Decision]++
	}
	return counts
}

func topTied(counts map[string]int) (int, []string) {
	best := 0
	for _, c := range counts {
		if c > best {
			best = c
		}
	}
	var tied []string
	for d, c := range counts {
		if c == best {
			tied = append(tied, d)
		}
	}
	sort.Strings(tied)
	return best, tied
}

func calculateUnanimous(session *model.ConsensusSession, opinions []model.Opinion) (model.ConsensusResult, error) {
	result, avgConf := baseResult(session, opinions)
	if len(opinions) == 0 {
		result.Deadlocked = true
		return withConfidence(result, avgConf), nil
	}
	counts := tally(opinions)
	if len(counts) == 1 {
		for d := range counts {
			result.Decision = d
		}
		result.AgreementRatio = 1.0
		return withConfidence(result, avgConf), nil
	}
	result.Deadlocked = true
	return withConfidence(result, avgConf), nil
}

func calculateMajority(session *model.ConsensusSession, opinions []model.Opinion) (model.ConsensusResult, error) {
	result, avgConf := baseResult(session, opinions)
	if len(opinions) == 0 {
		result.Deadlocked = true
		return withConfidence(result, avgConf), nil
	}
	weights := participantWeights(session)
	counts := tally(opinions)
	best, tied := topTied(counts)
	decision, trail := tieBreak(tied, opinions, weights)
	result.Decision = decision
	result.TieBreakers = trail
	result.AgreementRatio = float64(best) / float64(len(opinions))
	if float64(best) <= float64(len(opinions))/2 {
		// No strict majority: still report the plurality winner but flag deadlock
		// unless the session's threshold is satisfied by the plurality share.
		if result.AgreementRatio < session.Threshold {
			result.Deadlocked = true
		}
	}
	return withConfidence(result, avgConf), nil
}

func calculateWeightedMajority(session *model.ConsensusSession, opinions []model.Opinion) (model.ConsensusResult, error) {
	result, avgConf := baseResult(session, opinions)
	if len(opinions) == 0 {
		result.Deadlocked = true
		return withConfidence(result, avgConf), nil
	}
	weights := participantWeights(session)

	weightedCounts := make(map[string]float64)
	var totalWeight float64
	for _, o := range opinions {
		w := weightOf(weights, o.AgentID)
		weightedCounts[o.Decision] += w
		totalWeight += w
	}

	var bestWeight float64
	var tied []string
	for d, w := range weightedCounts {
		if w > bestWeight {
			bestWeight = w
			tied = []string{d}
		} else if w == bestWeight {
			tied = append(tied, d)
		}
	}
	sort.Strings(tied)
	decision, trail := tieBreak(tied, opinions, weights)
	result.Decision = decision
	result.TieBreakers = trail
	if totalWeight > 0 {
		result.AgreementRatio = bestWeight / totalWeight
	}
	if result.AgreementRatio < session.Threshold {
		result.Deadlocked = true
	}
	return withConfidence(result, avgConf), nil
}

// calculateRankedChoice runs instant-runoff elimination using each
// opinion's Ranking() preference order, falling back to its plain Decision
// when no ranking was supplied.
func calculateRankedChoice(session *model.ConsensusSession, opinions []model.Opinion) (model.ConsensusResult, error) {
	result, avgConf := baseResult(session, opinions)
	if len(opinions) == 0 {
		result.Deadlocked = true
		return withConfidence(result, avgConf), nil
	}

	ballots := make([][]string, 0, len(opinions))
	for _, o := range opinions {
		r := o.Ranking()
		if len(r) == 0 {
			r = []string{o.Decision}
		}
		ballots = append(ballots, r)
	}

	eliminated := make(map[string]bool)
	for round := 0; round < len(ballots)+1; round++ {
		counts := make(map[string]int)
		total := 0
		for _, b := range ballots {
			for _, choice := range b {
				if eliminated[choice] {
					continue
				}
				counts[choice]++
				total++
				break
			}
		}
		if total == 0 {
			result.Deadlocked = true
			return withConfidence(result, avgConf), nil
		}
		for d, c := range counts {
			if float64(c) > float64(total)/2 {
				result.Decision = d
				result.AgreementRatio = float64(c) / float64(total)
				return withConfidence(result, avgConf), nil
			}
		}
		// Eliminate the lowest-scoring non-eliminated candidate.
		var worst string
		worstCount := total + 1
		var candidates []string
		for d := range counts {
			candidates = append(candidates, d)
		}
		sort.Strings(candidates)
		for _, d := range candidates {
			if counts[d] < worstCount {
				worstCount = counts[d]
				worst = d
			}
		}
		if worst == "" {
			break
		}
		eliminated[worst] = true
	}

	result.Deadlocked = true
	return withConfidence(result, avgConf), nil
}

func calculateQuorum(session *model.ConsensusSession, opinions []model.Opinion) (model.ConsensusResult, error) {
	result, avgConf := baseResult(session, opinions)
	if len(opinions) < session.MinParticipants {
		result.Deadlocked = true
		return withConfidence(result, avgConf), nil
	}
	// Quorum met: decide by plurality among the opinions that arrived.
	weights := participantWeights(session)
	counts := tally(opinions)
	best, tied := topTied(counts)
	decision, trail := tieBreak(tied, opinions, weights)
	result.Decision = decision
	result.TieBreakers = trail
	result.AgreementRatio = float64(best) / float64(len(opinions))
	return withConfidence(result, avgConf), nil
}
