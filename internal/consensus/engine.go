package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/compliance-agents/coordination-core/internal/model"
)

// Engine is the Consensus Engine: it owns the lifecycle of bounded,
// multi-round voting sessions and persists sessions, rounds, and opinions
// to Postgres so a crash mid-round does not lose submitted votes.
type Engine struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates an Engine backed by pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Engine {
	return &Engine{pool: pool, logger: logger}
}

// Initiate opens a new consensus session in round 1.
func (e *Engine) Initiate(ctx context.Context, orgID uuid.UUID, cfg model.ConsensusConfig) (*model.ConsensusSession, error) {
	if len(cfg.Participants) == 0 {
		return nil, model.InvalidInput("consensus requires at least one participant")
	}
	if cfg.MinParticipants <= 0 {
		cfg.MinParticipants = len(cfg.Participants)
	}
	if cfg.MinParticipants > len(cfg.Participants) {
		return nil, model.InvalidInput("min_participants %d exceeds participant count %d", cfg.MinParticipants, len(cfg.Participants))
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 1
	}
	if cfg.TimeoutPerRound <= 0 {
		cfg.TimeoutPerRound = 30 * time.Second
	}

	session := &model.ConsensusSession{
		ConsensusID:          uuid.NewString(),
		Topic:                cfg.Topic,
		Algorithm:            cfg.Algorithm,
		Participants:         cfg.Participants,
		MinParticipants:      cfg.MinParticipants,
		Threshold:            cfg.Threshold,
		TimeoutPerRound:      cfg.TimeoutPerRound,
		MaxRounds:            cfg.MaxRounds,
		RequireJustification: cfg.RequireJustification,
		State:                model.ConsensusRoundOpen,
		CurrentRound:         1,
		RoundStartedAt:       time.Now(),
		CreatedAt:            time.Now(),
	}

	participantsJSON, err := json.Marshal(session.Participants)
	if err != nil {
		return nil, fmt.Errorf("consensus: marshal participants: %w", err)
	}

	_, err = e.pool.Exec(ctx,
		`INSERT INTO consensus_sessions
		 (consensus_id, org_id, topic, algorithm, participants, min_participants, threshold,
		  timeout_per_round, max_rounds, require_justification, state, current_round,
		  rounds_used, round_started_at, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,0,$13,$14)`,
		session.ConsensusID, orgID, session.Topic, session.Algorithm, participantsJSON,
		session.MinParticipants, session.Threshold, session.TimeoutPerRound, session.MaxRounds,
		session.RequireJustification, session.State, session.CurrentRound,
		session.RoundStartedAt, session.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("consensus: insert session: %w", err)
	}
	return session, nil
}

// SubmitOpinion records a participant's vote for the session's current
// round. Submitting after the session has decided, deadlocked, or been
// cancelled is a state conflict; submitting from an agent not seated as a
// participant is invalid input.
func (e *Engine) SubmitOpinion(ctx context.Context, orgID uuid.UUID, op model.Opinion) error {
	session, err := e.GetSession(ctx, orgID, op.ConsensusID)
	if err != nil {
		return err
	}
	if session.State.Terminal() {
		return model.StateConflict("consensus %s is already in terminal state %s", op.ConsensusID, session.State)
	}
	seated := false
	for _, p := range session.Participants {
		if p.AgentID == op.AgentID {
			seated = true
			break
		}
	}
	if !seated {
		return model.InvalidInput("agent %q is not a participant in consensus %s", op.AgentID, op.ConsensusID)
	}
	if session.RequireJustification && op.Reasoning == "" {
		return model.InvalidInput("reasoning is required for this consensus session")
	}
	if op.Round != session.CurrentRound {
		return model.StateConflict("consensus %s is on round %d, got opinion for round %d", op.ConsensusID, session.CurrentRound, op.Round)
	}

	supportingJSON, err := json.Marshal(op.SupportingData)
	if err != nil {
		return fmt.Errorf("consensus: marshal supporting data: %w", err)
	}
	op.SubmittedAt = time.Now()

	_, err = e.pool.Exec(ctx,
		`INSERT INTO consensus_opinions
		 (consensus_id, round, agent_id, decision, confidence, reasoning, supporting_data, submitted_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (consensus_id, round, agent_id) DO UPDATE
		   SET decision = EXCLUDED.decision, confidence = EXCLUDED.confidence,
		       reasoning = EXCLUDED.reasoning, supporting_data = EXCLUDED.supporting_data,
		       submitted_at = EXCLUDED.submitted_at`,
		op.ConsensusID, op.Round, op.AgentID, op.Decision, op.Confidence, op.Reasoning,
		supportingJSON, op.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("consensus: insert opinion: %w", err)
	}
	return nil
}

// EndRound calculates the result for the session's current round. If the
// round decides, decided, the session moves to terminal state. If it does
// not decide and rounds remain, a new round opens; if rounds are exhausted,
// the session deadlocks.
func (e *Engine) EndRound(ctx context.Context, orgID uuid.UUID, consensusID string) (*model.ConsensusResult, error) {
	session, err := e.GetSession(ctx, orgID, consensusID)
	if err != nil {
		return nil, err
	}
	if session.State.Terminal() {
		return session.Result, model.StateConflict("consensus %s already in terminal state %s", consensusID, session.State)
	}

	opinions, err := e.opinionsForRound(ctx, consensusID, session.CurrentRound)
	if err != nil {
		return nil, err
	}

	result, err := Calculate(session, opinions)
	if err != nil {
		return nil, err
	}
	result.ConsensusID = consensusID

	var nextState model.ConsensusState
	roundsUsed := session.CurrentRound
	switch {
	case !result.Deadlocked:
		nextState = model.ConsensusDecided
	case session.CurrentRound >= session.MaxRounds:
		nextState = model.ConsensusDeadlock
	default:
		nextState = model.ConsensusRoundOpen
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("consensus: marshal result: %w", err)
	}

	if nextState == model.ConsensusRoundOpen {
		_, err = e.pool.Exec(ctx,
			`UPDATE consensus_sessions
			 SET state = $1, current_round = current_round + 1, rounds_used = $2, round_started_at = now()
			 WHERE consensus_id = $3`,
			nextState, roundsUsed, consensusID,
		)
	} else {
		_, err = e.pool.Exec(ctx,
			`UPDATE consensus_sessions
			 SET state = $1, rounds_used = $2, result = $3
			 WHERE consensus_id = $4`,
			nextState, roundsUsed, resultJSON, consensusID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("consensus: update session after round: %w", err)
	}

	return &result, nil
}

// Cancel moves a session to the terminal cancelled state.
func (e *Engine) Cancel(ctx context.Context, orgID uuid.UUID, consensusID string) error {
	session, err := e.GetSession(ctx, orgID, consensusID)
	if err != nil {
		return err
	}
	if session.State.Terminal() {
		return model.StateConflict("consensus %s already in terminal state %s", consensusID, session.State)
	}
	_, err = e.pool.Exec(ctx,
		`UPDATE consensus_sessions SET state = $1 WHERE consensus_id = $2`,
		model.ConsensusCancelled, consensusID,
	)
	if err != nil {
		return fmt.Errorf("consensus: cancel: %w", err)
	}
	return nil
}

// GetSession fetches a session by ID, scoped to orgID.
func (e *Engine) GetSession(ctx context.Context, orgID uuid.UUID, consensusID string) (*model.ConsensusSession, error) {
	var s model.ConsensusSession
	var participantsJSON, resultJSON []byte
	err := e.pool.QueryRow(ctx,
		`SELECT consensus_id, topic, algorithm, participants, min_participants, threshold,
		        timeout_per_round, max_rounds, require_justification, state, current_round,
		        rounds_used, round_started_at, result, created_at
		 FROM consensus_sessions WHERE consensus_id = $1 AND org_id = $2`,
		consensusID, orgID,
	).Scan(&s.ConsensusID, &s.Topic, &s.Algorithm, &participantsJSON, &s.MinParticipants,
		&s.Threshold, &s.TimeoutPerRound, &s.MaxRounds, &s.RequireJustification, &s.State,
		&s.CurrentRound, &s.RoundsUsed, &s.RoundStartedAt, &resultJSON, &s.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, model.NotFound("consensus session %s not found", consensusID)
		}
		return nil, fmt.Errorf("consensus: get session: %w", err)
	}
	if len(participantsJSON) > 0 {
		if err := json.Unmarshal(participantsJSON, &s.Participants); err != nil {
			return nil, fmt.Errorf("consensus: unmarshal participants: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		var r model.ConsensusResult
		if err := json.Unmarshal(resultJSON, &r); err != nil {
			return nil, fmt.Errorf("consensus: unmarshal result: %w", err)
		}
		s.Result = &r
	}
	return &s, nil
}

func (e *Engine) opinionsForRound(ctx context.Context, consensusID string, round int) ([]model.Opinion, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT consensus_id, round, agent_id, decision, confidence, reasoning, supporting_data, submitted_at
		 FROM consensus_opinions WHERE consensus_id = $1 AND round = $2`,
		consensusID, round,
	)
	if err != nil {
		return nil, fmt.Errorf("consensus: query opinions: %w", err)
	}
	defer rows.Close()

	var out []model.Opinion
	for rows.Next() {
		var o model.Opinion
		var supportingJSON []byte
		if err := rows.Scan(&o.ConsensusID, &o.Round, &o.AgentID, &o.Decision, &o.Confidence,
			&o.Reasoning, &supportingJSON, &o.SubmittedAt); err != nil {
			return nil, fmt.Errorf("consensus: scan opinion: %w", err)
		}
		if len(supportingJSON) > 0 {
			if err := json.Unmarshal(supportingJSON, &o.SupportingData); err != nil {
				return nil, fmt.Errorf("consensus: unmarshal supporting data: %w", err)
			}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
