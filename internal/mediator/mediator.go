// Package mediator implements the Conversation Mediator: multi-agent
// conversation lifecycle management, conflict detection between
// participants' contributions, and resolution via one of eight strategies
// (some of which delegate to the Consensus Engine).
package mediator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/compliance-agents/coordination-core/internal/consensus"
	"github.com/compliance-agents/coordination-core/internal/messagebus"
	"github.com/compliance-agents/coordination-core/internal/model"
	"github.com/compliance-agents/coordination-core/internal/service/embedding"
)

// Config tunes conflict detection and negotiation behavior (spec §4.3).
type Config struct {
	TurnTimeout       time.Duration
	MaxNegotiationRounds int
	ClaimTopicSimFloor float64 // minimum similarity for two claims to be "about the same thing"
	ClaimDivFloor      float64 // minimum divergence for two same-topic claims to count as conflicting
}

// DefaultConfig returns the spec's default tuning (max_negotiation_rounds=5).
func DefaultConfig() Config {
	return Config{
		TurnTimeout:          2 * time.Minute,
		MaxNegotiationRounds: 5,
		ClaimTopicSimFloor:   0.35,
		ClaimDivFloor:        0.40,
	}
}

// Mediator is the Conversation Mediator.
type Mediator struct {
	pool      *pgxpool.Pool
	logger    *slog.Logger
	embedder  embedding.Provider
	consensus *consensus.Engine
	bus       *messagebus.Bus
	cfg       Config
}

// New creates a Mediator.
func New(pool *pgxpool.Pool, logger *slog.Logger, embedder embedding.Provider, ce *consensus.Engine, bus *messagebus.Bus, cfg Config) *Mediator {
	return &Mediator{pool: pool, logger: logger, embedder: embedder, consensus: ce, bus: bus, cfg: cfg}
}

// StartInput is the request to StartConversation.
type StartInput struct {
	OrgID           uuid.UUID
	Topic           string
	Objective       string
	Participants    []model.Participant
	TimeoutDuration time.Duration
	Protocol        string
}

// StartConversation creates a new conversation in the initializing state and
// immediately advances it to active (there is no externally visible
// initialization work to wait on).
func (m *Mediator) StartConversation(ctx context.Context, in StartInput) (*model.ConversationContext, error) {
	if len(in.Participants) == 0 {
		return nil, model.InvalidInput("a conversation requires at least one participant")
	}
	now := time.Now()
	cc := &model.ConversationContext{
		ConversationID:  uuid.New(),
		OrgID:           in.OrgID,
		Topic:           in.Topic,
		Objective:       in.Objective,
		State:           model.ConvActive,
		Participants:    in.Participants,
		StartedAt:       now,
		LastActivity:    now,
		TimeoutDuration: in.TimeoutDuration,
		Protocol:        in.Protocol,
		Metadata:        map[string]any{},
	}
	for i := range cc.Participants {
		cc.Participants[i].JoinedAt = now
		cc.Participants[i].LastActive = now
	}

	participantsJSON, err := json.Marshal(cc.Participants)
	if err != nil {
		return nil, fmt.Errorf("mediator: marshal participants: %w", err)
	}
	metadataJSON, err := json.Marshal(cc.Metadata)
	if err != nil {
		return nil, fmt.Errorf("mediator: marshal metadata: %w", err)
	}

	_, err = m.pool.Exec(ctx,
		`INSERT INTO conversations
		 (conversation_id, org_id, topic, objective, state, participants, started_at,
		  last_activity, timeout_duration, protocol, metadata)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		cc.ConversationID, cc.OrgID, cc.Topic, cc.Objective, cc.State, participantsJSON,
		cc.StartedAt, cc.LastActivity, cc.TimeoutDuration, cc.Protocol, metadataJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("mediator: insert conversation: %w", err)
	}
	return cc, nil
}

// Submit records a participant's turn, checks it for conflicts against the
// other participants' recent turns, and returns any conflict found.
func (m *Mediator) Submit(ctx context.Context, orgID uuid.UUID, conversationID uuid.UUID, agentID, content string) (*model.Conflict, error) {
	cc, err := m.GetContext(ctx, orgID, conversationID)
	if err != nil {
		return nil, err
	}
	if cc.State.Terminal() {
		return nil, model.StateConflict("conversation %s is in terminal state %s", conversationID, cc.State)
	}
	if _, ok := cc.ParticipantByID(agentID); !ok {
		return nil, model.InvalidInput("agent %q is not a participant in conversation %s", agentID, conversationID)
	}

	msg := model.Message{
		ID:             uuid.New(),
		OrgID:          orgID,
		From:           agentID,
		To:             "*",
		Type:           "conversation_turn",
		Payload:        map[string]any{"content": content},
		Status:         model.StatusAcknowledged,
		CreatedAt:      time.Now(),
		ConversationID: &conversationID,
	}
	payloadJSON, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("mediator: marshal turn payload: %w", err)
	}
	if _, err := m.pool.Exec(ctx,
		`INSERT INTO conversation_messages (id, conversation_id, from_agent, content, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		msg.ID, conversationID, agentID, content, msg.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("mediator: insert turn: %w", err)
	}
	_ = payloadJSON // turn content is stored denormalized in conversation_messages for query simplicity

	if _, err := m.pool.Exec(ctx,
		`UPDATE conversations SET last_activity = now() WHERE conversation_id = $1`, conversationID,
	); err != nil {
		return nil, fmt.Errorf("mediator: touch last_activity: %w", err)
	}

	conflict, err := m.detectConflict(ctx, cc, agentID, content)
	if err != nil {
		m.logger.Warn("mediator: conflict detection failed, continuing without it", "error", err)
		return nil, nil
	}
	if conflict == nil {
		return nil, nil
	}

	conflictJSON, err := json.Marshal(conflict)
	if err != nil {
		return nil, fmt.Errorf("mediator: marshal conflict: %w", err)
	}
	if _, err := m.pool.Exec(ctx,
		`INSERT INTO conflict_resolutions
		 (conflict_id, conversation_id, type, description, involved_agents, detected_at, detail)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		conflict.ConflictID, conversationID, conflict.Type, conflict.Description,
		conflict.InvolvedAgents, conflict.DetectedAt, conflictJSON,
	); err != nil {
		return nil, fmt.Errorf("mediator: insert conflict: %w", err)
	}
	if err := m.transition(ctx, conversationID, model.ConvConflictDetected); err != nil {
		return nil, err
	}

	return conflict, nil
}

// GetContext loads a conversation by ID, scoped to orgID.
func (m *Mediator) GetContext(ctx context.Context, orgID, conversationID uuid.UUID) (*model.ConversationContext, error) {
	var cc model.ConversationContext
	var participantsJSON, metadataJSON []byte
	err := m.pool.QueryRow(ctx,
		`SELECT conversation_id, org_id, topic, objective, state, participants, started_at,
		        last_activity, timeout_duration, protocol, metadata
		 FROM conversations WHERE conversation_id = $1 AND org_id = $2`,
		conversationID, orgID,
	).Scan(&cc.ConversationID, &cc.OrgID, &cc.Topic, &cc.Objective, &cc.State, &participantsJSON,
		&cc.StartedAt, &cc.LastActivity, &cc.TimeoutDuration, &cc.Protocol, &metadataJSON)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, model.NotFound("conversation %s not found", conversationID)
		}
		return nil, fmt.Errorf("mediator: get conversation: %w", err)
	}
	if len(participantsJSON) > 0 {
		if err := json.Unmarshal(participantsJSON, &cc.Participants); err != nil {
			return nil, fmt.Errorf("mediator: unmarshal participants: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &cc.Metadata); err != nil {
			return nil, fmt.Errorf("mediator: unmarshal metadata: %w", err)
		}
	}
	return &cc, nil
}

// transition applies a conversation state change, rejecting any edge not
// present in model.CanTransition.
func (m *Mediator) transition(ctx context.Context, conversationID uuid.UUID, to model.ConversationState) error {
	var from model.ConversationState
	if err := m.pool.QueryRow(ctx,
		`SELECT state FROM conversations WHERE conversation_id = $1 FOR UPDATE`, conversationID,
	).Scan(&from); err != nil {
		return fmt.Errorf("mediator: read state for transition: %w", err)
	}
	if !model.CanTransition(from, to) {
		return model.StateConflict("conversation %s cannot transition %s -> %s", conversationID, from, to)
	}
	if _, err := m.pool.Exec(ctx,
		`UPDATE conversations SET state = $1 WHERE conversation_id = $2`, to, conversationID,
	); err != nil {
		return fmt.Errorf("mediator: apply transition: %w", err)
	}
	return nil
}

// Complete marks a conversation finished successfully.
func (m *Mediator) Complete(ctx context.Context, conversationID uuid.UUID) error {
	return m.transition(ctx, conversationID, model.ConvCompleted)
}

// Timeout marks a conversation as timed out, for callers driving an
// external timer against TimeoutDuration/LastActivity.
func (m *Mediator) Timeout(ctx context.Context, conversationID uuid.UUID) error {
	var from model.ConversationState
	if err := m.pool.QueryRow(ctx,
		`SELECT state FROM conversations WHERE conversation_id = $1`, conversationID,
	).Scan(&from); err != nil {
		return fmt.Errorf("mediator: read state for timeout: %w", err)
	}
	if from == model.ConvActive || from == model.ConvWaitingForResponse {
		return m.transition(ctx, conversationID, model.ConvTimeout)
	}
	return model.StateConflict("conversation %s in state %s cannot time out", conversationID, from)
}
