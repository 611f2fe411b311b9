package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/compliance-agents/coordination-core/internal/model"
	"github.com/compliance-agents/coordination-core/internal/storage"
	"github.com/compliance-agents/coordination-core/internal/telemetry"
)

// Bus is the Message Bus: durable agent-to-agent messaging over a
// Postgres-backed queue, with broadcast fan-out, priority ordering,
// bounded retry with backoff, and an append-only delivery-attempt trail.
type Bus struct {
	pool   *pgxpool.Pool
	db     *storage.DB // optional; used to pg_notify on send for the wake-up optimization
	logger *slog.Logger

	mu       sync.RWMutex
	registry map[string]model.MessageTypeDescriptor

	maxRetries int
}

// New creates a Bus backed by pool, with db used (if non-nil) to publish
// LISTEN/NOTIFY wake-ups on ChannelMessages whenever a message is sent.
func New(pool *pgxpool.Pool, db *storage.DB, logger *slog.Logger, maxRetries int) *Bus {
	b := &Bus{
		pool:       pool,
		db:         db,
		logger:     logger,
		registry:   make(map[string]model.MessageTypeDescriptor),
		maxRetries: maxRetries,
	}
	for _, d := range systemTypes() {
		b.registry[d.Type] = d
	}
	return b
}

// SendInput is the caller-facing request to Send. Broadcasts are expressed
// by passing more than one entry in To.
type SendInput struct {
	OrgID           uuid.UUID
	From            string
	To              []string
	Type            string
	Payload         map[string]any
	Priority        *model.Priority // nil uses the type descriptor's default
	CorrelationID   *string
	ParentMessageID *uuid.UUID
	ConversationID  *uuid.UUID
}

// Send validates in against the registered type descriptor and inserts one
// Message row per recipient (broadcast fan-out), returning the IDs in the
// same order as in.To.
func (b *Bus) Send(ctx context.Context, in SendInput) ([]uuid.UUID, error) {
	if in.From == "" {
		return nil, model.InvalidInput("from is required")
	}
	if len(in.To) == 0 {
		return nil, model.InvalidInput("at least one recipient is required")
	}
	desc, ok := b.DescriptorFor(in.Type)
	if !ok {
		return nil, model.InvalidInput("unknown message type %q", in.Type)
	}
	if err := desc.PayloadSchema.Validate(in.Payload); err != nil {
		return nil, err
	}

	priority := desc.DefaultPriority
	if in.Priority != nil {
		if !in.Priority.Valid() {
			return nil, model.InvalidInput("priority %d out of range [1,5]", *in.Priority)
		}
		priority = *in.Priority
	}

	var expiresAt *time.Time
	if desc.DefaultExpiry > 0 {
		t := time.Now().Add(desc.DefaultExpiry)
		expiresAt = &t
	}

	payloadJSON, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("messagebus: marshal payload: %w", err)
	}

	ids := make([]uuid.UUID, len(in.To))
	batch := &pgx.Batch{}
	for i, recipient := range in.To {
		id := uuid.New()
		ids[i] = id
		batch.Queue(
			`INSERT INTO agent_messages
			 (id, org_id, from_agent, to_agent, type, payload, priority, status,
			  created_at, max_retries, expires_at, correlation_id, parent_message_id, conversation_id)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,'pending', now(), $8,$9,$10,$11,$12)`,
			id, in.OrgID, in.From, recipient, in.Type, payloadJSON, int(priority),
			b.maxRetries, expiresAt, in.CorrelationID, in.ParentMessageID, in.ConversationID,
		)
	}

	br := b.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()
	for range in.To {
		if _, err := br.Exec(); err != nil {
			return nil, fmt.Errorf("messagebus: insert message: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("messagebus: close batch: %w", err)
	}
	telemetry.MessagesTotal.WithLabelValues(in.Type, "sent").Add(float64(len(ids)))

	if b.db != nil {
		if err := b.db.Notify(ctx, storage.ChannelMessages, in.Type); err != nil {
			b.logger.Warn("messagebus: notify after send failed (poll loop will still pick it up)", "error", err)
		}
	}

	return ids, nil
}

// Receive claims up to limit pending messages addressed to agentID, in
// priority then FIFO order, marking them delivered and recording a
// DeliveryAttempt. Claimed rows are locked with FOR UPDATE SKIP LOCKED so
// concurrent Receive calls from the same agent's replicas never double-hand
// a message out.
func (b *Bus) Receive(ctx context.Context, agentID string, limit int) ([]model.Message, error) {
	if agentID == "" {
		return nil, model.InvalidInput("agentID is required")
	}
	if limit <= 0 {
		limit = 10
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("messagebus: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT id, org_id, from_agent, to_agent, type, payload, priority, status,
		        created_at, delivered_at, acknowledged_at, retry_count, max_retries,
		        next_retry_at, expires_at, error, correlation_id, parent_message_id, conversation_id
		 FROM agent_messages
		 WHERE to_agent = $1
		   AND status = 'pending'
		   AND (next_retry_at IS NULL OR next_retry_at <= now())
		   AND (expires_at IS NULL OR expires_at > now())
		 ORDER BY priority ASC, created_at ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("messagebus: select pending: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]uuid.UUID, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	now := time.Now()
	if _, err := tx.Exec(ctx,
		`UPDATE agent_messages SET status = 'delivered', delivered_at = $1 WHERE id = ANY($2)`,
		now, ids,
	); err != nil {
		return nil, fmt.Errorf("messagebus: mark delivered: %w", err)
	}

	batch := &pgx.Batch{}
	for i, m := range msgs {
		batch.Queue(
			`INSERT INTO message_delivery_attempts (message_id, attempt_number, attempted_at, outcome)
			 VALUES ($1,$2,$3,'delivered')`,
			m.ID, m.RetryCount+1, now,
		)
		msgs[i].Status = model.StatusDelivered
		msgs[i].DeliveredAt = &now
	}
	br := tx.SendBatch(ctx, batch)
	for range msgs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("messagebus: record delivery attempt: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("messagebus: close delivery batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("messagebus: commit receive: %w", err)
	}
	return msgs, nil
}

// Acknowledge transitions a delivered message to acknowledged. Acknowledging
// a message not currently in delivered state is a state conflict.
func (b *Bus) Acknowledge(ctx context.Context, messageID uuid.UUID) error {
	now := time.Now()
	tag, err := b.pool.Exec(ctx,
		`UPDATE agent_messages SET status = 'acknowledged', acknowledged_at = $1
		 WHERE id = $2 AND status = 'delivered'`,
		now, messageID,
	)
	if err != nil {
		return fmt.Errorf("messagebus: acknowledge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.StateConflict("message %s is not in delivered state (or does not exist)", messageID)
	}
	return nil
}

// Fail records errMsg against a message and increments its retry_count. If
// the new count exceeds max_retries the message moves to the terminal dead
// state; otherwise it goes back to pending with an exponential-backoff
// next_retry_at. The whole
// read-modify-write is retried via storage.WithRetry: under concurrent
// Fail/Receive calls racing the same row, Postgres can report a
// serialization or deadlock error that a plain retry clears.
func (b *Bus) Fail(ctx context.Context, messageID uuid.UUID, errMsg string) error {
	return storage.WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		return b.failOnce(ctx, messageID, errMsg)
	})
}

func (b *Bus) failOnce(ctx context.Context, messageID uuid.UUID, errMsg string) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("messagebus: begin fail tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var retryCount, maxRetries int
	if err := tx.QueryRow(ctx,
		`SELECT retry_count, max_retries FROM agent_messages WHERE id = $1 FOR UPDATE`,
		messageID,
	).Scan(&retryCount, &maxRetries); err != nil {
		if err == pgx.ErrNoRows {
			return model.NotFound("message %s not found", messageID)
		}
		return fmt.Errorf("messagebus: select for fail: %w", err)
	}

	retryCount++
	if retryCount > maxRetries {
		if _, err := tx.Exec(ctx,
			`UPDATE agent_messages SET status = 'dead', retry_count = $1, error = $2 WHERE id = $3`,
			retryCount, errMsg, messageID,
		); err != nil {
			return fmt.Errorf("messagebus: mark dead: %w", err)
		}
	} else {
		backoff := time.Duration(1<<uint(retryCount)) * time.Second
		if backoff > 5*time.Minute {
			backoff = 5 * time.Minute
		}
		nextRetry := time.Now().Add(backoff)
		if _, err := tx.Exec(ctx,
			`UPDATE agent_messages
			 SET status = 'pending', retry_count = $1, error = $2, next_retry_at = $3
			 WHERE id = $4`,
			retryCount, errMsg, nextRetry, messageID,
		); err != nil {
			return fmt.Errorf("messagebus: schedule retry: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO message_delivery_attempts (message_id, attempt_number, attempted_at, outcome, error)
		 VALUES ($1,$2,now(),'failed',$3)`,
		messageID, retryCount, errMsg,
	); err != nil {
		return fmt.Errorf("messagebus: record failed attempt: %w", err)
	}

	return tx.Commit(ctx)
}

// CleanupExpired transitions pending messages whose expires_at has passed
// into the terminal expired state, and reports how many were swept.
func (b *Bus) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := b.pool.Exec(ctx,
		`UPDATE agent_messages
		 SET status = 'expired'
		 WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("messagebus: cleanup expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats returns an aggregate snapshot of bus throughput and backlog.
func (b *Bus) Stats(ctx context.Context) (model.BusStats, error) {
	var s model.BusStats
	err := b.pool.QueryRow(ctx,
		`SELECT
		   count(*) FILTER (WHERE status IN ('delivered','acknowledged')) AS sent,
		   count(*) FILTER (WHERE status = 'acknowledged') AS delivered,
		   count(*) FILTER (WHERE status = 'failed') AS failed,
		   count(*) FILTER (WHERE status = 'pending') AS pending,
		   count(*) FILTER (WHERE status = 'dead') AS dead_letter,
		   count(*) FILTER (WHERE status = 'expired') AS dropped,
		   count(DISTINCT conversation_id) FILTER (WHERE conversation_id IS NOT NULL AND status NOT IN ('acknowledged','expired','dead')) AS conversations_active,
		   coalesce(avg(extract(epoch FROM (delivered_at - created_at)) * 1000) FILTER (WHERE delivered_at IS NOT NULL), 0) AS avg_delivery_ms
		 FROM agent_messages`,
	).Scan(&s.Sent, &s.Delivered, &s.Failed, &s.Pending, &s.DeadLetter, &s.Dropped, &s.ConversationsActive, &s.AvgDeliveryMs)
	if err != nil {
		return model.BusStats{}, fmt.Errorf("messagebus: stats: %w", err)
	}
	if s.Sent > 0 {
		s.SuccessRate = float64(s.Delivered) / float64(s.Sent)
	}
	return s, nil
}

func scanMessages(rows pgx.Rows) ([]model.Message, error) {
	defer rows.Close()
	var out []model.Message
	for rows.Next() {
		var m model.Message
		var payload []byte
		var priority int
		var status string
		if err := rows.Scan(
			&m.ID, &m.OrgID, &m.From, &m.To, &m.Type, &payload, &priority, &status,
			&m.CreatedAt, &m.DeliveredAt, &m.AcknowledgedAt, &m.RetryCount, &m.MaxRetries,
			&m.NextRetryAt, &m.ExpiresAt, &m.Error, &m.CorrelationID, &m.ParentMessageID, &m.ConversationID,
		); err != nil {
			return nil, fmt.Errorf("messagebus: scan message: %w", err)
		}
		m.Priority = model.Priority(priority)
		m.Status = model.MessageStatus(status)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &m.Payload); err != nil {
				return nil, fmt.Errorf("messagebus: unmarshal payload: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
