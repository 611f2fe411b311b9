package model

import (
	"time"

	"github.com/google/uuid"
)

// Priority is the delivery priority of a Message. 1 is highest, 5 is lowest.
type Priority int

const (
	PriorityHighest Priority = 1
	PriorityHigh    Priority = 2
	PriorityNormal  Priority = 3
	PriorityLow     Priority = 4
	PriorityLowest  Priority = 5
)

// Valid reports whether p is one of the five defined priority classes.
func (p Priority) Valid() bool { return p >= PriorityHighest && p <= PriorityLowest }

// MessageStatus is the per-recipient delivery state of a Message.
type MessageStatus string

const (
	StatusPending      MessageStatus = "pending"
	StatusDelivered    MessageStatus = "delivered"
	StatusAcknowledged MessageStatus = "acknowledged"
	StatusFailed       MessageStatus = "failed"
	StatusExpired      MessageStatus = "expired"
	StatusDead         MessageStatus = "dead"
)

// Terminal reports whether s is a terminal state (no further transitions).
func (s MessageStatus) Terminal() bool {
	switch s {
	case StatusAcknowledged, StatusExpired, StatusDead:
		return true
	default:
		return false
	}
}

// Message is one row of Message Bus traffic, scoped to a single recipient.
// A broadcast fans out into one Message row per recipient (§4.1): every
// transition is per-recipient, so two recipients of the same broadcast can
// be in different states simultaneously.
type Message struct {
	ID               uuid.UUID      `json:"id"`
	OrgID            uuid.UUID      `json:"org_id"`
	From             string         `json:"from"`
	To               string         `json:"to"` // Never empty on a stored row; broadcast fan-out assigns one row per recipient.
	Type             string         `json:"type"`
	Payload          map[string]any `json:"payload"`
	Priority         Priority       `json:"priority"`
	Status           MessageStatus  `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	DeliveredAt      *time.Time     `json:"delivered_at,omitempty"`
	AcknowledgedAt   *time.Time     `json:"acknowledged_at,omitempty"`
	RetryCount       int            `json:"retry_count"`
	MaxRetries       int            `json:"max_retries"`
	NextRetryAt      *time.Time     `json:"next_retry_at,omitempty"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	Error            *string        `json:"error,omitempty"`
	CorrelationID    *string        `json:"correlation_id,omitempty"`
	ParentMessageID  *uuid.UUID     `json:"parent_message_id,omitempty"`
	ConversationID   *uuid.UUID     `json:"conversation_id,omitempty"`
}

// DeliveryAttempt is one audit row recording a single handler invocation
// for a Message, successful or not. Distinct from the Message's own
// retry_count/error fields: it is an append-only trail kept for the same
// reason every other part of this platform keeps one — the delivery
// history of a compliance decision is itself evidence.
type DeliveryAttempt struct {
	MessageID     uuid.UUID `json:"message_id"`
	AttemptNumber int       `json:"attempt_number"`
	AttemptedAt   time.Time `json:"attempted_at"`
	Outcome       string    `json:"outcome"` // "delivered", "failed", "expired"
	Error         *string   `json:"error,omitempty"`
}

// MessageTypeDescriptor is a registry row describing one message type's
// contract: its payload schema, default priority/expiry, and whether a
// response is required.
type MessageTypeDescriptor struct {
	Type             string         `json:"type"`
	PayloadSchema    SchemaDoc      `json:"payload_schema"`
	DefaultPriority  Priority       `json:"default_priority"`
	DefaultExpiry    time.Duration  `json:"default_expiry"`
	RequiresResponse bool           `json:"requires_response"`
	IsSystemType     bool           `json:"is_system_type"`
}

// SchemaDoc is a minimal schemaless-document validator: required field
// names mapped to one of "string", "number", "bool", "array", "object", "any".
type SchemaDoc map[string]string

// Validate checks that payload satisfies every required field/type pair in
// the schema. Unknown extra fields in payload are allowed.
func (s SchemaDoc) Validate(payload map[string]any) error {
	for field, kind := range s {
		v, ok := payload[field]
		if !ok {
			return InvalidInput("missing required field %q", field)
		}
		if kind == "any" {
			continue
		}
		if !matchesKind(v, kind) {
			return InvalidInput("field %q: expected %s, got %T", field, kind, v)
		}
	}
	return nil
}

func matchesKind(v any, kind string) bool {
	switch kind {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "bool":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

// BusStats is the aggregate snapshot returned by Bus.Stats().
type BusStats struct {
	Sent                int64   `json:"sent"`
	Delivered           int64   `json:"delivered"`
	Failed              int64   `json:"failed"`
	Pending             int64   `json:"pending"`
	DeadLetter          int64   `json:"dead_letter"`
	Dropped             int64   `json:"dropped"`
	ConversationsActive int64   `json:"conversations_active"`
	AvgDeliveryMs       float64 `json:"avg_delivery_ms"`
	SuccessRate         float64 `json:"success_rate"`
}
