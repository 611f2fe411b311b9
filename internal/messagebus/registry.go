// Package messagebus implements the Message Bus component: durable,
// priority-ordered agent-to-agent messaging backed by Postgres, claimed
// with the same FOR UPDATE SKIP LOCKED discipline the vector search outbox
// uses to sync decisions to Qdrant.
package messagebus

import (
	"time"

	"github.com/compliance-agents/coordination-core/internal/model"
)

// systemTypes are the message type descriptors every Bus registers on
// construction (spec §4.1's system type set). Callers may register
// additional domain-specific types via RegisterType.
func systemTypes() []model.MessageTypeDescriptor {
	return []model.MessageTypeDescriptor{
		{
			Type:             "decision_request",
			PayloadSchema:    model.SchemaDoc{"question": "string", "context": "object"},
			DefaultPriority:  model.PriorityHigh,
			DefaultExpiry:    5 * time.Minute,
			RequiresResponse: true,
			IsSystemType:     true,
		},
		{
			Type:             "decision_response",
			PayloadSchema:    model.SchemaDoc{"answer": "any"},
			DefaultPriority:  model.PriorityHigh,
			DefaultExpiry:    5 * time.Minute,
			RequiresResponse: false,
			IsSystemType:     true,
		},
		{
			Type:             "decision_feedback",
			PayloadSchema:    model.SchemaDoc{"decision_id": "string", "score": "number"},
			DefaultPriority:  model.PriorityNormal,
			DefaultExpiry:    24 * time.Hour,
			RequiresResponse: false,
			IsSystemType:     true,
		},
		{
			Type:             "conflict_notice",
			PayloadSchema:    model.SchemaDoc{"conflict_id": "string", "type": "string"},
			DefaultPriority:  model.PriorityHighest,
			DefaultExpiry:    10 * time.Minute,
			RequiresResponse: false,
			IsSystemType:     true,
		},
		{
			Type:             "consensus_invite",
			PayloadSchema:    model.SchemaDoc{"consensus_id": "string", "topic": "string"},
			DefaultPriority:  model.PriorityHigh,
			DefaultExpiry:    15 * time.Minute,
			RequiresResponse: true,
			IsSystemType:     true,
		},
		{
			Type:             "conversation_turn",
			PayloadSchema:    model.SchemaDoc{"conversation_id": "string", "content": "any"},
			DefaultPriority:  model.PriorityNormal,
			DefaultExpiry:    30 * time.Minute,
			RequiresResponse: false,
			IsSystemType:     true,
		},
		{
			Type:             "heartbeat",
			PayloadSchema:    model.SchemaDoc{},
			DefaultPriority:  model.PriorityLowest,
			DefaultExpiry:    time.Minute,
			RequiresResponse: false,
			IsSystemType:     true,
		},
	}
}

// RegisterType adds or replaces a message type descriptor. System types may
// not be overwritten.
func (b *Bus) RegisterType(desc model.MessageTypeDescriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.registry[desc.Type]; ok && existing.IsSystemType {
		return model.InvalidInput("message type %q is a system type and cannot be overwritten", desc.Type)
	}
	b.registry[desc.Type] = desc
	return nil
}

// DescriptorFor returns the registered descriptor for a message type.
func (b *Bus) DescriptorFor(msgType string) (model.MessageTypeDescriptor, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.registry[msgType]
	return d, ok
}
