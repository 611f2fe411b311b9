package messagebus

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliance-agents/coordination-core/internal/model"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	return New(nil, nil, slog.Default(), 5)
}

func TestRegisterType(t *testing.T) {
	b := newTestBus(t)
	err := b.RegisterType(model.MessageTypeDescriptor{
		Type:          "custom_alert",
		PayloadSchema: model.SchemaDoc{"severity": "string"},
	})
	require.NoError(t, err)

	desc, ok := b.DescriptorFor("custom_alert")
	require.True(t, ok)
	assert.Equal(t, "custom_alert", desc.Type)
}

func TestRegisterType_CannotOverwriteSystemType(t *testing.T) {
	b := newTestBus(t)
	err := b.RegisterType(model.MessageTypeDescriptor{Type: "heartbeat"})
	require.Error(t, err)
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
}

func TestSystemTypesRegistered(t *testing.T) {
	b := newTestBus(t)
	for _, want := range []string{
		"decision_request", "decision_response", "decision_feedback",
		"conflict_notice", "consensus_invite", "conversation_turn", "heartbeat",
	} {
		desc, ok := b.DescriptorFor(want)
		require.True(t, ok, "expected system type %q to be registered", want)
		assert.True(t, desc.IsSystemType)
	}
}
