package model

import "testing"

func TestPriorityValid(t *testing.T) {
	cases := map[Priority]bool{
		PriorityHighest: true,
		PriorityLowest:  true,
		0:               false,
		6:               false,
	}
	for p, want := range cases {
		if got := p.Valid(); got != want {
			t.Errorf("Priority(%d).Valid() = %v, want %v", p, got, want)
		}
	}
}

func TestMessageStatusTerminal(t *testing.T) {
	cases := map[MessageStatus]bool{
		StatusPending:      false,
		StatusDelivered:    false,
		StatusAcknowledged: true,
		StatusFailed:       false,
		StatusExpired:      true,
		StatusDead:         true,
	}
	for s, want := range cases {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestSchemaDocValidate(t *testing.T) {
	schema := SchemaDoc{"question": "string", "context": "object"}

	t.Run("valid payload", func(t *testing.T) {
		err := schema.Validate(map[string]any{
			"question": "is this compliant?",
			"context":  map[string]any{"jurisdiction": "US"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("missing field", func(t *testing.T) {
		err := schema.Validate(map[string]any{"question": "hi"})
		if err == nil {
			t.Fatal("expected error for missing required field")
		}
		if KindOf(err) != KindInvalidInput {
			t.Fatalf("expected KindInvalidInput, got %s", KindOf(err))
		}
	})

	t.Run("wrong type", func(t *testing.T) {
		err := schema.Validate(map[string]any{"question": 42, "context": map[string]any{}})
		if err == nil {
			t.Fatal("expected error for wrong field type")
		}
	})

	t.Run("extra fields allowed", func(t *testing.T) {
		err := schema.Validate(map[string]any{
			"question": "hi", "context": map[string]any{}, "extra": true,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
