package model

import (
	"reflect"
	"testing"
)

func TestOpinionRanking(t *testing.T) {
	t.Run("string slice", func(t *testing.T) {
		o := Opinion{SupportingData: map[string]any{"ranking": []string{"a", "b", "c"}}}
		if got := o.Ranking(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("any slice from JSON decode", func(t *testing.T) {
		o := Opinion{SupportingData: map[string]any{"ranking": []any{"x", "y"}}}
		if got := o.Ranking(); !reflect.DeepEqual(got, []string{"x", "y"}) {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("absent", func(t *testing.T) {
		o := Opinion{SupportingData: map[string]any{}}
		if got := o.Ranking(); got != nil {
			t.Fatalf("expected nil, got %v", got)
		}
	})

	t.Run("nil supporting data", func(t *testing.T) {
		o := Opinion{}
		if got := o.Ranking(); got != nil {
			t.Fatalf("expected nil, got %v", got)
		}
	})
}

func TestConsensusStateTerminal(t *testing.T) {
	for _, s := range []ConsensusState{ConsensusDecided, ConsensusDeadlock, ConsensusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []ConsensusState{ConsensusOpen, ConsensusRoundOpen, ConsensusRoundTimeout} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
