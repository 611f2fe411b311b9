package model

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to ConversationState
		want     bool
	}{
		{ConvInitializing, ConvActive, true},
		{ConvInitializing, ConvCompleted, false},
		{ConvActive, ConvWaitingForResponse, true},
		{ConvActive, ConvConflictDetected, true},
		{ConvWaitingForResponse, ConvActive, true},
		{ConvWaitingForResponse, ConvConflictDetected, false},
		{ConvConflictDetected, ConvResolvingConflict, true},
		{ConvResolvingConflict, ConvConsensusReached, true},
		{ConvResolvingConflict, ConvDeadlock, true},
		{ConvCompleted, ConvActive, false}, // terminal state has no outgoing edges
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestConversationStateTerminal(t *testing.T) {
	for _, s := range []ConversationState{ConvCompleted, ConvTimeout, ConvCancelled, ConvConsensusReached, ConvDeadlock} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []ConversationState{ConvInitializing, ConvActive, ConvWaitingForResponse, ConvConflictDetected, ConvResolvingConflict} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestParticipantByID(t *testing.T) {
	c := &ConversationContext{
		Participants: []Participant{
			{AgentID: "agent-a"},
			{AgentID: "agent-b"},
		},
	}
	p, ok := c.ParticipantByID("agent-b")
	if !ok || p.AgentID != "agent-b" {
		t.Fatalf("expected to find agent-b, got %+v, ok=%v", p, ok)
	}
	_, ok = c.ParticipantByID("agent-z")
	if ok {
		t.Fatal("expected not to find agent-z")
	}
}
