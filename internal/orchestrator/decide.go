package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/compliance-agents/coordination-core/internal/messagebus"
	"github.com/compliance-agents/coordination-core/internal/model"
	"github.com/compliance-agents/coordination-core/internal/telemetry"
)

// MakeDecision routes req to its agent type's handler, bounding the call by
// the urgency's default timeout (or the caller's own ctx deadline, if
// tighter), and records the outcome against the agent's circuit breaker.
func (o *Orchestrator) MakeDecision(ctx context.Context, orgID uuid.UUID, req model.DecisionRequest) (*model.AgentDecision, error) {
	e, err := o.entry(req.AgentType)
	if err != nil {
		return nil, err
	}
	if e.handler == nil {
		if err := o.initialize(ctx, e); err != nil {
			return nil, err
		}
	}

	req.OrgID = orgID
	timeout := model.UrgencyTimeout(req.Urgency)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := e.breaker.Execute(func() (any, error) {
		return e.handler.HandleDecision(callCtx, req)
	})
	if err != nil {
		e.failed.Add(1)
		e.setLastErr(err)
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			telemetry.DecisionsTotal.WithLabelValues(req.AgentType, "circuit_open").Inc()
			decision := degradedModeDecision(req)
			if err := o.persistDecision(ctx, orgID, *decision); err != nil {
				o.logger.Warn("orchestrator: failed to persist degraded decision", "decision_id", decision.DecisionID, "error", err)
			}
			o.notifyDecision(ctx, orgID, *decision)
			return decision, nil
		}
		telemetry.DecisionsTotal.WithLabelValues(req.AgentType, "error").Inc()
		return nil, fmt.Errorf("orchestrator: agent %q failed to decide: %w", req.AgentType, err)
	}
	e.served.Add(1)
	e.setLastErr(nil)
	telemetry.DecisionsTotal.WithLabelValues(req.AgentType, "ok").Inc()

	decision := result.(model.AgentDecision)
	if decision.DecisionID == uuid.Nil {
		decision.DecisionID = uuid.New()
	}
	if decision.Timestamp.IsZero() {
		decision.Timestamp = time.Now()
	}
	if req.RequireReview {
		decision.RequiresHumanReview = true
	}

	if err := o.persistDecision(ctx, orgID, decision); err != nil {
		o.logger.Warn("orchestrator: failed to persist decision", "decision_id", decision.DecisionID, "error", err)
	}
	o.notifyDecision(ctx, orgID, decision)

	return &decision, nil
}

// degradedModeDecision builds the fallback returned when an agent type's
// circuit breaker is open: no handler is invoked, the decision carries zero
// confidence and is flagged for a human, but the call still succeeds — a
// regulated deployment needs a decision record even when the agent backing
// it is unavailable, not an error that leaves the request unanswered.
func degradedModeDecision(req model.DecisionRequest) *model.AgentDecision {
	return &model.AgentDecision{
		DecisionID:          uuid.New(),
		AgentID:             req.AgentType,
		Type:                req.DecisionType,
		Urgency:             req.Urgency,
		Confidence:          0,
		Reasoning:           fmt.Sprintf("agent type %q is circuit-open; returning degraded-mode fallback", req.AgentType),
		InputContext:        req.InputContext,
		RequiresHumanReview: true,
		Timestamp:           time.Now(),
	}
}

func (o *Orchestrator) persistDecision(ctx context.Context, orgID uuid.UUID, d model.AgentDecision) error {
	if o.pool == nil {
		return nil
	}
	inputJSON, err := json.Marshal(d.InputContext)
	if err != nil {
		return fmt.Errorf("orchestrator: marshal input context: %w", err)
	}
	outputJSON, err := json.Marshal(d.Output)
	if err != nil {
		return fmt.Errorf("orchestrator: marshal output: %w", err)
	}
	_, err = o.pool.Exec(ctx,
		`INSERT INTO agent_decisions
		 (decision_id, org_id, agent_id, type, urgency, confidence, reasoning,
		  recommended_actions, input_context, output, requires_human_review, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		d.DecisionID, orgID, d.AgentID, d.Type, d.Urgency, d.Confidence, d.Reasoning,
		d.RecommendedActions, inputJSON, outputJSON, d.RequiresHumanReview, d.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("orchestrator: insert decision: %w", err)
	}
	return nil
}

func (o *Orchestrator) notifyDecision(ctx context.Context, orgID uuid.UUID, d model.AgentDecision) {
	if o.bus == nil {
		return
	}
	_, err := o.bus.Send(ctx, messagebus.SendInput{
		OrgID: orgID,
		From:  d.AgentID,
		To:    []string{"*"},
		Type:  "decision_response",
		Payload: map[string]any{
			"answer":      d.Output,
			"decision_id": d.DecisionID.String(),
			"confidence":  d.Confidence,
		},
	})
	if err != nil {
		o.logger.Warn("orchestrator: failed to publish decision_response", "decision_id", d.DecisionID, "error", err)
	}
}
