package mcpgw

import (
	"context"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/compliance-agents/coordination-core/internal/ctxutil"
	"github.com/compliance-agents/coordination-core/internal/model"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("make_decision",
			mcplib.WithDescription(`Route a decision request to a registered agent type.

The orchestrator initializes the agent type's handler if needed (lazy
agents), bounds the call by the urgency's default timeout, and records
the outcome against that agent type's circuit breaker. If the circuit is
open, the agent is not called: this returns a degraded-mode decision at once
(confidence 0, requires_human_review true) instead of waiting out the timeout.

Call get_system_health first if you suspect the target agent type is
degraded.`),
			mcplib.WithReadOnlyHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithString("agent_type",
				mcplib.Description("Which registered agent type should handle this (e.g. \"transaction_guardian\", \"regulatory_assessor\", \"audit_intelligence\")."),
				mcplib.Required(),
			),
			mcplib.WithString("decision_type",
				mcplib.Description("Category of decision being requested, e.g. \"customer_onboarding\", \"transaction_review\"."),
				mcplib.Required(),
			),
			mcplib.WithString("urgency",
				mcplib.Description("One of \"low\", \"medium\", \"high\", \"critical\". Controls the decision timeout. Defaults to \"medium\"."),
			),
			mcplib.WithObject("input_context",
				mcplib.Description("Arbitrary JSON object the agent handler needs to decide (customer data, transaction details, etc.)."),
			),
			mcplib.WithBoolean("require_human_review",
				mcplib.Description("Force requires_human_review=true on the resulting decision regardless of the agent's own confidence."),
			),
		),
		s.handleMakeDecision,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("incorporate_feedback",
			mcplib.WithDescription(`Report an observed outcome for a decision previously returned by
make_decision. The feedback score in [-1, 1] nudges the confidence of every
knowledge entity listed in applied_entity_ids (negative scores correct
entities that led the agent astray; positive scores reinforce them), and
publishes a decision_feedback message any conversation or consensus session
waiting on the outcome can react to.`),
			mcplib.WithReadOnlyHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithString("decision_id",
				mcplib.Description("The decision_id returned by make_decision."),
				mcplib.Required(),
			),
			mcplib.WithString("type",
				mcplib.Description("One of \"outcome\", \"correction\", \"rating\"."),
				mcplib.Required(),
			),
			mcplib.WithNumber("score",
				mcplib.Description("Feedback score in [-1, 1]. Negative is a correction."),
				mcplib.Required(),
				mcplib.Min(-1),
				mcplib.Max(1),
			),
			mcplib.WithString("notes",
				mcplib.Description("Free-text explanation of the observed outcome."),
			),
			mcplib.WithArray("applied_entity_ids",
				mcplib.Description("Knowledge entity IDs that informed the original decision, to be nudged by this feedback."),
			),
		),
		s.handleIncorporateFeedback,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_system_health",
			mcplib.WithDescription(`Snapshot of every registered agent type's circuit state, decisions
served, and failure rate, merged with the Message Bus's own delivery stats.
Call this before routing critical-urgency work to a rarely-used agent type.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
		),
		s.handleGetSystemHealth,
	)
}

func (s *Server) handleMakeDecision(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	orgID := ctxutil.OrgIDFromContext(ctx)

	agentType := request.GetString("agent_type", "")
	if agentType == "" {
		return errorResult("agent_type is required"), nil
	}
	decisionType := request.GetString("decision_type", "")
	if decisionType == "" {
		return errorResult("decision_type is required"), nil
	}
	urgency := model.Urgency(request.GetString("urgency", string(model.UrgencyMedium)))

	var inputContext map[string]any
	if args := request.GetArguments(); args != nil {
		if ic, ok := args["input_context"].(map[string]any); ok {
			inputContext = ic
		}
	}

	req := model.DecisionRequest{
		AgentType:     agentType,
		DecisionType:  decisionType,
		Urgency:       urgency,
		InputContext:  inputContext,
		RequireReview: request.GetBool("require_human_review", false),
	}

	decision, err := s.orch.MakeDecision(ctx, orgID, req)
	if err != nil {
		return errorResult("make_decision failed: " + err.Error()), nil
	}
	return jsonResult(decision), nil
}

func (s *Server) handleIncorporateFeedback(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	orgID := ctxutil.OrgIDFromContext(ctx)

	decisionIDStr := request.GetString("decision_id", "")
	decisionID, err := uuid.Parse(decisionIDStr)
	if err != nil {
		return errorResult("decision_id must be a valid UUID"), nil
	}

	fb := model.LearningFeedback{
		DecisionID: decisionID,
		Type:       model.FeedbackType(request.GetString("type", "")),
		Score:      request.GetFloat("score", 0),
		Notes:      request.GetString("notes", ""),
	}

	if args := request.GetArguments(); args != nil {
		if raw, ok := args["applied_entity_ids"].([]any); ok {
			for _, v := range raw {
				str, ok := v.(string)
				if !ok {
					continue
				}
				id, err := uuid.Parse(str)
				if err != nil {
					continue
				}
				fb.AppliedEntityIDs = append(fb.AppliedEntityIDs, id)
			}
		}
	}

	if err := s.orch.IncorporateFeedback(ctx, orgID, s.store, fb); err != nil {
		return errorResult("incorporate_feedback failed: " + err.Error()), nil
	}
	return jsonResult(map[string]any{"accepted": true, "decision_id": decisionID}), nil
}

func (s *Server) handleGetSystemHealth(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	health, err := s.orch.GetSystemHealth(ctx)
	if err != nil {
		return errorResult("get_system_health failed: " + err.Error()), nil
	}
	return jsonResult(health), nil
}
