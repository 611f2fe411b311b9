package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/compliance-agents/coordination-core/internal/knowledge"
	"github.com/compliance-agents/coordination-core/internal/model"
)

// Dependencies are the shared services a reference agent variant needs to
// build its Handler. Every constructor in AgentConstructors takes the same
// Dependencies value, so a deployment wiring all three reference variants
// does it from one call site instead of one bespoke constructor signature
// per agent type.
type Dependencies struct {
	Store  *knowledge.Store
	Logger *slog.Logger
}

// AgentConstructors maps the three reference agent variants this module
// ships to their constructors — the "tagged variants plus capability set"
// registry spec.md §9 calls for in place of an inheritance hierarchy. A
// deployment registers whichever of these it wants under Orchestrator.Register,
// or supplies its own Handler and ignores this registry entirely.
var AgentConstructors = map[string]func(Dependencies) (Handler, error){
	"transaction_guardian": newTransactionGuardian,
	"regulatory_assessor":  newRegulatoryAssessor,
	"audit_intelligence":   newAuditIntelligence,
}

// domainAgent is the shared shape behind all three reference variants: pull
// prior knowledge from one VKS domain for the request, and derive a
// decision from how much supporting knowledge turned up and how confident
// it is. It is a thin reference implementation meant to exercise the
// orchestrator/VKS/MB wiring end to end, not a production risk model — real
// deployments register their own domain-specific Handler per agent type.
type domainAgent struct {
	agentType       string
	domain          model.Domain
	reviewThreshold float32
	store           *knowledge.Store
	logger          *slog.Logger
}

func newTransactionGuardian(d Dependencies) (Handler, error) {
	return newDomainAgent("transaction_guardian", model.DomainTransactionMonitoring, 0.6, d)
}

func newRegulatoryAssessor(d Dependencies) (Handler, error) {
	return newDomainAgent("regulatory_assessor", model.DomainRegulatoryCompliance, 0.7, d)
}

func newAuditIntelligence(d Dependencies) (Handler, error) {
	return newDomainAgent("audit_intelligence", model.DomainAuditIntelligence, 0.5, d)
}

func newDomainAgent(agentType string, domain model.Domain, reviewThreshold float32, d Dependencies) (Handler, error) {
	if d.Store == nil {
		return nil, fmt.Errorf("orchestrator: %s requires a knowledge store", agentType)
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &domainAgent{
		agentType:       agentType,
		domain:          domain,
		reviewThreshold: reviewThreshold,
		store:           d.Store,
		logger:          logger,
	}, nil
}

// HandleDecision gathers supporting knowledge for req from the agent's
// domain via GetContextForDecision, and turns the hit set into a scored,
// reasoned AgentDecision: confidence is the average confidence of the
// knowledge entities that came back, weighted down when nothing relevant
// was found at all.
func (a *domainAgent) HandleDecision(ctx context.Context, req model.DecisionRequest) (model.AgentDecision, error) {
	query := req.DecisionType
	if summary, ok := req.InputContext["summary"].(string); ok && summary != "" {
		query = summary
	}

	decCtx, err := a.store.GetContextForDecision(ctx, req.OrgID, a.domain, query, 5)
	if err != nil {
		return model.AgentDecision{}, fmt.Errorf("orchestrator: %s: gather context: %w", a.agentType, err)
	}

	confidence, reasoning, actions := a.score(decCtx)

	return model.AgentDecision{
		AgentID:             a.agentType,
		Type:                req.DecisionType,
		Urgency:             req.Urgency,
		Confidence:          confidence,
		Reasoning:           reasoning,
		RecommendedActions:  actions,
		InputContext:        req.InputContext,
		Output:              decisionOutput(decCtx),
		RequiresHumanReview: confidence < a.reviewThreshold,
	}, nil
}

func (a *domainAgent) score(decCtx *model.DecisionContextResult) (confidence float64, reasoning string, actions []string) {
	if len(decCtx.Entities) == 0 {
		return 0.3, fmt.Sprintf("no %s knowledge found to support this decision; defaulting to low confidence", a.domain),
			[]string{"escalate_for_human_review", "collect_additional_context"}
	}

	var total float32
	for _, e := range decCtx.Entities {
		total += e.ConfidenceScore
	}
	avg := total / float32(len(decCtx.Entities))

	var titles []string
	for _, e := range decCtx.Entities {
		titles = append(titles, e.Title)
	}

	reasoning = fmt.Sprintf("considered %d %s knowledge entities (avg confidence %.2f): %s",
		len(decCtx.Entities), a.domain, avg, strings.Join(titles, "; "))

	actions = []string{"record_decision"}
	if float32(avg) < a.reviewThreshold {
		actions = append(actions, "escalate_for_human_review")
	}

	return float64(avg), reasoning, actions
}

func decisionOutput(decCtx *model.DecisionContextResult) map[string]any {
	return map[string]any{
		"supporting_entity_count": len(decCtx.Entities),
		"decision_patterns":       decCtx.DecisionPatterns,
	}
}
