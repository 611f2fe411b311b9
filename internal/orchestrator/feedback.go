package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/compliance-agents/coordination-core/internal/knowledge"
	"github.com/compliance-agents/coordination-core/internal/messagebus"
	"github.com/compliance-agents/coordination-core/internal/model"
)

// IncorporateFeedback records an observed outcome for a previously made
// decision, nudging the VKS entities that informed it (AppliedEntityIDs)
// by the feedback score, and publishes a decision_feedback message so any
// conversation or consensus session waiting on the outcome can react.
func (o *Orchestrator) IncorporateFeedback(ctx context.Context, orgID uuid.UUID, store *knowledge.Store, fb model.LearningFeedback) error {
	if fb.Score < -1 || fb.Score > 1 {
		return model.InvalidInput("feedback score must be in [-1,1], got %f", fb.Score)
	}

	if _, err := o.pool.Exec(ctx,
		`INSERT INTO learning_feedback (decision_id, org_id, type, score, notes, applied_entity_ids, observed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,now())`,
		fb.DecisionID, orgID, fb.Type, fb.Score, fb.Notes, fb.AppliedEntityIDs,
	); err != nil {
		return fmt.Errorf("orchestrator: insert feedback: %w", err)
	}

	if store != nil {
		for _, entityID := range fb.AppliedEntityIDs {
			if _, err := store.LearnFromInteraction(ctx, orgID, fb.Notes, entityID, fb.Score); err != nil {
				o.logger.Warn("orchestrator: failed to apply feedback to knowledge entity", "entity_id", entityID, "error", err)
			}
		}
	}

	if o.bus != nil {
		_, err := o.bus.Send(ctx, messagebus.SendInput{
			OrgID: orgID,
			From:  "orchestrator",
			To:    []string{"*"},
			Type:  "decision_feedback",
			Payload: map[string]any{
				"decision_id": fb.DecisionID.String(),
				"score":       fb.Score,
			},
		})
		if err != nil {
			o.logger.Warn("orchestrator: failed to publish decision_feedback", "decision_id", fb.DecisionID, "error", err)
		}
	}

	return nil
}
