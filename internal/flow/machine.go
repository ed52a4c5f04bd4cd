// Package flow owns the session state machine and the per-turn orchestration
// around it: applying navigation decisions as transitions, composing
// therapist responses, and persisting the outcome.
package flow

import (
	"fmt"
	"log/slog"

	"github.com/attunelab/trtflow/internal/models"
	"github.com/attunelab/trtflow/internal/protocol"
)

// Apply executes one navigation decision against a session, mutating it in
// place. It is the only code that changes stage, status, criteria, or
// counters.
//
// Apply is deterministic and clock-free: replaying the same decision against
// the same starting snapshot yields an identical result. Validation happens
// before any mutation, so a rejected decision leaves the session unchanged.
func Apply(session *models.Session, decision models.NavigationDecision) error {
	if session.Status != models.SessionStatusActive {
		return fmt.Errorf("%w: status %s", models.ErrSessionClosed, session.Status)
	}
	if !protocol.IsValidStage(session.Stage) {
		return fmt.Errorf("%w: %s", models.ErrUnknownStage, session.Stage)
	}

	switch decision.Action {
	case models.ActionAdvance:
		next, hasNext := protocol.NextStage(session.Stage)
		mergeCriteria(session, decision.CriteriaUpdates)
		if hasNext {
			session.Stage = next
		} else {
			// Advancing past the terminal substage completes the protocol.
			session.Status = models.SessionStatusCompleted
		}
		session.TurnCount++

	case models.ActionHold:
		mergeCriteria(session, decision.CriteriaUpdates)
		if protocol.IsBodyFocus(session.Stage) {
			session.BodyQuestionCount++
		}
		session.TurnCount++

	case models.ActionBranch:
		if !protocol.CanBranch(session.Stage, decision.BranchTarget) {
			slog.Error("flow.Apply: branch target unreachable",
				"session_id", session.ID, "from", session.Stage, "to", decision.BranchTarget)
			return fmt.Errorf("%w: no edge %s -> %s", models.ErrInvalidTransition, session.Stage, decision.BranchTarget)
		}
		mergeCriteria(session, decision.CriteriaUpdates)
		session.Stage = decision.BranchTarget
		session.TurnCount++

	case models.ActionEscalate:
		// Criteria updates are still merged for audit completeness.
		mergeCriteria(session, decision.CriteriaUpdates)
		session.Status = models.SessionStatusTerminated
		session.TurnCount++

	default:
		return fmt.Errorf("%w: unknown action %q", models.ErrInvalidTransition, decision.Action)
	}

	slog.Debug("flow.Apply: decision applied",
		"session_id", session.ID, "action", decision.Action, "reason", decision.Reason,
		"stage", session.Stage, "status", session.Status, "turn_count", session.TurnCount)
	return nil
}

// mergeCriteria sets the given flags to true. Criteria are monotonic: they
// are never cleared within a session.
func mergeCriteria(session *models.Session, updates []models.Criterion) {
	if len(updates) == 0 {
		return
	}
	if session.CompletionCriteria == nil {
		session.CompletionCriteria = protocol.NewCriteriaMap()
	}
	for _, c := range updates {
		session.CompletionCriteria[c] = true
	}
}
