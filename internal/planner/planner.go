// Package planner decides how a session moves through the protocol given one
// preprocessed client turn.
//
// The priority order of the rules is the core correctness property and is
// fixed: safety escalation, then exit-condition advance, then body-question
// ceiling branch, then hold. The planner is stateless and pure: it inspects
// only the values passed to it and never retains references across turns,
// and it never credits a criterion the current turn's evidence does not
// support.
package planner

import (
	"log/slog"

	"github.com/attunelab/trtflow/internal/models"
	"github.com/attunelab/trtflow/internal/protocol"
	"github.com/attunelab/trtflow/internal/retrieval"
)

// Planner evaluates navigation rules against a configured rule set.
type Planner struct {
	rules protocol.Rules
}

// New creates a Planner with the given protocol rules.
func New(rules protocol.Rules) *Planner {
	return &Planner{rules: rules}
}

// Decide produces the navigation decision for one turn. The passed session is
// read-only; the decision is applied separately by the state machine.
func (p *Planner) Decide(session *models.Session, pre models.PreprocessingResult, passages []retrieval.Passage) models.NavigationDecision {
	// Criteria satisfied by this turn's evidence, regardless of the action
	// taken: they accumulate monotonically so a later turn can complete the
	// exit condition.
	newlySatisfied := p.newCriteria(session, pre)

	// Rule 1: safety flags always escalate, unconditionally.
	if pre.HasSafetyFlags() {
		slog.Warn("Planner.Decide: escalating on safety flags", "session_id", session.ID, "flags", pre.SafetyFlags)
		return models.NavigationDecision{
			Action:          models.ActionEscalate,
			Reason:          models.ReasonSafetyFlagged,
			CriteriaUpdates: newlySatisfied,
		}
	}

	// Rule 2: advance when the current substage's exit condition is met by
	// accumulated criteria plus this turn's updates.
	if p.exitSatisfied(session, newlySatisfied) {
		slog.Debug("Planner.Decide: exit condition satisfied", "session_id", session.ID, "stage", session.Stage, "updates", newlySatisfied)
		return models.NavigationDecision{
			Action:          models.ActionAdvance,
			Reason:          models.ReasonExitSatisfied,
			CriteriaUpdates: newlySatisfied,
		}
	}

	// Rule 3: escape hatch out of body-focus substages once the question
	// ceiling is reached without satisfying the exit condition.
	if protocol.IsBodyFocus(session.Stage) && session.BodyQuestionCount >= p.rules.BodyQuestionLimit {
		slog.Info("Planner.Decide: body question ceiling reached, branching",
			"session_id", session.ID, "stage", session.Stage,
			"count", session.BodyQuestionCount, "limit", p.rules.BodyQuestionLimit)
		return models.NavigationDecision{
			Action:          models.ActionBranch,
			BranchTarget:    protocol.BodyFallbackStage,
			Reason:          models.ReasonBodyCeilingReached,
			CriteriaUpdates: newlySatisfied,
		}
	}

	// Rule 4: hold and ask a follow-up consistent with the current substage.
	slog.Debug("Planner.Decide: holding", "session_id", session.ID, "stage", session.Stage, "updates", newlySatisfied)
	return models.NavigationDecision{
		Action:          models.ActionHold,
		Reason:          models.ReasonNeedMoreSignal,
		CriteriaUpdates: newlySatisfied,
	}
}

// newCriteria evaluates the signal rules against this turn and keeps only
// criteria not already satisfied on the session.
func (p *Planner) newCriteria(session *models.Session, pre models.PreprocessingResult) []models.Criterion {
	var out []models.Criterion
	for _, c := range p.rules.Evaluate(pre) {
		if !session.CompletionCriteria[c] {
			out = append(out, c)
		}
	}
	return out
}

// exitSatisfied reports whether every criterion the current substage requires
// is covered by accumulated state or this turn's updates.
func (p *Planner) exitSatisfied(session *models.Session, updates []models.Criterion) bool {
	required := protocol.ExitCriteria(session.Stage)
	if len(required) == 0 {
		// The terminal substage has no exit condition; it advances only when
		// the turn carries any positive signal at all.
		return len(updates) > 0 || session.TurnCount > 0
	}
	fresh := make(map[models.Criterion]bool, len(updates))
	for _, c := range updates {
		fresh[c] = true
	}
	for _, c := range required {
		if !session.CompletionCriteria[c] && !fresh[c] {
			return false
		}
	}
	return true
}
