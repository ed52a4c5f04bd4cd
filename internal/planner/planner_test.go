package planner

import (
	"testing"

	"github.com/attunelab/trtflow/internal/models"
	"github.com/attunelab/trtflow/internal/protocol"
)

func newTestSession(stage models.Stage) *models.Session {
	return &models.Session{
		ID:                 "test-session",
		Stage:              stage,
		Status:             models.SessionStatusActive,
		CompletionCriteria: protocol.NewCriteriaMap(),
	}
}

func TestDecideSafetyEscalatesUnconditionally(t *testing.T) {
	p := New(protocol.DefaultRules())

	// Even a turn that would otherwise satisfy the exit condition escalates.
	session := newTestSession(protocol.StageEmotionNaming)
	session.CompletionCriteria[protocol.CriterionEmotionNamed] = true

	pre := models.PreprocessingResult{
		CorrectedInput: "I feel hopeless and want to die",
		EmotionalState: models.EmotionalState{Primary: models.EmotionSad, Intensity: 3},
		SafetyFlags:    []models.SafetyFlag{models.SafetySelfHarm},
	}
	decision := p.Decide(session, pre, nil)
	if decision.Action != models.ActionEscalate {
		t.Fatalf("action = %s, want escalate", decision.Action)
	}
	if decision.Reason != models.ReasonSafetyFlagged {
		t.Errorf("reason = %s, want %s", decision.Reason, models.ReasonSafetyFlagged)
	}
}

func TestDecideAdvanceOnExitCondition(t *testing.T) {
	p := New(protocol.DefaultRules())

	// One criterion already accumulated, the other arrives this turn.
	session := newTestSession(protocol.StageGoalAndVision)
	session.CompletionCriteria[protocol.CriterionGoalEstablished] = true
	session.TurnCount = 2

	pre := models.PreprocessingResult{CorrectedInput: "I imagine waking up without the dread"}
	decision := p.Decide(session, pre, nil)
	if decision.Action != models.ActionAdvance {
		t.Fatalf("action = %s, want advance", decision.Action)
	}
	if decision.Reason != models.ReasonExitSatisfied {
		t.Errorf("reason = %s, want %s", decision.Reason, models.ReasonExitSatisfied)
	}
	if len(decision.CriteriaUpdates) != 1 || decision.CriteriaUpdates[0] != protocol.CriterionVisionCreated {
		t.Errorf("criteria updates = %v, want [vision_created]", decision.CriteriaUpdates)
	}
}

func TestDecideHoldOnInsufficientSignal(t *testing.T) {
	p := New(protocol.DefaultRules())
	session := newTestSession(protocol.StageGoalAndVision)

	pre := models.PreprocessingResult{CorrectedInput: "I want things to change"}
	decision := p.Decide(session, pre, nil)
	if decision.Action != models.ActionHold {
		t.Fatalf("action = %s, want hold", decision.Action)
	}
	if decision.Reason != models.ReasonNeedMoreSignal {
		t.Errorf("reason = %s, want %s", decision.Reason, models.ReasonNeedMoreSignal)
	}
	// The partially satisfied criterion is still credited on a hold.
	if len(decision.CriteriaUpdates) != 1 || decision.CriteriaUpdates[0] != protocol.CriterionGoalEstablished {
		t.Errorf("criteria updates = %v, want [goal_established]", decision.CriteriaUpdates)
	}
}

func TestDecideBodyCeilingBranch(t *testing.T) {
	rules := protocol.DefaultRules()
	rules.BodyQuestionLimit = 3
	p := New(rules)

	session := newTestSession(protocol.StageBodyDialogue)
	session.BodyQuestionCount = 3

	pre := models.PreprocessingResult{CorrectedInput: "I don't know, I can't tell"}
	decision := p.Decide(session, pre, nil)
	if decision.Action != models.ActionBranch {
		t.Fatalf("action = %s, want branch", decision.Action)
	}
	if decision.BranchTarget != protocol.BodyFallbackStage {
		t.Errorf("branch target = %s, want %s", decision.BranchTarget, protocol.BodyFallbackStage)
	}
	if decision.Reason != models.ReasonBodyCeilingReached {
		t.Errorf("reason = %s, want %s", decision.Reason, models.ReasonBodyCeilingReached)
	}
}

func TestDecideCeilingBelowLimitHolds(t *testing.T) {
	rules := protocol.DefaultRules()
	rules.BodyQuestionLimit = 3
	p := New(rules)

	session := newTestSession(protocol.StageBodyDialogue)
	session.BodyQuestionCount = 2

	decision := p.Decide(session, models.PreprocessingResult{CorrectedInput: "hm"}, nil)
	if decision.Action != models.ActionHold {
		t.Errorf("action = %s, want hold below the ceiling", decision.Action)
	}
}

func TestDecideCeilingIgnoredOutsideBodyFocus(t *testing.T) {
	rules := protocol.DefaultRules()
	rules.BodyQuestionLimit = 1
	p := New(rules)

	session := newTestSession(protocol.StageResourceRecall)
	session.BodyQuestionCount = 10

	decision := p.Decide(session, models.PreprocessingResult{CorrectedInput: "hm"}, nil)
	if decision.Action != models.ActionHold {
		t.Errorf("action = %s, want hold on non-body-focus stage", decision.Action)
	}
}

func TestDecideExitBeatsCeiling(t *testing.T) {
	rules := protocol.DefaultRules()
	rules.BodyQuestionLimit = 2
	p := New(rules)

	session := newTestSession(protocol.StageEmotionNaming)
	session.BodyQuestionCount = 5

	pre := models.PreprocessingResult{
		CorrectedInput: "I feel afraid",
		EmotionalState: models.EmotionalState{Primary: models.EmotionAfraid, Intensity: 1},
	}
	decision := p.Decide(session, pre, nil)
	if decision.Action != models.ActionAdvance {
		t.Errorf("action = %s, want advance: exit condition outranks the ceiling", decision.Action)
	}
}

func TestDecideNeverCreditsUnsupportedCriteria(t *testing.T) {
	p := New(protocol.DefaultRules())
	session := newTestSession(protocol.StageBodyDialogue)

	decision := p.Decide(session, models.PreprocessingResult{CorrectedInput: "maybe, I guess"}, nil)
	if len(decision.CriteriaUpdates) != 0 {
		t.Errorf("contentless turn credited criteria %v", decision.CriteriaUpdates)
	}
}

func TestDecideDropsAlreadySatisfiedCriteria(t *testing.T) {
	p := New(protocol.DefaultRules())
	session := newTestSession(protocol.StageBodyDialogue)
	session.CompletionCriteria[protocol.CriterionBodyLocationNamed] = true

	pre := models.PreprocessingResult{CorrectedInput: "still in my chest"}
	decision := p.Decide(session, pre, nil)
	for _, c := range decision.CriteriaUpdates {
		if c == protocol.CriterionBodyLocationNamed {
			t.Error("already-satisfied criterion reappeared in updates")
		}
	}
}

func TestDecideDoesNotMutateSession(t *testing.T) {
	p := New(protocol.DefaultRules())
	session := newTestSession(protocol.StageGoalAndVision)
	session.TurnCount = 3
	before := session.Clone()

	pre := models.PreprocessingResult{CorrectedInput: "I want to sleep again, I imagine calm mornings"}
	p.Decide(session, pre, nil)

	if session.TurnCount != before.TurnCount || session.Stage != before.Stage {
		t.Error("Decide mutated the session")
	}
	for c, v := range before.CompletionCriteria {
		if session.CompletionCriteria[c] != v {
			t.Errorf("Decide mutated criterion %s", c)
		}
	}
}

func TestDecideTerminalStageAdvancesToComplete(t *testing.T) {
	p := New(protocol.DefaultRules())
	session := newTestSession(protocol.StageClosing)
	session.TurnCount = 20

	decision := p.Decide(session, models.PreprocessingResult{CorrectedInput: "thank you"}, nil)
	if decision.Action != models.ActionAdvance {
		t.Errorf("action = %s, want advance past the terminal substage", decision.Action)
	}
}
