// Package protocol defines the Trauma Resolution Therapy stage catalog:
// the ordered set of substages, the branch table for protocol detours, the
// fixed completion-criteria set, and the per-substage exit conditions.
//
// The catalog is an explicit enumerated graph rather than scattered
// conditionals so the planner's rules stay auditable and testable in
// isolation from generation and retrieval I/O.
package protocol

import (
	"fmt"

	"github.com/attunelab/trtflow/internal/models"
)

// Substage constants, in catalog order.
const (
	StageGoalAndVision  models.Stage = "1.1_goal_and_vision"
	StageProblemAndBody models.Stage = "1.2_problem_and_body"
	StageBodyDialogue   models.Stage = "1.3_body_dialogue"
	StageEmotionNaming  models.Stage = "2.1_emotion_naming"
	StageResourceRecall models.Stage = "2.2_resource_recall"
	StageIntegration    models.Stage = "2.3_integration"
	StageAlphaDesign    models.Stage = "3.1_alpha_design"
	StageAlphaExecution models.Stage = "3.2_alpha_execution"
	StageClosing        models.Stage = "3.3_closing"
)

// Completion criteria constants. The set is fixed at exactly these 11 flags.
const (
	CriterionGoalEstablished      models.Criterion = "goal_established"
	CriterionVisionCreated        models.Criterion = "vision_created"
	CriterionProblemIdentified    models.Criterion = "problem_identified"
	CriterionBodyAwarenessPresent models.Criterion = "body_awareness_present"
	CriterionBodyLocationNamed    models.Criterion = "body_location_named"
	CriterionSensationDescribed   models.Criterion = "sensation_described"
	CriterionEmotionNamed         models.Criterion = "emotion_named"
	CriterionResourceRecalled     models.Criterion = "resource_recalled"
	CriterionInsightStated        models.Criterion = "insight_stated"
	CriterionAlphaSequenceDefined models.Criterion = "alpha_sequence_defined"
	CriterionAlphaExecuted        models.Criterion = "alpha_executed"
)

// catalogOrder is the total order of substages. The default transition edge
// is "next substage in this order".
var catalogOrder = []models.Stage{
	StageGoalAndVision,
	StageProblemAndBody,
	StageBodyDialogue,
	StageEmotionNaming,
	StageResourceRecall,
	StageIntegration,
	StageAlphaDesign,
	StageAlphaExecution,
	StageClosing,
}

// AllCriteria lists the 11 completion-criteria flags in a stable order.
var AllCriteria = []models.Criterion{
	CriterionGoalEstablished,
	CriterionVisionCreated,
	CriterionProblemIdentified,
	CriterionBodyAwarenessPresent,
	CriterionBodyLocationNamed,
	CriterionSensationDescribed,
	CriterionEmotionNamed,
	CriterionResourceRecalled,
	CriterionInsightStated,
	CriterionAlphaSequenceDefined,
	CriterionAlphaExecuted,
}

// stageInfo holds the static definition of one substage.
type stageInfo struct {
	index     int
	bodyFocus bool
	exitNeeds []models.Criterion // criteria required to advance past this substage
	intent    string             // therapeutic intent, embedded in generation prompts
	fallback  string             // deterministic utterance used when generation fails
}

var stages = map[models.Stage]stageInfo{
	StageGoalAndVision: {
		index:     0,
		exitNeeds: []models.Criterion{CriterionGoalEstablished, CriterionVisionCreated},
		intent:    "Help the client state what they want from this work and sketch a concrete vision of life once the problem is resolved.",
		fallback:  "Let's start with what brought you here. What would you like to be different in your life when this work is done?",
	},
	StageProblemAndBody: {
		index:     1,
		bodyFocus: true,
		exitNeeds: []models.Criterion{CriterionProblemIdentified, CriterionBodyAwarenessPresent},
		intent:    "Invite the client to describe the problem and notice how it shows up in their body right now.",
		fallback:  "As you think about the problem, notice what happens in your body. What do you become aware of?",
	},
	StageBodyDialogue: {
		index:     2,
		bodyFocus: true,
		exitNeeds: []models.Criterion{CriterionBodyLocationNamed, CriterionSensationDescribed},
		intent:    "Guide attention to where the feeling lives in the body and what the sensation is like.",
		fallback:  "Where in your body do you feel it most, and what is the sensation like there?",
	},
	StageEmotionNaming: {
		index:     3,
		bodyFocus: true,
		exitNeeds: []models.Criterion{CriterionEmotionNamed},
		intent:    "Help the client put a name to the emotion carried by the body sensation.",
		fallback:  "If that sensation could speak, what feeling would it name?",
	},
	StageResourceRecall: {
		index:     4,
		exitNeeds: []models.Criterion{CriterionResourceRecalled},
		intent:    "Invite the client to recall a time or place where they felt safe, strong, or supported.",
		fallback:  "Think of a moment when you felt genuinely safe or strong. What comes to mind?",
	},
	StageIntegration: {
		index:     5,
		exitNeeds: []models.Criterion{CriterionInsightStated},
		intent:    "Support the client in connecting the resource experience with the problem and noticing what has shifted.",
		fallback:  "Holding that resource in mind, look back at the problem. What do you notice now?",
	},
	StageAlphaDesign: {
		index:     6,
		exitNeeds: []models.Criterion{CriterionAlphaSequenceDefined},
		intent:    "Work out the client's alpha sequence: the first small concrete action that puts the shift into practice.",
		fallback:  "What would be the first small, concrete step you could take this week?",
	},
	StageAlphaExecution: {
		index:     7,
		exitNeeds: []models.Criterion{CriterionAlphaExecuted},
		intent:    "Rehearse the alpha sequence and confirm the client has carried it out or committed to it.",
		fallback:  "Walk me through doing that step. How did it go, or how will you do it?",
	},
	StageClosing: {
		index:     8,
		exitNeeds: nil, // advancing past closing completes the protocol
		intent:    "Review the work, acknowledge what the client accomplished, and close the protocol.",
		fallback:  "We've come to the end of our work together. What are you taking with you from this process?",
	},
}

// branchTable holds the named detour edges. Body-focus substages carry an
// escape hatch to resource recall so a client who cannot access body
// sensation is not looped indefinitely.
var branchTable = map[models.Stage][]models.Stage{
	StageProblemAndBody: {StageResourceRecall},
	StageBodyDialogue:   {StageResourceRecall},
	StageEmotionNaming:  {StageResourceRecall},
}

// BodyFallbackStage is the designated branch target when the body-question
// ceiling is reached.
const BodyFallbackStage = StageResourceRecall

// InitialStage returns the first substage of the catalog.
func InitialStage() models.Stage {
	return catalogOrder[0]
}

// FinalStage returns the terminal substage of the catalog.
func FinalStage() models.Stage {
	return catalogOrder[len(catalogOrder)-1]
}

// Stages returns the substages in catalog order.
func Stages() []models.Stage {
	out := make([]models.Stage, len(catalogOrder))
	copy(out, catalogOrder)
	return out
}

// IsValidStage reports whether the stage exists in the catalog.
func IsValidStage(s models.Stage) bool {
	_, ok := stages[s]
	return ok
}

// NextStage returns the substage following s in catalog order. For the final
// substage it returns ok=false.
func NextStage(s models.Stage) (models.Stage, bool) {
	info, exists := stages[s]
	if !exists || info.index+1 >= len(catalogOrder) {
		return "", false
	}
	return catalogOrder[info.index+1], true
}

// IsBodyFocus reports whether s is tagged as a body-awareness substage.
func IsBodyFocus(s models.Stage) bool {
	return stages[s].bodyFocus
}

// ExitCriteria returns the criteria required to advance past s.
func ExitCriteria(s models.Stage) []models.Criterion {
	needs := stages[s].exitNeeds
	out := make([]models.Criterion, len(needs))
	copy(out, needs)
	return out
}

// CanBranch reports whether the branch table contains an edge from→to.
func CanBranch(from, to models.Stage) bool {
	for _, target := range branchTable[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Intent returns the therapeutic intent text for a substage.
func Intent(s models.Stage) string {
	return stages[s].intent
}

// FallbackUtterance returns the deterministic utterance used when generation
// fails or produces degenerate output for a substage.
func FallbackUtterance(s models.Stage) string {
	if info, ok := stages[s]; ok {
		return info.fallback
	}
	return "Take a moment, and tell me what you are noticing right now."
}

// NewCriteriaMap returns a fresh all-false criteria map for a new session.
func NewCriteriaMap() map[models.Criterion]bool {
	m := make(map[models.Criterion]bool, len(AllCriteria))
	for _, c := range AllCriteria {
		m[c] = false
	}
	return m
}

// ValidateCatalog checks internal consistency of the stage catalog and branch
// table. It is called from tests and at startup.
func ValidateCatalog() error {
	if len(stages) != len(catalogOrder) {
		return fmt.Errorf("catalog order lists %d stages, definitions hold %d", len(catalogOrder), len(stages))
	}
	for i, s := range catalogOrder {
		info, ok := stages[s]
		if !ok {
			return fmt.Errorf("stage %s missing definition", s)
		}
		if info.index != i {
			return fmt.Errorf("stage %s has index %d, expected %d", s, info.index, i)
		}
	}
	known := make(map[models.Criterion]bool, len(AllCriteria))
	for _, c := range AllCriteria {
		known[c] = true
	}
	for s, info := range stages {
		for _, c := range info.exitNeeds {
			if !known[c] {
				return fmt.Errorf("stage %s requires unknown criterion %s", s, c)
			}
		}
	}
	for from, targets := range branchTable {
		if !IsValidStage(from) {
			return fmt.Errorf("branch table references unknown source stage %s", from)
		}
		for _, to := range targets {
			if !IsValidStage(to) {
				return fmt.Errorf("branch table references unknown target stage %s", to)
			}
		}
	}
	return nil
}
