// Package preprocess normalizes raw client input before navigation: spelling
// correction against a fixed lexicon, emotion classification with an
// intensity estimate, and safety checks for crisis and self-harm signals.
//
// Processing is a pure function of the input text plus the static lexicons:
// identical input always yields an identical result, which keeps the planner
// testable with synthetic turns. Safety checks run first and cannot be
// suppressed by later sub-steps.
package preprocess

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/attunelab/trtflow/internal/models"
)

// MaxIntensity is the top of the emotion intensity scale.
const MaxIntensity = 5

// corrections maps common misspellings to their corrected forms. Applied
// token-wise; tokens keep their surrounding punctuation.
var corrections = map[string]string{
	"anxius":     "anxious",
	"anxios":     "anxious",
	"stressd":    "stressed",
	"stresed":    "stressed",
	"depresed":   "depressed",
	"scard":      "scared",
	"frightend":  "frightened",
	"feal":       "feel",
	"feeel":      "feel",
	"realy":      "really",
	"shouldr":    "shoulder",
	"stomache":   "stomach",
	"stomch":     "stomach",
	"tence":      "tense",
	"overwhelmd": "overwhelmed",
}

// safetyPhrases maps trigger phrases to the safety flag they raise. Matched
// as substrings of the lowercased input, before and after correction.
var safetyPhrases = map[string]models.SafetyFlag{
	"kill myself":           models.SafetySelfHarm,
	"end my life":           models.SafetySelfHarm,
	"hurt myself":           models.SafetySelfHarm,
	"harm myself":           models.SafetySelfHarm,
	"suicide":               models.SafetySelfHarm,
	"suicidal":              models.SafetySelfHarm,
	"want to die":           models.SafetySelfHarm,
	"better off dead":       models.SafetySelfHarm,
	"end it all":            models.SafetySelfHarm,
	"no reason to live":     models.SafetySelfHarm,
	"hurt them":             models.SafetyHarmToOthers,
	"hurt someone":          models.SafetyHarmToOthers,
	"kill him":              models.SafetyHarmToOthers,
	"kill her":              models.SafetyHarmToOthers,
	"kill them":             models.SafetyHarmToOthers,
	"make them pay":         models.SafetyHarmToOthers,
	"can't go on":           models.SafetyCrisis,
	"cannot go on":          models.SafetyCrisis,
	"can't take it anymore": models.SafetyCrisis,
	"falling apart":         models.SafetyCrisis,
	"losing my mind":        models.SafetyCrisis,
}

// emotionOrder fixes the classification scan order. Ties on hit count resolve
// to the earlier entry, so identical input always yields the same label.
var emotionOrder = []models.Emotion{
	models.EmotionSad,
	models.EmotionAnxious,
	models.EmotionAngry,
	models.EmotionAfraid,
	models.EmotionHopeful,
	models.EmotionCalm,
}

// emotionLexicon maps each emotion to its indicator words.
var emotionLexicon = map[models.Emotion][]string{
	models.EmotionSad:     {"sad", "down", "depressed", "hopeless", "empty", "grief", "crying", "lonely", "miserable"},
	models.EmotionAnxious: {"anxious", "stressed", "worried", "nervous", "overwhelmed", "restless", "panicky", "on edge"},
	models.EmotionAngry:   {"angry", "furious", "mad", "rage", "resentful", "irritated", "frustrated"},
	models.EmotionAfraid:  {"afraid", "scared", "terrified", "frightened", "fearful", "dread"},
	models.EmotionHopeful: {"hopeful", "better", "relieved", "lighter", "optimistic", "grateful", "stronger"},
	models.EmotionCalm:    {"calm", "okay", "fine", "peaceful", "settled", "relaxed", "steady"},
}

// boosters amplify the intensity estimate when they precede emotion words.
var boosters = []string{"really", "very", "so", "extremely", "completely", "totally", "incredibly"}

// Processor runs the preprocessing pipeline. It holds no per-session state.
type Processor struct{}

// NewProcessor creates a Processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process runs safety checks, spelling correction, and emotion classification
// on one raw client input. Empty or unclassifiable input degrades gracefully:
// the original text is returned uncorrected with an unknown emotion.
func (p *Processor) Process(raw string) models.PreprocessingResult {
	result := models.PreprocessingResult{
		CorrectedInput: raw,
		EmotionalState: models.EmotionalState{Primary: models.EmotionUnknown},
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		slog.Debug("preprocess.Process: empty input, degrading to unknown emotion")
		return result
	}

	// Safety first: raw text is checked before correction so that a typo in
	// a trigger phrase elsewhere cannot mask a literal match.
	result.SafetyFlags = checkSafety(trimmed)

	result.CorrectedInput = correctSpelling(trimmed)

	// Re-check after correction: a corrected token may complete a phrase.
	if len(result.SafetyFlags) == 0 {
		result.SafetyFlags = checkSafety(result.CorrectedInput)
	}

	result.EmotionalState = classifyEmotion(result.CorrectedInput)
	if result.HasSafetyFlags() {
		slog.Warn("preprocess.Process: safety flags raised", "flags", result.SafetyFlags)
	} else {
		slog.Debug("preprocess.Process: input classified",
			"emotion", result.EmotionalState.Primary, "intensity", result.EmotionalState.Intensity)
	}
	return result
}

// checkSafety returns the distinct safety flags triggered by text.
func checkSafety(text string) []models.SafetyFlag {
	lower := strings.ToLower(text)
	seen := make(map[models.SafetyFlag]bool)
	var flags []models.SafetyFlag
	for phrase, flag := range safetyPhrases {
		if strings.Contains(lower, phrase) && !seen[flag] {
			seen[flag] = true
			flags = append(flags, flag)
		}
	}
	// Flags land in persisted history; a stable order keeps audit records
	// byte-identical for identical input.
	sort.Slice(flags, func(i, j int) bool { return flags[i] < flags[j] })
	return flags
}

// correctSpelling replaces known misspellings token by token, preserving
// the token's leading/trailing punctuation and letter case of unmatched text.
func correctSpelling(text string) string {
	fields := strings.Fields(text)
	for i, field := range fields {
		core := strings.ToLower(strings.Trim(field, ".,!?;:'\""))
		if corrected, ok := corrections[core]; ok {
			fields[i] = strings.Replace(field, strings.Trim(field, ".,!?;:'\""), corrected, 1)
		}
	}
	return strings.Join(fields, " ")
}

// classifyEmotion picks the emotion with the most lexicon hits and estimates
// intensity from hit count, boosters, and exclamation marks.
func classifyEmotion(text string) models.EmotionalState {
	lower := strings.ToLower(text)

	best := models.EmotionUnknown
	bestHits := 0
	for _, emotion := range emotionOrder {
		hits := 0
		for _, w := range emotionLexicon[emotion] {
			if strings.Contains(lower, w) {
				hits++
			}
		}
		if hits > bestHits {
			best = emotion
			bestHits = hits
		}
	}
	if best == models.EmotionUnknown {
		return models.EmotionalState{Primary: models.EmotionUnknown, Intensity: 0}
	}

	intensity := bestHits
	for _, b := range boosters {
		if strings.Contains(lower, b+" ") {
			intensity++
			break
		}
	}
	if strings.Contains(text, "!") {
		intensity++
	}
	if intensity > MaxIntensity {
		intensity = MaxIntensity
	}
	return models.EmotionalState{Primary: best, Intensity: intensity}
}
