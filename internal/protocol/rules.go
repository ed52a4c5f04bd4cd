// Package protocol: exit-condition signal rules.
//
// Which textual and emotional signals satisfy which completion criterion is
// protocol configuration, not hard-coded planner logic. A compiled-in default
// rule set ships with the binary; deployments can override it with a YAML
// file so protocol authors can tune lexicons without a rebuild.
package protocol

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/attunelab/trtflow/internal/models"
	"gopkg.in/yaml.v3"
)

// SignalRule describes when a single criterion counts as satisfied by one
// turn's preprocessing result. AnyPhrase matches as a substring of the
// corrected input (lowercased); Emotions, when non-empty, additionally
// requires the classified primary emotion to be one of the listed labels
// with at least MinIntensity.
type SignalRule struct {
	Criterion    models.Criterion `yaml:"criterion"`
	AnyPhrase    []string         `yaml:"any_phrase"`
	Emotions     []models.Emotion `yaml:"emotions,omitempty"`
	MinIntensity int              `yaml:"min_intensity,omitempty"`
}

// Rules is the full signal-rule configuration plus planner tunables.
type Rules struct {
	Signals           []SignalRule `yaml:"signals"`
	BodyQuestionLimit int          `yaml:"body_question_limit"`
}

// DefaultBodyQuestionLimit is the ceiling of consecutive body-focus holds
// before the planner branches to the fallback substage.
const DefaultBodyQuestionLimit = 5

// DefaultRules returns the compiled-in rule set.
func DefaultRules() Rules {
	return Rules{
		BodyQuestionLimit: DefaultBodyQuestionLimit,
		Signals: []SignalRule{
			{
				Criterion: CriterionGoalEstablished,
				AnyPhrase: []string{"i want", "my goal", "i'd like", "i would like", "i wish", "i need to"},
			},
			{
				Criterion: CriterionVisionCreated,
				AnyPhrase: []string{"i imagine", "i picture", "i see myself", "it would look like", "i could finally", "life would be"},
			},
			{
				Criterion: CriterionProblemIdentified,
				AnyPhrase: []string{"the problem", "what happened", "ever since", "i struggle", "it started when", "i can't stop"},
			},
			{
				Criterion: CriterionBodyAwarenessPresent,
				AnyPhrase: []string{"my body", "i feel it in", "physically", "tense", "tension", "my breath", "my breathing"},
			},
			{
				Criterion: CriterionBodyLocationNamed,
				AnyPhrase: []string{"chest", "stomach", "belly", "throat", "shoulders", "neck", "head", "back", "arms", "legs", "jaw", "heart"},
			},
			{
				Criterion: CriterionSensationDescribed,
				AnyPhrase: []string{"tight", "heavy", "burning", "cold", "warm", "numb", "pressure", "knot", "tingling", "aching", "hollow", "fluttering"},
			},
			{
				Criterion:    CriterionEmotionNamed,
				AnyPhrase:    []string{"i feel", "i am feeling", "i'm feeling", "it feels like", "makes me feel"},
				Emotions:     []models.Emotion{models.EmotionSad, models.EmotionAnxious, models.EmotionAngry, models.EmotionAfraid},
				MinIntensity: 1,
			},
			{
				Criterion: CriterionResourceRecalled,
				AnyPhrase: []string{"i remember", "i felt safe", "i felt strong", "back then", "there was a time", "with my", "reminds me of"},
			},
			{
				Criterion: CriterionInsightStated,
				AnyPhrase: []string{"i realize", "i realise", "now i see", "it makes sense", "i understand now", "different now", "lighter"},
			},
			{
				Criterion: CriterionAlphaSequenceDefined,
				AnyPhrase: []string{"i will", "i'm going to", "i am going to", "first step", "my plan", "i commit"},
			},
			{
				Criterion: CriterionAlphaExecuted,
				AnyPhrase: []string{"i did it", "i tried it", "it worked", "i followed through", "i took the step", "i practiced", "i practised"},
			},
		},
	}
}

// LoadRules reads a YAML rule file and merges it over the defaults: a file
// may override the body-question limit, individual criterion rules, or both.
func LoadRules(path string) (Rules, error) {
	slog.Debug("protocol.LoadRules: loading rule overrides", "path", path)
	base := DefaultRules()

	content, err := os.ReadFile(path)
	if err != nil {
		slog.Error("protocol.LoadRules: failed to read rule file", "path", path, "error", err)
		return base, fmt.Errorf("failed to read protocol rules file: %w", err)
	}

	var override Rules
	if err := yaml.Unmarshal(content, &override); err != nil {
		slog.Error("protocol.LoadRules: failed to parse rule file", "path", path, "error", err)
		return base, fmt.Errorf("failed to parse protocol rules file: %w", err)
	}

	if override.BodyQuestionLimit > 0 {
		base.BodyQuestionLimit = override.BodyQuestionLimit
	}
	for _, rule := range override.Signals {
		replaced := false
		for i := range base.Signals {
			if base.Signals[i].Criterion == rule.Criterion {
				base.Signals[i] = rule
				replaced = true
				break
			}
		}
		if !replaced {
			slog.Warn("protocol.LoadRules: override names unknown criterion, skipping", "criterion", rule.Criterion)
		}
	}

	if err := base.Validate(); err != nil {
		return DefaultRules(), err
	}
	slog.Info("protocol.LoadRules: rule overrides applied", "path", path, "body_question_limit", base.BodyQuestionLimit)
	return base, nil
}

// Validate checks that every signal rule names a known criterion and has at
// least one phrase.
func (r Rules) Validate() error {
	known := make(map[models.Criterion]bool, len(AllCriteria))
	for _, c := range AllCriteria {
		known[c] = true
	}
	for _, rule := range r.Signals {
		if !known[rule.Criterion] {
			return fmt.Errorf("%w: %s", models.ErrUnknownCriterion, rule.Criterion)
		}
		if len(rule.AnyPhrase) == 0 {
			return fmt.Errorf("signal rule for %s has no phrases", rule.Criterion)
		}
	}
	if r.BodyQuestionLimit <= 0 {
		return fmt.Errorf("body question limit must be positive, got %d", r.BodyQuestionLimit)
	}
	return nil
}

// Evaluate returns the criteria satisfied by one turn's preprocessing result,
// in rule order. It inspects only the current turn; it never infers criteria
// from absent evidence.
func (r Rules) Evaluate(pre models.PreprocessingResult) []models.Criterion {
	text := strings.ToLower(pre.CorrectedInput)
	var satisfied []models.Criterion
	for _, rule := range r.Signals {
		if rule.matches(text, pre.EmotionalState) {
			satisfied = append(satisfied, rule.Criterion)
		}
	}
	return satisfied
}

func (rule SignalRule) matches(text string, state models.EmotionalState) bool {
	phraseHit := false
	for _, p := range rule.AnyPhrase {
		if strings.Contains(text, strings.ToLower(p)) {
			phraseHit = true
			break
		}
	}
	if !phraseHit {
		return false
	}
	if len(rule.Emotions) > 0 {
		emotionHit := false
		for _, e := range rule.Emotions {
			if state.Primary == e {
				emotionHit = true
				break
			}
		}
		if !emotionHit || state.Intensity < rule.MinIntensity {
			return false
		}
	}
	return true
}
