package preprocess

import (
	"reflect"
	"testing"

	"github.com/attunelab/trtflow/internal/models"
)

func TestProcessEmptyInputDegrades(t *testing.T) {
	p := NewProcessor()
	for _, raw := range []string{"", "   ", "\n\t"} {
		result := p.Process(raw)
		if result.CorrectedInput != raw {
			t.Errorf("Process(%q) changed input to %q", raw, result.CorrectedInput)
		}
		if result.EmotionalState.Primary != models.EmotionUnknown {
			t.Errorf("Process(%q) emotion = %s, want unknown", raw, result.EmotionalState.Primary)
		}
		if result.HasSafetyFlags() {
			t.Errorf("Process(%q) raised safety flags %v", raw, result.SafetyFlags)
		}
	}
}

func TestProcessSpellingCorrection(t *testing.T) {
	p := NewProcessor()
	tests := []struct {
		in   string
		want string
	}{
		{"I feal anxius", "I feel anxious"},
		{"my stomache, it hurts", "my stomach, it hurts"},
		{"I'm realy stressd today", "I'm really stressed today"},
		{"it tightens when I breathe", "it tightens when I breathe"},
		{"nothing to fix here", "nothing to fix here"},
	}
	for _, tt := range tests {
		if got := p.Process(tt.in).CorrectedInput; got != tt.want {
			t.Errorf("Process(%q).CorrectedInput = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProcessEmotionClassification(t *testing.T) {
	p := NewProcessor()
	tests := []struct {
		name      string
		in        string
		emotion   models.Emotion
		intensity int
	}{
		{"stressed maps to anxious with booster", "I'm feeling really stressed", models.EmotionAnxious, 2},
		{"plain sadness", "I have been sad lately", models.EmotionSad, 1},
		{"anger", "I am furious about it", models.EmotionAngry, 1},
		{"fear with exclamation", "I'm terrified!", models.EmotionAfraid, 2},
		{"no emotion words", "we talked about the garden", models.EmotionUnknown, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := p.Process(tt.in).EmotionalState
			if state.Primary != tt.emotion {
				t.Errorf("emotion = %s, want %s", state.Primary, tt.emotion)
			}
			if state.Intensity != tt.intensity {
				t.Errorf("intensity = %d, want %d", state.Intensity, tt.intensity)
			}
		})
	}
}

func TestProcessEmotionTieBreaksConsistently(t *testing.T) {
	p := NewProcessor()
	// "sad" and "angry" each score one hit; the tie must resolve the same
	// way on every call.
	const in = "I am sad and angry about it"
	first := p.Process(in).EmotionalState
	if first.Primary != models.EmotionSad {
		t.Fatalf("emotion = %s, want sad as the tie winner", first.Primary)
	}
	for i := 0; i < 200; i++ {
		if got := p.Process(in).EmotionalState; got != first {
			t.Fatalf("run %d classified %+v, earlier runs got %+v", i, got, first)
		}
	}
}

func TestProcessIntensityCapped(t *testing.T) {
	p := NewProcessor()
	state := p.Process("I feel so sad, down, hopeless, empty and lonely!").EmotionalState
	if state.Primary != models.EmotionSad {
		t.Fatalf("emotion = %s, want sad", state.Primary)
	}
	if state.Intensity != MaxIntensity {
		t.Errorf("intensity = %d, want capped at %d", state.Intensity, MaxIntensity)
	}
}

func TestProcessSafetyFlags(t *testing.T) {
	p := NewProcessor()
	tests := []struct {
		name string
		in   string
		want []models.SafetyFlag
	}{
		{"self harm", "sometimes I want to kill myself", []models.SafetyFlag{models.SafetySelfHarm}},
		{"crisis", "I can't go on like this", []models.SafetyFlag{models.SafetyCrisis}},
		{"harm to others", "I want to make them pay", []models.SafetyFlag{models.SafetyHarmToOthers}},
		{"multiple flags sorted", "I want to kill myself and hurt someone", []models.SafetyFlag{models.SafetyHarmToOthers, models.SafetySelfHarm}},
		{"benign body talk", "my chest feels tight when I breathe", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Process(tt.in).SafetyFlags
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("flags = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProcessSafetyNotSuppressedByEmotion(t *testing.T) {
	p := NewProcessor()
	result := p.Process("I feel so hopeless, there is no reason to live")
	if !result.HasSafetyFlags() {
		t.Fatal("expected safety flags alongside classified emotion")
	}
	if result.EmotionalState.Primary != models.EmotionSad {
		t.Errorf("emotion = %s, want sad", result.EmotionalState.Primary)
	}
}

func TestProcessDeterministic(t *testing.T) {
	p := NewProcessor()
	inputs := []string{
		"I feal realy anxius, my chest is tight",
		"I am sad and angry about it",
		"I want to kill myself and hurt someone",
	}
	for _, in := range inputs {
		first := p.Process(in)
		for i := 0; i < 50; i++ {
			if got := p.Process(in); !reflect.DeepEqual(got, first) {
				t.Fatalf("input %q run %d differs: %+v vs %+v", in, i, got, first)
			}
		}
	}
}
