package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTurnRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr error
	}{
		{"valid", "I feel tense", nil},
		{"empty", "", ErrEmptyInput},
		{"at limit", strings.Repeat("a", MaxInputLength), nil},
		{"over limit", strings.Repeat("a", MaxInputLength+1), ErrInputTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := TurnRequest{Text: tt.text}
			err := req.Validate()
			if tt.wantErr == nil && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	original := &Session{
		ID:                 "s1",
		Stage:              "1.1_goal_and_vision",
		Status:             SessionStatusActive,
		CompletionCriteria: map[Criterion]bool{"goal_established": false},
		History: []TurnRecord{{
			Input: "hello",
			Preprocessing: PreprocessingResult{
				CorrectedInput: "hello",
				SafetyFlags:    []SafetyFlag{SafetyCrisis},
			},
			Decision:  NavigationDecision{Action: ActionHold, CriteriaUpdates: []Criterion{"goal_established"}},
			Timestamp: time.Now().UTC(),
		}},
	}

	clone := original.Clone()
	clone.CompletionCriteria["goal_established"] = true
	clone.History[0].Preprocessing.SafetyFlags[0] = SafetySelfHarm
	clone.History[0].Decision.CriteriaUpdates[0] = "vision_created"
	clone.History = append(clone.History, TurnRecord{Input: "more"})

	if original.CompletionCriteria["goal_established"] {
		t.Error("clone shares the criteria map")
	}
	if original.History[0].Preprocessing.SafetyFlags[0] != SafetyCrisis {
		t.Error("clone shares the safety flag slice")
	}
	if original.History[0].Decision.CriteriaUpdates[0] != "goal_established" {
		t.Error("clone shares the criteria updates slice")
	}
	if len(original.History) != 1 {
		t.Error("clone shares the history slice header")
	}
}

func TestCloneNil(t *testing.T) {
	var s *Session
	if s.Clone() != nil {
		t.Error("cloning nil should return nil")
	}
}

func TestProgressOmitsInternals(t *testing.T) {
	s := &Session{
		ID:                 "s1",
		Stage:              "2.1_emotion_naming",
		Status:             SessionStatusActive,
		TurnCount:          7,
		BodyQuestionCount:  2,
		CompletionCriteria: map[Criterion]bool{"emotion_named": true},
		History:            []TurnRecord{{Input: "private"}},
	}
	p := s.Progress()
	if p.ID != s.ID || p.Stage != s.Stage || p.TurnCount != 7 || p.BodyQuestionCount != 2 {
		t.Errorf("progress fields mismatch: %+v", p)
	}
	// The progress view is detached from the session's criteria map.
	p.CompletionCriteria["emotion_named"] = false
	if !s.CompletionCriteria["emotion_named"] {
		t.Error("progress view shares the criteria map")
	}
}

func TestIsValidSessionStatus(t *testing.T) {
	for _, status := range []SessionStatus{SessionStatusActive, SessionStatusCompleted, SessionStatusTerminated} {
		if !IsValidSessionStatus(status) {
			t.Errorf("status %s should be valid", status)
		}
	}
	if IsValidSessionStatus("paused") {
		t.Error("unknown status should be invalid")
	}
}

func TestHasSafetyFlags(t *testing.T) {
	if (PreprocessingResult{}).HasSafetyFlags() {
		t.Error("no flags should report false")
	}
	pre := PreprocessingResult{SafetyFlags: []SafetyFlag{SafetyCrisis}}
	if !pre.HasSafetyFlags() {
		t.Error("flag present should report true")
	}
}
