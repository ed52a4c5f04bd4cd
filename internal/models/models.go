// Package models defines the core data structures for trtflow.
//
// It includes the session entity, per-turn derived values (preprocessing
// results and navigation decisions), and the request/response types shared
// across modules.
package models

import (
	"errors"
	"time"
)

// Validation constants for input validation
const (
	// MaxInputLength defines the maximum allowed length for a client turn input
	MaxInputLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrEmptyInput         = errors.New("input text cannot be empty")
	ErrInputTooLong       = errors.New("input text exceeds maximum length")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionClosed      = errors.New("session is no longer active")
	ErrInvalidTransition  = errors.New("invalid stage transition")
	ErrUnknownStage       = errors.New("unknown protocol stage")
	ErrUnknownCriterion   = errors.New("unknown completion criterion")
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
)

// SessionStatus represents the lifecycle status of a session.
type SessionStatus string

const (
	// SessionStatusActive indicates the session is in progress.
	SessionStatusActive SessionStatus = "active"
	// SessionStatusCompleted indicates the protocol was finished.
	SessionStatusCompleted SessionStatus = "completed"
	// SessionStatusTerminated indicates a safety escalation or explicit exit.
	SessionStatusTerminated SessionStatus = "terminated"
)

// IsValidSessionStatus checks if the given session status is valid.
func IsValidSessionStatus(status SessionStatus) bool {
	switch status {
	case SessionStatusActive, SessionStatusCompleted, SessionStatusTerminated:
		return true
	default:
		return false
	}
}

// Stage identifies a (major-stage, substage) position in the protocol catalog,
// e.g. "1.2_problem_and_body".
type Stage string

// Criterion names one of the fixed completion-criteria flags.
type Criterion string

// Emotion is the primary emotion label assigned by the preprocessor.
type Emotion string

const (
	EmotionUnknown Emotion = "unknown"
	EmotionCalm    Emotion = "calm"
	EmotionSad     Emotion = "sad"
	EmotionAnxious Emotion = "anxious"
	EmotionAngry   Emotion = "angry"
	EmotionAfraid  Emotion = "afraid"
	EmotionHopeful Emotion = "hopeful"
)

// SafetyFlag names a triggered safety condition.
type SafetyFlag string

const (
	// SafetySelfHarm indicates self-harm or suicidal ideation signals.
	SafetySelfHarm SafetyFlag = "self_harm"
	// SafetyHarmToOthers indicates signals of intent to harm others.
	SafetyHarmToOthers SafetyFlag = "harm_to_others"
	// SafetyCrisis indicates acute crisis language without a specific target.
	SafetyCrisis SafetyFlag = "crisis"
)

// EmotionalState is the classified emotion of one client turn.
type EmotionalState struct {
	Primary   Emotion `json:"primary"`
	Intensity int     `json:"intensity"` // 0 (none) to 5 (extreme)
}

// PreprocessingResult is the derived view of one raw client input. It is not
// stored independently; it is embedded per turn in the session history.
type PreprocessingResult struct {
	CorrectedInput string         `json:"corrected_input"`
	EmotionalState EmotionalState `json:"emotional_state"`
	SafetyFlags    []SafetyFlag   `json:"safety_flags,omitempty"`
}

// HasSafetyFlags reports whether any safety condition fired.
func (p PreprocessingResult) HasSafetyFlags() bool {
	return len(p.SafetyFlags) > 0
}

// NavAction is the kind of transition a NavigationDecision requests.
type NavAction string

const (
	// ActionAdvance moves to the next substage in catalog order.
	ActionAdvance NavAction = "advance"
	// ActionHold stays on the current substage and asks a follow-up.
	ActionHold NavAction = "hold"
	// ActionBranch jumps to a named target substage from the branch table.
	ActionBranch NavAction = "branch"
	// ActionEscalate terminates the session for safety reasons.
	ActionEscalate NavAction = "escalate"
)

// DecisionReason is a machine-readable justification code for a decision.
// Reasons are internal: they are logged and kept in history for audit, but
// never exposed through the session progress surface.
type DecisionReason string

const (
	ReasonSafetyFlagged      DecisionReason = "safety_flagged"
	ReasonExitSatisfied      DecisionReason = "exit_condition_satisfied"
	ReasonBodyCeilingReached DecisionReason = "body_question_ceiling_reached"
	ReasonNeedMoreSignal     DecisionReason = "insufficient_signal"
)

// NavigationDecision is the planner's verdict for one turn: the action to
// apply, the justification, and the criteria newly satisfied this turn.
type NavigationDecision struct {
	Action          NavAction      `json:"action"`
	BranchTarget    Stage          `json:"branch_target,omitempty"` // set only for ActionBranch
	Reason          DecisionReason `json:"reason"`
	CriteriaUpdates []Criterion    `json:"criteria_updates,omitempty"`
}

// TurnRecord is one entry of the append-only session history.
type TurnRecord struct {
	Input         string              `json:"input"`
	Preprocessing PreprocessingResult `json:"preprocessing"`
	Decision      NavigationDecision  `json:"decision"`
	Utterance     string              `json:"utterance,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
}

// Session is one client's run through the protocol.
type Session struct {
	ID                string              `json:"id"`
	Stage             Stage               `json:"stage"`
	CompletionCriteria map[Criterion]bool `json:"completion_criteria"`
	TurnCount         int                 `json:"turn_count"`
	BodyQuestionCount int                 `json:"body_question_count"`
	History           []TurnRecord        `json:"history"`
	Status            SessionStatus       `json:"status"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Clone returns a deep copy of the session. Store implementations hand out
// clones so callers can never mutate the canonical record outside an update.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.CompletionCriteria = make(map[Criterion]bool, len(s.CompletionCriteria))
	for k, v := range s.CompletionCriteria {
		out.CompletionCriteria[k] = v
	}
	out.History = make([]TurnRecord, len(s.History))
	copy(out.History, s.History)
	for i := range out.History {
		flags := s.History[i].Preprocessing.SafetyFlags
		if flags != nil {
			out.History[i].Preprocessing.SafetyFlags = append([]SafetyFlag(nil), flags...)
		}
		updates := s.History[i].Decision.CriteriaUpdates
		if updates != nil {
			out.History[i].Decision.CriteriaUpdates = append([]Criterion(nil), updates...)
		}
	}
	return &out
}

// SatisfiedCriteria returns the criteria currently marked true, in no
// particular order.
func (s *Session) SatisfiedCriteria() []Criterion {
	var out []Criterion
	for c, ok := range s.CompletionCriteria {
		if ok {
			out = append(out, c)
		}
	}
	return out
}

// SessionProgress is the client-visible view of a session. It deliberately
// omits history and decision reason codes.
type SessionProgress struct {
	ID                 string             `json:"id"`
	Stage              Stage              `json:"stage"`
	CompletionCriteria map[Criterion]bool `json:"completion_criteria"`
	TurnCount          int                `json:"turn_count"`
	BodyQuestionCount  int                `json:"body_question_count"`
	Status             SessionStatus      `json:"status"`
}

// Progress builds the client-visible progress view from a session.
func (s *Session) Progress() SessionProgress {
	criteria := make(map[Criterion]bool, len(s.CompletionCriteria))
	for k, v := range s.CompletionCriteria {
		criteria[k] = v
	}
	return SessionProgress{
		ID:                 s.ID,
		Stage:              s.Stage,
		CompletionCriteria: criteria,
		TurnCount:          s.TurnCount,
		BodyQuestionCount:  s.BodyQuestionCount,
		Status:             s.Status,
	}
}

// SessionSummary is the list-view of a session.
type SessionSummary struct {
	ID        string        `json:"id"`
	Stage     Stage         `json:"stage"`
	Status    SessionStatus `json:"status"`
	TurnCount int           `json:"turn_count"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Summary builds the list-view of a session.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:        s.ID,
		Stage:     s.Stage,
		Status:    s.Status,
		TurnCount: s.TurnCount,
		UpdatedAt: s.UpdatedAt,
	}
}

// TurnRequest is the payload for submitting one client input.
type TurnRequest struct {
	Text string `json:"text"`
}

// Validate checks a TurnRequest before processing.
func (r *TurnRequest) Validate() error {
	if len(r.Text) == 0 {
		return ErrEmptyInput
	}
	if len(r.Text) > MaxInputLength {
		return ErrInputTooLong
	}
	return nil
}

// TurnResult is the payload returned for one processed turn.
type TurnResult struct {
	Utterance string          `json:"utterance"`
	Progress  SessionProgress `json:"session_progress"`
}
