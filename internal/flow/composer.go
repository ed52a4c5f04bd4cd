// Package flow: therapist response composition.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/attunelab/trtflow/internal/genai"
	"github.com/attunelab/trtflow/internal/models"
	"github.com/attunelab/trtflow/internal/protocol"
	"github.com/attunelab/trtflow/internal/retrieval"
	"github.com/openai/openai-go"
)

// HistoryWindow bounds how many recent turns are embedded in a generation
// request.
const HistoryWindow = 6

const composerSystemPrompt = `You are a therapist guiding a client through a structured trauma resolution protocol.
Speak warmly and plainly. Ask at most one question per reply.
Stay with the current step's intent; do not skip ahead in the protocol.
Never mention the protocol mechanics, stages, or internal codes.`

// Composer builds generation requests and validates their output.
type Composer struct {
	client genai.ClientInterface
}

// NewComposer creates a Composer backed by the given generation client.
// A nil client is allowed: every turn then uses the deterministic fallback
// utterances.
func NewComposer(client genai.ClientInterface) *Composer {
	return &Composer{client: client}
}

// Compose produces the therapist utterance for one applied decision. The
// generation backend is optional and fallible: unavailable or degenerate
// output degrades to the current substage's deterministic fallback rather
// than failing the turn.
func (c *Composer) Compose(ctx context.Context, session *models.Session, decision models.NavigationDecision, passages []retrieval.Passage) string {
	if decision.Action == models.ActionEscalate {
		return escalationUtterance
	}
	if c.client == nil {
		return protocol.FallbackUtterance(session.Stage)
	}

	messages := c.buildMessages(session, decision, passages)
	utterance, err := c.client.GenerateWithMessages(ctx, messages)
	if err != nil {
		slog.Warn("Composer.Compose: generation failed, using fallback",
			"session_id", session.ID, "stage", session.Stage, "error", err)
		return protocol.FallbackUtterance(session.Stage)
	}
	if !c.validUtterance(utterance) {
		slog.Warn("Composer.Compose: generated utterance rejected, using fallback",
			"session_id", session.ID, "stage", session.Stage)
		return protocol.FallbackUtterance(session.Stage)
	}
	return utterance
}

// escalationUtterance is fixed: safety handoffs are never delegated to the
// generation backend.
const escalationUtterance = "I'm concerned about your safety, and this is beyond what we can work through here. " +
	"Please reach out right now to a crisis line or someone you trust - in the US you can call or text 988. " +
	"Our session is paused so you can get that support."

// buildMessages assembles the generation request: system guidance, substage
// intent, retrieved passages, and a bounded window of recent turns.
func (c *Composer) buildMessages(session *models.Session, decision models.NavigationDecision, passages []retrieval.Passage) []openai.ChatCompletionMessageParamUnion {
	var sb strings.Builder
	sb.WriteString(composerSystemPrompt)
	sb.WriteString("\n\nCurrent step intent: ")
	sb.WriteString(protocol.Intent(session.Stage))
	if decision.Action == models.ActionHold {
		sb.WriteString("\nThe client has not yet completed this step; ask a gentle clarifying or deepening question.")
	}
	if len(passages) > 0 {
		sb.WriteString("\n\nProtocol guidance:\n")
		for _, p := range passages {
			sb.WriteString("- ")
			sb.WriteString(p.Content)
			sb.WriteString("\n")
		}
	}

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(sb.String())}

	history := session.History
	if len(history) > HistoryWindow {
		history = history[len(history)-HistoryWindow:]
	}
	for _, turn := range history {
		messages = append(messages, openai.UserMessage(turn.Input))
		if turn.Utterance != "" {
			messages = append(messages, openai.AssistantMessage(turn.Utterance))
		}
	}
	return messages
}

// validUtterance rejects empty output and output leaking internal decision
// codes.
func (c *Composer) validUtterance(utterance string) bool {
	if strings.TrimSpace(utterance) == "" {
		return false
	}
	lower := strings.ToLower(utterance)
	leaks := []string{
		string(models.ReasonSafetyFlagged),
		string(models.ReasonExitSatisfied),
		string(models.ReasonBodyCeilingReached),
		string(models.ReasonNeedMoreSignal),
		"navigationdecision",
		fmt.Sprintf("action=%s", models.ActionAdvance),
		fmt.Sprintf("action=%s", models.ActionHold),
	}
	for _, leak := range leaks {
		if strings.Contains(lower, leak) {
			return false
		}
	}
	return true
}
