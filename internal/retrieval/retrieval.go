// Package retrieval provides the nearest-passages lookup used to ground
// therapist responses in protocol material.
//
// The Retriever contract treats the vector index as an opaque capability so
// the navigation core can be tested with deterministic fakes. Two
// implementations ship here: a StaticRetriever over the compiled-in passage
// bank (keyword overlap scoring, no I/O) and an embeddings-backed SQLite
// index.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/attunelab/trtflow/internal/models"
)

// Passage is one retrieved piece of protocol content.
type Passage struct {
	ID      string  `json:"id"`
	Stage   string  `json:"stage"` // substage the passage belongs to, empty = general
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Retriever returns the top-k passages most relevant to a query, optionally
// biased toward a protocol stage. Fewer than k results is not an error; an
// empty result merely reduces the context available to the composer.
type Retriever interface {
	Retrieve(ctx context.Context, query string, stageHint models.Stage, k int) ([]Passage, error)
}

// DefaultTopK is the passage count requested per turn when not configured.
const DefaultTopK = 3

// staticPassages is the built-in protocol passage bank used when no vector
// index is configured and in tests.
var staticPassages = []Passage{
	{ID: "p-goal-1", Stage: "1.1_goal_and_vision", Content: "Begin by establishing what the client wants from the work. A goal stated in the client's own words anchors every later stage."},
	{ID: "p-goal-2", Stage: "1.1_goal_and_vision", Content: "Invite the client to describe life after resolution in sensory detail. The vision is the destination the protocol steers toward."},
	{ID: "p-body-1", Stage: "1.2_problem_and_body", Content: "Ask how the problem shows up in the body right now. Somatic awareness, not narrative detail, opens the resolution pathway."},
	{ID: "p-body-2", Stage: "1.3_body_dialogue", Content: "Have the client locate the feeling in the body and describe the raw sensation: tightness, heat, pressure, weight."},
	{ID: "p-body-3", Stage: "1.3_body_dialogue", Content: "If the client cannot find a body location after several invitations, do not press. Move to resourcing and return later."},
	{ID: "p-emotion-1", Stage: "2.1_emotion_naming", Content: "Naming the emotion carried by a sensation reduces its grip. Offer the client time to find the word that fits."},
	{ID: "p-resource-1", Stage: "2.2_resource_recall", Content: "Resource recall: guide the client to a memory of safety, strength, or connection, and let them dwell in it."},
	{ID: "p-integrate-1", Stage: "2.3_integration", Content: "Holding the resource, revisit the problem. Clients often report the charge has loosened; reflect that shift back to them."},
	{ID: "p-alpha-1", Stage: "3.1_alpha_design", Content: "The alpha sequence is the smallest concrete action that expresses the shift in daily life. Smaller is better."},
	{ID: "p-alpha-2", Stage: "3.2_alpha_execution", Content: "Rehearse the alpha sequence step by step. Execution, even imperfect, consolidates the new pattern."},
	{ID: "p-close-1", Stage: "3.3_closing", Content: "Close by reviewing the path travelled and what the client accomplished. End with the client's own statement of change."},
	{ID: "p-general-1", Content: "Ask one question at a time. Follow the client's pace rather than the protocol's."},
	{ID: "p-general-2", Content: "Reflect the client's own words back before introducing new framing."},
}

// StaticRetriever scores the built-in passage bank by keyword overlap with
// the query, preferring passages tagged with the hinted stage. Pure read,
// deterministic given identical input.
type StaticRetriever struct{}

// NewStaticRetriever creates a StaticRetriever over the built-in bank.
func NewStaticRetriever() *StaticRetriever {
	return &StaticRetriever{}
}

// Retrieve implements Retriever.
func (r *StaticRetriever) Retrieve(ctx context.Context, query string, stageHint models.Stage, k int) ([]Passage, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	queryWords := strings.Fields(strings.ToLower(query))

	scored := make([]Passage, 0, len(staticPassages))
	for _, p := range staticPassages {
		score := overlapScore(queryWords, p.Content)
		if p.Stage == string(stageHint) {
			// Stage-tagged passages stay relevant even when the query
			// shares no vocabulary with them.
			score += 1.0
		}
		if score <= 0 {
			continue
		}
		p.Score = score
		scored = append(scored, p)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// overlapScore counts query words appearing in the passage content.
func overlapScore(queryWords []string, content string) float64 {
	lower := strings.ToLower(content)
	score := 0.0
	for _, w := range queryWords {
		if len(w) < 4 {
			continue // skip stopword-sized tokens
		}
		if strings.Contains(lower, w) {
			score++
		}
	}
	return score
}
