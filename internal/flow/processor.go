// Package flow: per-turn orchestration.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/attunelab/trtflow/internal/models"
	"github.com/attunelab/trtflow/internal/planner"
	"github.com/attunelab/trtflow/internal/preprocess"
	"github.com/attunelab/trtflow/internal/retrieval"
	"github.com/attunelab/trtflow/internal/store"
)

// TurnProcessor drives one client turn through the pipeline: preprocess,
// retrieve, decide, apply, compose, persist.
//
// External calls (retrieval, generation) run outside the per-session lock;
// only the read-decide-apply step and the final utterance write hold it. The
// decision is computed inside the locked update so it always sees a
// consistent prior state even when turns for the same session race.
type TurnProcessor struct {
	store        store.Store
	preprocessor *preprocess.Processor
	retriever    retrieval.Retriever
	planner      *planner.Planner
	composer     *Composer
	topK         int
}

// NewTurnProcessor wires the turn pipeline.
func NewTurnProcessor(st store.Store, pre *preprocess.Processor, ret retrieval.Retriever, pl *planner.Planner, comp *Composer) *TurnProcessor {
	return &TurnProcessor{
		store:        st,
		preprocessor: pre,
		retriever:    ret,
		planner:      pl,
		composer:     comp,
		topK:         retrieval.DefaultTopK,
	}
}

// ProcessTurn handles one client input for a session and returns the
// therapist utterance plus updated progress. On error the session is
// provably unchanged.
func (tp *TurnProcessor) ProcessTurn(ctx context.Context, sessionID, text string) (models.TurnResult, error) {
	req := models.TurnRequest{Text: text}
	if err := req.Validate(); err != nil {
		return models.TurnResult{}, err
	}

	pre := tp.preprocessor.Process(text)

	// Snapshot for the retrieval query; the authoritative read happens again
	// under the lock.
	snapshot, err := tp.store.GetSession(sessionID)
	if err != nil {
		return models.TurnResult{}, err
	}
	if snapshot.Status != models.SessionStatusActive {
		return models.TurnResult{}, fmt.Errorf("%w: status %s", models.ErrSessionClosed, snapshot.Status)
	}

	passages := tp.retrievePassages(ctx, pre, snapshot.Stage)

	now := time.Now().UTC()
	var decision models.NavigationDecision
	updated, err := tp.store.UpdateSession(sessionID, func(s *models.Session) error {
		// A cancelled turn must never apply its transition.
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.Status != models.SessionStatusActive {
			return fmt.Errorf("%w: status %s", models.ErrSessionClosed, s.Status)
		}
		decision = tp.planner.Decide(s, pre, passages)
		if err := Apply(s, decision); err != nil {
			return err
		}
		s.History = append(s.History, models.TurnRecord{
			Input:         text,
			Preprocessing: pre,
			Decision:      decision,
			Timestamp:     now,
		})
		return nil
	})
	if err != nil {
		return models.TurnResult{}, err
	}

	utterance := tp.composer.Compose(ctx, updated, decision, passages)

	// Record the utterance on the turn just appended. Best effort: a failure
	// here loses audit detail, not the turn itself.
	final, err := tp.store.UpdateSession(sessionID, func(s *models.Session) error {
		if len(s.History) > 0 {
			s.History[len(s.History)-1].Utterance = utterance
		}
		return nil
	})
	if err != nil {
		slog.Error("TurnProcessor.ProcessTurn: failed to record utterance", "session_id", sessionID, "error", err)
		final = updated
	}

	slog.Info("TurnProcessor.ProcessTurn: turn processed",
		"session_id", sessionID, "action", decision.Action, "stage", final.Stage,
		"status", final.Status, "turn_count", final.TurnCount)
	return models.TurnResult{Utterance: utterance, Progress: final.Progress()}, nil
}

// retrievePassages queries the vector index, degrading to no passages on
// failure rather than failing the turn.
func (tp *TurnProcessor) retrievePassages(ctx context.Context, pre models.PreprocessingResult, stage models.Stage) []retrieval.Passage {
	if tp.retriever == nil {
		return nil
	}
	passages, err := tp.retriever.Retrieve(ctx, pre.CorrectedInput, stage, tp.topK)
	if err != nil {
		slog.Warn("TurnProcessor.retrievePassages: retrieval failed, continuing without passages", "stage", stage, "error", err)
		return nil
	}
	return passages
}
