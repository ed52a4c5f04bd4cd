// Package api provides HTTP handlers for the session lifecycle endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/attunelab/trtflow/internal/models"
)

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.createSessionHandler: processing create request", "path", r.URL.Path)
	session, err := s.store.CreateSession()
	if err != nil {
		slog.Error("Server.createSessionHandler: failed to create session", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create session"))
		return
	}
	slog.Info("Server.createSessionHandler: session created", "session_id", session.ID)
	writeJSONResponse(w, http.StatusCreated, models.Success(session.Progress()))
}

func (s *Server) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.listSessionsHandler: processing list request")
	summaries, err := s.store.ListSessions()
	if err != nil {
		slog.Error("Server.listSessionsHandler: failed to list sessions", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list sessions"))
		return
	}
	if summaries == nil {
		summaries = []models.SessionSummary{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(summaries))
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	slog.Debug("Server.getSessionHandler: processing status request", "session_id", id)
	session, err := s.store.GetSession(id)
	if err != nil {
		s.writeError(w, err, "Server.getSessionHandler", id)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(session.Progress()))
}

func (s *Server) submitTurnHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	id := r.PathValue("id")
	slog.Debug("Server.submitTurnHandler: processing turn", "session_id", id)

	var req models.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.submitTurnHandler: failed to decode JSON", "error", err, "session_id", id)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.submitTurnHandler: validation failed", "error", err, "session_id", id)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	result, err := s.processor.ProcessTurn(r.Context(), id, req.Text)
	if err != nil {
		s.writeError(w, err, "Server.submitTurnHandler", id)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	slog.Debug("Server.deleteSessionHandler: processing delete request", "session_id", id)
	if err := s.store.DeleteSession(id); err != nil {
		s.writeError(w, err, "Server.deleteSessionHandler", id)
		return
	}
	slog.Info("Server.deleteSessionHandler: session deleted", "session_id", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session deleted", nil))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}

// writeError maps domain errors to HTTP statuses. Invalid transitions are
// logic defects and surface as internal errors; the session is guaranteed
// unchanged in every error case.
func (s *Server) writeError(w http.ResponseWriter, err error, handler, sessionID string) {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		slog.Warn(handler+": session not found", "session_id", sessionID)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
	case errors.Is(err, models.ErrSessionClosed):
		slog.Warn(handler+": session closed", "session_id", sessionID)
		writeJSONResponse(w, http.StatusGone, models.Error("Session is closed"))
	case errors.Is(err, models.ErrEmptyInput), errors.Is(err, models.ErrInputTooLong):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrUnknownStage):
		slog.Error(handler+": transition defect", "error", err, "session_id", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal protocol error"))
	default:
		slog.Error(handler+": request failed", "error", err, "session_id", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
	}
}
