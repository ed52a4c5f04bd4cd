package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/attunelab/trtflow/internal/flow"
	"github.com/attunelab/trtflow/internal/models"
	"github.com/attunelab/trtflow/internal/planner"
	"github.com/attunelab/trtflow/internal/preprocess"
	"github.com/attunelab/trtflow/internal/protocol"
	"github.com/attunelab/trtflow/internal/retrieval"
	"github.com/attunelab/trtflow/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	processor := flow.NewTurnProcessor(
		st,
		preprocess.NewProcessor(),
		retrieval.NewStaticRetriever(),
		planner.New(protocol.DefaultRules()),
		flow.NewComposer(nil),
	)
	return NewServer(st, processor), st
}

func doRequest(t *testing.T, server *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var envelope models.APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode response envelope: %v", err)
	}
	return envelope
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	envelope := decodeEnvelope(t, rec)
	if envelope.Status != string(models.APIStatusOK) {
		t.Fatalf("envelope status = %s, message = %s", envelope.Status, envelope.Message)
	}
	raw, err := json.Marshal(envelope.Result)
	if err != nil {
		t.Fatalf("failed to re-marshal result: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("failed to decode result payload: %v", err)
	}
}

func createTestSession(t *testing.T, server *Server) models.SessionProgress {
	t.Helper()
	rec := doRequest(t, server, http.MethodPost, "/sessions", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rec.Code)
	}
	var progress models.SessionProgress
	decodeResult(t, rec, &progress)
	return progress
}

func TestCreateSessionEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	progress := createTestSession(t, server)

	if progress.ID == "" {
		t.Error("created session has no id")
	}
	if progress.Stage != protocol.InitialStage() {
		t.Errorf("stage = %s, want %s", progress.Stage, protocol.InitialStage())
	}
	if progress.Status != models.SessionStatusActive {
		t.Errorf("status = %s, want active", progress.Status)
	}
	if len(progress.CompletionCriteria) != len(protocol.AllCriteria) {
		t.Errorf("criteria count = %d, want %d", len(progress.CompletionCriteria), len(protocol.AllCriteria))
	}
}

func TestListSessionsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	var summaries []models.SessionSummary
	decodeResult(t, rec, &summaries)
	if len(summaries) != 0 {
		t.Errorf("fresh server lists %d sessions", len(summaries))
	}

	createTestSession(t, server)
	createTestSession(t, server)
	rec = doRequest(t, server, http.MethodGet, "/sessions", "")
	decodeResult(t, rec, &summaries)
	if len(summaries) != 2 {
		t.Errorf("list length = %d, want 2", len(summaries))
	}
}

func TestGetSessionEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	created := createTestSession(t, server)

	rec := doRequest(t, server, http.MethodGet, "/sessions/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var progress models.SessionProgress
	decodeResult(t, rec, &progress)
	if progress.ID != created.ID {
		t.Errorf("id = %s, want %s", progress.ID, created.ID)
	}

	rec = doRequest(t, server, http.MethodGet, "/sessions/does-not-exist", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d, want 404", rec.Code)
	}
	if envelope := decodeEnvelope(t, rec); envelope.Status != string(models.APIStatusError) {
		t.Errorf("envelope status = %s, want error", envelope.Status)
	}
}

func TestSubmitTurnEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	created := createTestSession(t, server)

	body, _ := json.Marshal(models.TurnRequest{Text: "I'm feeling really stressed"})
	rec := doRequest(t, server, http.MethodPost, "/sessions/"+created.ID+"/turns", string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var result models.TurnResult
	decodeResult(t, rec, &result)
	if result.Utterance == "" {
		t.Error("turn returned no utterance")
	}
	if result.Progress.TurnCount != 1 {
		t.Errorf("turn count = %d, want 1", result.Progress.TurnCount)
	}
	if !result.Progress.CompletionCriteria["emotion_named"] {
		t.Error("emotion_named not credited in the progress view")
	}
}

func TestSubmitTurnValidation(t *testing.T) {
	server, _ := newTestServer(t)
	created := createTestSession(t, server)

	tests := []struct {
		name string
		body string
	}{
		{"malformed JSON", "{not json"},
		{"empty text", `{"text": ""}`},
		{"oversized text", `{"text": "` + strings.Repeat("a", models.MaxInputLength+1) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, server, http.MethodPost, "/sessions/"+created.ID+"/turns", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestSubmitTurnUnknownSession(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodPost, "/sessions/ghost/turns", `{"text": "hello"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSubmitTurnOnClosedSessionIsGone(t *testing.T) {
	server, st := newTestServer(t)
	created := createTestSession(t, server)
	if _, err := st.UpdateSession(created.ID, func(s *models.Session) error {
		s.Status = models.SessionStatusCompleted
		return nil
	}); err != nil {
		t.Fatalf("failed to close session: %v", err)
	}

	rec := doRequest(t, server, http.MethodPost, "/sessions/"+created.ID+"/turns", `{"text": "hello"}`)
	if rec.Code != http.StatusGone {
		t.Errorf("status = %d, want 410", rec.Code)
	}
}

func TestSubmitTurnSafetyFlow(t *testing.T) {
	server, _ := newTestServer(t)
	created := createTestSession(t, server)

	body, _ := json.Marshal(models.TurnRequest{Text: "I can't go on, there is no reason to live"})
	rec := doRequest(t, server, http.MethodPost, "/sessions/"+created.ID+"/turns", string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var result models.TurnResult
	decodeResult(t, rec, &result)
	if result.Progress.Status != models.SessionStatusTerminated {
		t.Errorf("status = %s, want terminated", result.Progress.Status)
	}
	if !strings.Contains(result.Utterance, "988") {
		t.Error("escalation utterance missing crisis line reference")
	}
}

func TestDeleteSessionEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	created := createTestSession(t, server)

	rec := doRequest(t, server, http.MethodDelete, "/sessions/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", rec.Code)
	}
	rec = doRequest(t, server, http.MethodGet, "/sessions/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", rec.Code)
	}
	rec = doRequest(t, server, http.MethodDelete, "/sessions/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("double delete status = %d, want 404", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
	if envelope := decodeEnvelope(t, rec); envelope.Status != string(models.APIStatusOK) {
		t.Errorf("envelope status = %s, want ok", envelope.Status)
	}
}

func TestResponsesAreJSON(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodPost, "/sessions", "")
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}

	var raw bytes.Buffer
	raw.Write(rec.Body.Bytes())
	if !json.Valid(raw.Bytes()) {
		t.Error("response body is not valid JSON")
	}
}
