package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/attunelab/trtflow/internal/models"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// encodeSessionJSON serializes the criteria map and history slice for the
// JSON columns shared by both SQL backends.
func encodeSessionJSON(s *models.Session) (criteriaJSON, historyJSON string, err error) {
	cb, err := json.Marshal(s.CompletionCriteria)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal criteria for session %s: %w", s.ID, err)
	}
	history := s.History
	if history == nil {
		history = []models.TurnRecord{}
	}
	hb, err := json.Marshal(history)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal history for session %s: %w", s.ID, err)
	}
	return string(cb), string(hb), nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSession reads one full session row in the column order shared by both
// SQL backends.
func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var criteriaJSON, historyJSON string
	err := row.Scan(
		&s.ID, &s.Stage, &s.Status, &s.TurnCount, &s.BodyQuestionCount,
		&criteriaJSON, &historyJSON, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan session failed: %w", err)
	}
	if err := json.Unmarshal([]byte(criteriaJSON), &s.CompletionCriteria); err != nil {
		return nil, fmt.Errorf("failed to unmarshal criteria for session %s: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &s.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history for session %s: %w", s.ID, err)
	}
	return &s, nil
}
