// Package store: SQLite-backed session store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/attunelab/trtflow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists sessions in a SQLite database file.
type SQLiteStore struct {
	db    *sql.DB
	locks *sessionLocks
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file path).
// The parent directory is created if missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("store.NewSQLiteStore: creating SQLite store", "dsn_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("store.NewSQLiteStore: migrations applied")

	return &SQLiteStore{db: db, locks: newSessionLocks()}, nil
}

// CreateSession implements Store.
func (s *SQLiteStore) CreateSession() (*models.Session, error) {
	session := newSession()
	criteriaJSON, historyJSON, err := encodeSessionJSON(session)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (id, stage, status, turn_count, body_question_count, criteria, history, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Stage, session.Status, session.TurnCount, session.BodyQuestionCount,
		criteriaJSON, historyJSON, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore.CreateSession: insert failed", "error", err, "session_id", session.ID)
		return nil, fmt.Errorf("failed to insert session %s: %w", session.ID, err)
	}
	slog.Debug("SQLiteStore.CreateSession: session created", "session_id", session.ID)
	return session, nil
}

// GetSession implements Store.
func (s *SQLiteStore) GetSession(id string) (*models.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, stage, status, turn_count, body_question_count, criteria, history, created_at, updated_at
		 FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore.GetSession: query failed", "error", err, "session_id", id)
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return session, nil
}

// UpdateSession implements Store. The per-id mutex serializes concurrent
// updates; the row is re-read under the lock so fn always sees the latest
// committed state.
func (s *SQLiteStore) UpdateSession(id string, fn func(*models.Session) error) (*models.Session, error) {
	lock := s.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}
	if err := fn(session); err != nil {
		return nil, err
	}
	session.UpdatedAt = nowUTC()

	criteriaJSON, historyJSON, err := encodeSessionJSON(session)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(
		`UPDATE sessions SET stage = ?, status = ?, turn_count = ?, body_question_count = ?,
		 criteria = ?, history = ?, updated_at = ? WHERE id = ?`,
		session.Stage, session.Status, session.TurnCount, session.BodyQuestionCount,
		criteriaJSON, historyJSON, session.UpdatedAt, session.ID)
	if err != nil {
		slog.Error("SQLiteStore.UpdateSession: update failed", "error", err, "session_id", id)
		return nil, fmt.Errorf("failed to update session %s: %w", id, err)
	}
	return session.Clone(), nil
}

// DeleteSession implements Store.
func (s *SQLiteStore) DeleteSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore.DeleteSession: delete failed", "error", err, "session_id", id)
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		slog.Error("SQLiteStore.DeleteSession: rows affected unavailable", "error", err, "session_id", id)
		return fmt.Errorf("failed to confirm delete of session %s: %w", id, err)
	}
	if affected == 0 {
		return models.ErrSessionNotFound
	}
	s.locks.drop(id)
	slog.Debug("SQLiteStore.DeleteSession: session deleted", "session_id", id)
	return nil
}

// ListSessions implements Store.
func (s *SQLiteStore) ListSessions() ([]models.SessionSummary, error) {
	rows, err := s.db.Query(`SELECT id, stage, status, turn_count, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		slog.Error("SQLiteStore.ListSessions: query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var summaries []models.SessionSummary
	for rows.Next() {
		var sum models.SessionSummary
		if err := rows.Scan(&sum.ID, &sum.Stage, &sum.Status, &sum.TurnCount, &sum.UpdatedAt); err != nil {
			slog.Error("SQLiteStore.ListSessions: scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return summaries, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("SQLiteStore.Close: closing database connection")
	return s.db.Close()
}
