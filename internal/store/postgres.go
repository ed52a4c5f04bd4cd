// Package store: PostgreSQL-backed session store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/attunelab/trtflow/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists sessions in PostgreSQL.
type PostgresStore struct {
	db    *sql.DB
	locks *sessionLocks
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("store.NewPostgresStore: creating Postgres store", "dsn_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("store.NewPostgresStore: migrations applied")

	return &PostgresStore{db: db, locks: newSessionLocks()}, nil
}

// CreateSession implements Store.
func (s *PostgresStore) CreateSession() (*models.Session, error) {
	session := newSession()
	criteriaJSON, historyJSON, err := encodeSessionJSON(session)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (id, stage, status, turn_count, body_question_count, criteria, history, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		session.ID, session.Stage, session.Status, session.TurnCount, session.BodyQuestionCount,
		criteriaJSON, historyJSON, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore.CreateSession: insert failed", "error", err, "session_id", session.ID)
		return nil, fmt.Errorf("failed to insert session %s: %w", session.ID, err)
	}
	slog.Debug("PostgresStore.CreateSession: session created", "session_id", session.ID)
	return session, nil
}

// GetSession implements Store.
func (s *PostgresStore) GetSession(id string) (*models.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, stage, status, turn_count, body_question_count, criteria, history, created_at, updated_at
		 FROM sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("PostgresStore.GetSession: query failed", "error", err, "session_id", id)
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return session, nil
}

// UpdateSession implements Store.
func (s *PostgresStore) UpdateSession(id string, fn func(*models.Session) error) (*models.Session, error) {
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
		`UPDATE sessions SET stage = $1, status = $2, turn_count = $3, body_question_count = $4,
		 criteria = $5, history = $6, updated_at = $7 WHERE id = $8`,
		session.Stage, session.Status, session.TurnCount, session.BodyQuestionCount,
		criteriaJSON, historyJSON, session.UpdatedAt, session.ID)
	if err != nil {
		slog.Error("PostgresStore.UpdateSession: update failed", "error", err, "session_id", id)
		return nil, fmt.Errorf("failed to update session %s: %w", id, err)
	}
	return session.Clone(), nil
}

// DeleteSession implements Store.
func (s *PostgresStore) DeleteSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore.DeleteSession: delete failed", "error", err, "session_id", id)
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		slog.Error("PostgresStore.DeleteSession: rows affected unavailable", "error", err, "session_id", id)
		return fmt.Errorf("failed to confirm delete of session %s: %w", id, err)
	}
	if affected == 0 {
		return models.ErrSessionNotFound
	}
	s.locks.drop(id)
	slog.Debug("PostgresStore.DeleteSession: session deleted", "session_id", id)
	return nil
}

// ListSessions implements Store.
func (s *PostgresStore) ListSessions() ([]models.SessionSummary, error) {
	rows, err := s.db.Query(`SELECT id, stage, status, turn_count, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		slog.Error("PostgresStore.ListSessions: query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var summaries []models.SessionSummary
	for rows.Next() {
		var sum models.SessionSummary
		if err := rows.Scan(&sum.ID, &sum.Stage, &sum.Status, &sum.TurnCount, &sum.UpdatedAt); err != nil {
			slog.Error("PostgresStore.ListSessions: scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return summaries, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("PostgresStore.Close: closing database connection")
	return s.db.Close()
}
