// Package store provides session storage backends for trtflow.
//
// It includes an in-memory store plus SQLite and PostgreSQL persistent
// stores selected by DSN. All backends guarantee the same serialization
// contract: at most one in-flight mutation per session id, with mutations
// for different ids proceeding independently.
package store

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/attunelab/trtflow/internal/models"
	"github.com/attunelab/trtflow/internal/protocol"
	"github.com/google/uuid"
)

// Store is the session repository contract. Every method that returns a
// session returns a private clone; callers never hold a reference to the
// canonical record.
type Store interface {
	// CreateSession creates a new session at the catalog's initial substage
	// with all completion criteria unsatisfied.
	CreateSession() (*models.Session, error)

	// GetSession returns the session or models.ErrSessionNotFound.
	GetSession(id string) (*models.Session, error)

	// UpdateSession applies fn to the session under exclusive per-id access.
	// If fn returns an error the stored session is left unchanged and the
	// error is returned. Concurrent updates to the same id are serialized.
	UpdateSession(id string, fn func(*models.Session) error) (*models.Session, error)

	// DeleteSession removes the session or returns models.ErrSessionNotFound.
	DeleteSession(id string) error

	// ListSessions returns summaries of all sessions.
	ListSessions() ([]models.SessionSummary, error)

	// Close releases backend resources.
	Close() error
}

// Opts holds the common configuration for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite file path DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// newSession builds a fresh session entity.
func newSession() *models.Session {
	now := time.Now().UTC()
	return &models.Session{
		ID:                 uuid.NewString(),
		Stage:              protocol.InitialStage(),
		CompletionCriteria: protocol.NewCriteriaMap(),
		Status:             models.SessionStatusActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// sessionLocks hands out one mutex per session id so updates to the same
// session serialize while distinct sessions proceed independently.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *sessionLocks) get(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

func (l *sessionLocks) drop(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, id)
}

// InMemoryStore keeps sessions in a map. Used for tests and DSN-less runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	locks    *sessionLocks
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	slog.Debug("store.NewInMemoryStore: creating in-memory session store")
	return &InMemoryStore{
		sessions: make(map[string]*models.Session),
		locks:    newSessionLocks(),
	}
}

// CreateSession implements Store.
func (s *InMemoryStore) CreateSession() (*models.Session, error) {
	session := newSession()
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	slog.Debug("InMemoryStore.CreateSession: session created", "session_id", session.ID, "stage", session.Stage)
	return session.Clone(), nil
}

// GetSession implements Store.
func (s *InMemoryStore) GetSession(id string) (*models.Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return session.Clone(), nil
}

// UpdateSession implements Store. fn runs against a clone; the canonical
// record is swapped only when fn succeeds.
func (s *InMemoryStore) UpdateSession(id string, fn func(*models.Session) error) (*models.Session, error) {
	lock := s.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, models.ErrSessionNotFound
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	s.sessions[id] = working
	s.mu.Unlock()
	return working.Clone(), nil
}

// DeleteSession implements Store.
func (s *InMemoryStore) DeleteSession(id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return models.ErrSessionNotFound
	}
	s.locks.drop(id)
	slog.Debug("InMemoryStore.DeleteSession: session deleted", "session_id", id)
	return nil
}

// ListSessions implements Store.
func (s *InMemoryStore) ListSessions() ([]models.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summaries := make([]models.SessionSummary, 0, len(s.sessions))
	for _, session := range s.sessions {
		summaries = append(summaries, session.Summary())
	}
	return summaries, nil
}

// Close implements Store.
func (s *InMemoryStore) Close() error {
	return nil
}
