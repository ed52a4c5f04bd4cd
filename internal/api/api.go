// Package api provides HTTP handlers and the main API server logic for
// trtflow.
//
// It exposes the session lifecycle surface: create, submit input, status,
// delete, and list. The API wires together the store, preprocessing,
// retrieval, planner, state machine, and composer modules.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/attunelab/trtflow/internal/flow"
	"github.com/attunelab/trtflow/internal/genai"
	"github.com/attunelab/trtflow/internal/planner"
	"github.com/attunelab/trtflow/internal/preprocess"
	"github.com/attunelab/trtflow/internal/protocol"
	"github.com/attunelab/trtflow/internal/retrieval"
	"github.com/attunelab/trtflow/internal/scheduler"
	"github.com/attunelab/trtflow/internal/store"
)

// DefaultAddr is the API listen address when none is configured.
const DefaultAddr = ":8080"

// Opts holds API server configuration.
type Opts struct {
	Addr             string
	ProtocolRules    string // optional YAML rule override file
	PassageIndexPath string // optional SQLite passage index path
	Retention        time.Duration
	SweepSchedule    string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithProtocolRules sets the YAML protocol rule override file.
func WithProtocolRules(path string) Option {
	return func(o *Opts) { o.ProtocolRules = path }
}

// WithPassageIndex sets the SQLite passage index path, enabling
// embeddings-backed retrieval.
func WithPassageIndex(path string) Option {
	return func(o *Opts) { o.PassageIndexPath = path }
}

// WithRetention sets how long closed sessions are kept before sweeping.
func WithRetention(d time.Duration) Option {
	return func(o *Opts) { o.Retention = d }
}

// WithSweepSchedule sets the cron expression for the retention sweeper.
func WithSweepSchedule(expr string) Option {
	return func(o *Opts) { o.SweepSchedule = expr }
}

// Server holds the API dependencies and handlers.
type Server struct {
	store     store.Store
	processor *flow.TurnProcessor
}

// NewServer creates an API server over the given store and turn processor.
func NewServer(st store.Store, processor *flow.TurnProcessor) *Server {
	return &Server{store: st, processor: processor}
}

// Routes registers all handlers on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.createSessionHandler)
	mux.HandleFunc("GET /sessions", s.listSessionsHandler)
	mux.HandleFunc("GET /sessions/{id}", s.getSessionHandler)
	mux.HandleFunc("POST /sessions/{id}/turns", s.submitTurnHandler)
	mux.HandleFunc("DELETE /sessions/{id}", s.deleteSessionHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	return mux
}

// Run constructs all modules from options and serves until a termination
// signal arrives.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	if err := protocol.ValidateCatalog(); err != nil {
		return err
	}

	st, err := buildStore(storeOpts)
	if err != nil {
		return err
	}
	defer st.Close()

	rules := protocol.DefaultRules()
	if cfg.ProtocolRules != "" {
		rules, err = protocol.LoadRules(cfg.ProtocolRules)
		if err != nil {
			return err
		}
	}

	genaiClient := buildGenAI(genaiOpts)
	retriever := buildRetriever(cfg)

	processor := flow.NewTurnProcessor(
		st,
		preprocess.NewProcessor(),
		retriever,
		planner.New(rules),
		flow.NewComposer(genaiClient),
	)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	sweeper := scheduler.NewRetentionSweeper(st, cfg.Retention)
	if err := sweeper.Register(sched, cfg.SweepSchedule); err != nil {
		return err
	}

	server := NewServer(st, processor)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api.Run: trtflow API listening", "addr", cfg.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigCh:
		slog.Info("api.Run: shutting down on signal", "signal", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// buildStore selects a backend by DSN: Postgres, SQLite, or in-memory when
// no DSN is configured.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Info("api.buildStore: no DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	case store.DetectDSNType(cfg.DSN) == "postgres":
		slog.Info("api.buildStore: using PostgreSQL store")
		return store.NewPostgresStore(storeOpts...)
	default:
		slog.Info("api.buildStore: using SQLite store", "path", cfg.DSN)
		return store.NewSQLiteStore(storeOpts...)
	}
}

// buildGenAI creates the generation client when configured; without one the
// composer falls back to deterministic utterances.
func buildGenAI(genaiOpts []genai.Option) genai.ClientInterface {
	var cfg genai.Opts
	for _, opt := range genaiOpts {
		opt(&cfg)
	}
	if cfg.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
		slog.Warn("api.buildGenAI: no API key configured, responses will use fallback utterances")
		return nil
	}
	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		slog.Error("api.buildGenAI: failed to create generation client, using fallbacks", "error", err)
		return nil
	}
	return client
}

// buildRetriever prefers the embeddings-backed index when configured,
// otherwise falls back to the static keyword retriever.
func buildRetriever(cfg Opts) retrieval.Retriever {
	if cfg.PassageIndexPath == "" {
		slog.Info("api.buildRetriever: no passage index configured, using static retriever")
		return retrieval.NewStaticRetriever()
	}
	index, err := retrieval.NewSQLiteIndex(cfg.PassageIndexPath, retrieval.NewOpenAIEmbedder())
	if err != nil {
		slog.Error("api.buildRetriever: failed to open passage index, using static retriever", "error", err, "path", cfg.PassageIndexPath)
		return retrieval.NewStaticRetriever()
	}
	return index
}
