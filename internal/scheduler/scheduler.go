// Package scheduler provides cron-based background jobs for trtflow.
//
// The core never evicts sessions itself; closed sessions are swept here on a
// schedule so the store does not grow without bound.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/attunelab/trtflow/internal/models"
	"github.com/attunelab/trtflow/internal/store"
	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic recovery.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// Retention sweeper defaults.
const (
	// DefaultRetention is how long completed or terminated sessions are kept.
	DefaultRetention = 30 * 24 * time.Hour
	// DefaultSweepSchedule runs the sweeper at the top of every hour.
	DefaultSweepSchedule = "0 * * * *"
)

// RetentionSweeper deletes closed sessions older than the retention window.
type RetentionSweeper struct {
	store     store.Store
	retention time.Duration
}

// NewRetentionSweeper creates a sweeper over the given store.
func NewRetentionSweeper(st store.Store, retention time.Duration) *RetentionSweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RetentionSweeper{store: st, retention: retention}
}

// Register schedules the sweeper on sched with the given cron expression.
func (rs *RetentionSweeper) Register(sched *Scheduler, expr string) error {
	if expr == "" {
		expr = DefaultSweepSchedule
	}
	slog.Info("RetentionSweeper.Register: scheduling retention sweep", "schedule", expr, "retention", rs.retention)
	return sched.AddJob(expr, rs.Sweep)
}

// Sweep removes completed and terminated sessions whose last update is older
// than the retention window. Active sessions are never touched.
func (rs *RetentionSweeper) Sweep() {
	summaries, err := rs.store.ListSessions()
	if err != nil {
		slog.Error("RetentionSweeper.Sweep: failed to list sessions", "error", err)
		return
	}
	cutoff := time.Now().UTC().Add(-rs.retention)
	removed := 0
	for _, sum := range summaries {
		if sum.Status == models.SessionStatusActive {
			continue
		}
		if sum.UpdatedAt.After(cutoff) {
			continue
		}
		if err := rs.store.DeleteSession(sum.ID); err != nil {
			slog.Error("RetentionSweeper.Sweep: failed to delete session", "error", err, "session_id", sum.ID)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("RetentionSweeper.Sweep: swept closed sessions", "removed", removed, "retention", rs.retention)
	} else {
		slog.Debug("RetentionSweeper.Sweep: nothing to sweep", "checked", len(summaries))
	}
}
