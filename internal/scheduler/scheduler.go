// Package scheduler runs the periodic retention job that prunes old
// analyses and feed events from SQLite.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes rows created before cutoff. Implemented by sqlite.Store.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls the retention job.
type Config struct {
	// PruneSpec is a six-field cron expression (with seconds).
	PruneSpec string
	// Retention is how long rows are kept. Zero or negative disables pruning.
	Retention time.Duration
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron   *cron.Cron
	cfg    Config
	pruner Pruner
	log    *slog.Logger
	now    func() time.Time

	// OnPrune is called after every prune run.
	OnPrune func(removed int64, err error)
}

// New creates a scheduler. Call Register before Start.
func New(cfg Config, pruner Pruner, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		cfg:    cfg,
		pruner: pruner,
		log:    log.With("component", "scheduler"),
		now:    time.Now,
	}
}

// Register adds the prune job. It is a no-op when retention is disabled.
func (s *Scheduler) Register() error {
	if s.cfg.Retention <= 0 {
		s.log.Info("retention disabled, prune job not registered")
		return nil
	}
	if _, err := s.cron.AddFunc(s.cfg.PruneSpec, func() { s.PruneNow(context.Background()) }); err != nil {
		return fmt.Errorf("register prune job %q: %w", s.cfg.PruneSpec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "prune_spec", s.cfg.PruneSpec, "retention", s.cfg.Retention.String())
}

// Stop stops the cron runner and waits for a running job to finish or ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// PruneNow runs the retention job immediately.
func (s *Scheduler) PruneNow(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.Retention)
	n, err := s.pruner.Prune(ctx, cutoff)
	if err != nil {
		s.log.Error("prune failed", "cutoff", cutoff, "error", err)
	} else if n > 0 {
		s.log.Info("pruned old rows", "removed", n, "cutoff", cutoff)
	}
	if s.OnPrune != nil {
		s.OnPrune(n, err)
	}
	return n, err
}
