package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/resilienthike/clinical-swarm/internal/metrics"
	"github.com/resilienthike/clinical-swarm/internal/record"
)

// Runner executes the configured stages against one event record, strictly
// in order. The first error of any kind marks the event failed with the
// error message persisted verbatim; layers and audit entries committed by
// earlier stages are never rolled back.
type Runner struct {
	store  record.Store
	stages []Stage
	log    *slog.Logger
}

// NewRunner creates a Runner over the given ordered stage set.
func NewRunner(store record.Store, stages []Stage, log *slog.Logger) *Runner {
	return &Runner{store: store, stages: stages, log: log}
}

// Run drives the event through pending → running → {complete, failed}.
// The returned error mirrors what was persisted on the record.
func (r *Runner) Run(ctx context.Context, eventID string) error {
	if err := r.store.SetStatus(ctx, eventID, record.StatusRunning, ""); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	for _, s := range r.stages {
		if err := r.runStage(ctx, s, eventID); err != nil {
			r.log.Error("stage failed, pipeline aborted", "event", eventID, "stage", s.Name(), "err", err)
			metrics.EventsFailed.Inc()
			if serr := r.store.SetStatus(ctx, eventID, record.StatusFailed, err.Error()); serr != nil {
				r.log.Error("unable to persist failed status", "event", eventID, "err", serr)
			}
			return err
		}
	}

	if err := r.store.SetStatus(ctx, eventID, record.StatusComplete, ""); err != nil {
		return fmt.Errorf("mark complete: %w", err)
	}
	metrics.EventsCompleted.Inc()
	r.log.Info("swarm complete", "event", eventID)
	return nil
}

// runStage applies the stage template. The audit entry is appended by the
// runner, not the stage, so every successful execution is logged exactly
// once regardless of the stage implementation.
func (r *Runner) runStage(ctx context.Context, s Stage, eventID string) error {
	r.log.Info("stage activated", "event", eventID, "stage", s.Name())
	rec, err := r.store.Get(ctx, eventID)
	if err != nil {
		return fmt.Errorf("%s: read record: %w", s.Name(), err)
	}

	start := time.Now()
	result, err := s.Derive(ctx, rec)
	if err != nil {
		return fmt.Errorf("%s: %w", s.Name(), err)
	}
	if err := s.Commit(ctx, eventID, result); err != nil {
		return fmt.Errorf("%s: %w", s.Name(), err)
	}
	elapsed := time.Since(start)

	if err := r.store.AppendAudit(ctx, eventID, record.AuditEntry{
		StageName:       s.Name(),
		StageTitle:      s.Title(),
		DurationSeconds: elapsed.Seconds(),
		Timestamp:       time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("%s: append audit entry: %w", s.Name(), err)
	}
	if err := s.Announce(ctx, eventID, result, elapsed); err != nil {
		return fmt.Errorf("%s: announce handoff: %w", s.Name(), err)
	}

	metrics.StageDuration.WithLabelValues(s.Name()).Observe(elapsed.Seconds())
	r.log.Info("stage finished", "event", eventID, "stage", s.Name(), "elapsed", elapsed)
	return nil
}
