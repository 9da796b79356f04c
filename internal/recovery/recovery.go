// Package recovery implements the startup reconciliation described in
// spec §4.G: before the worker pool accepts new jobs, durable state is
// reconciled with reality. No supervisor survives a restart, so any Run
// left RUNNING belongs to a worker that no longer exists.
package recovery

import (
	"context"
	"fmt"
	"time"

	"goa.design/toolrun/internal/eventbus"
	"goa.design/toolrun/internal/model"
	"goa.design/toolrun/internal/queue"
	"goa.design/toolrun/internal/runstore"
	"goa.design/toolrun/internal/telemetry"
)

const restartDiagnostic = "Run was cancelled due to server restart."

// Recoverer performs the one-time startup sweep.
type Recoverer struct {
	Runs   runstore.Store
	Queue  queue.Queue
	Bus    eventbus.Bus
	Logger telemetry.Logger
	Now    func() time.Time
}

// Run executes the recovery sweep once. It should be called before the
// Supervisor worker pool begins dequeuing jobs.
func (r *Recoverer) Run(ctx context.Context) error {
	if err := r.cancelOrphanedRunning(ctx); err != nil {
		return err
	}
	return r.redispatchPending(ctx)
}

func (r *Recoverer) cancelOrphanedRunning(ctx context.Context) error {
	running, err := r.Runs.ListByStatus(ctx, model.RunRunning)
	if err != nil {
		return fmt.Errorf("recovery: list running runs: %w", err)
	}
	for i := range running {
		run := running[i]
		run.Status = model.RunCancelled
		now := r.now()
		run.FinishedAt = &now
		run.AppendStdout(restartDiagnostic)
		if err := r.Runs.Update(ctx, &run); err != nil {
			if r.Logger != nil {
				r.Logger.Error(ctx, "recovery: failed to cancel orphaned run", "run_id", run.ID, "error", err)
			}
			continue
		}
		if r.Bus != nil {
			_ = eventbus.PublishStatus(ctx, r.Bus, run.ID, string(model.RunCancelled))
		}
		if r.Logger != nil {
			r.Logger.Info(ctx, "recovery: cancelled orphaned running run", "run_id", run.ID)
		}
	}
	return nil
}

func (r *Recoverer) redispatchPending(ctx context.Context) error {
	pending, err := r.Runs.ListByStatus(ctx, model.RunPending)
	if err != nil {
		return fmt.Errorf("recovery: list pending runs: %w", err)
	}
	for i := range pending {
		run := pending[i]
		handle, err := r.Queue.Enqueue(ctx, model.Job{Kind: model.JobRun, ID: run.ID, Command: run.Command})
		if err != nil {
			if r.Logger != nil {
				r.Logger.Error(ctx, "recovery: failed to re-enqueue pending run", "run_id", run.ID, "error", err)
			}
			continue
		}
		run.QueueJobHandle = handle
		if err := r.Runs.Update(ctx, &run); err != nil && r.Logger != nil {
			r.Logger.Error(ctx, "recovery: failed to persist re-enqueued handle", "run_id", run.ID, "error", err)
		}
	}
	return nil
}

func (r *Recoverer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
