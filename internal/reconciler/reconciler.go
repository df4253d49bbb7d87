package reconciler

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/orgsyncd/orgsyncd/internal/runlog"
	"github.com/orgsyncd/orgsyncd/internal/sync"
)

// Reconciler drives the sync pipeline on a fixed interval and records
// every run. Manual runs triggered through the admin API go through the
// same path; a mutex keeps runs from overlapping.
type Reconciler struct {
	runner   *sync.Runner
	repo     runlog.Repository
	interval time.Duration
	dryRun   bool

	mu gosync.Mutex
}

// New creates a new Reconciler.
func New(runner *sync.Runner, repo runlog.Repository, interval time.Duration, dryRun bool) *Reconciler {
	return &Reconciler{
		runner:   runner,
		repo:     repo,
		interval: interval,
		dryRun:   dryRun,
	}
}

// Start begins the reconciliation loop. It blocks until ctx is
// cancelled. The first run happens immediately rather than one interval
// in.
func (r *Reconciler) Start(ctx context.Context) {
	slog.Info("reconciler started", "interval", r.interval.String(), "dry_run", r.dryRun)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.runAndLog(ctx)
		}
	}
}

func (r *Reconciler) runAndLog(ctx context.Context) {
	run, err := r.RunOnce(ctx, "interval")
	if err != nil {
		slog.Error("reconciler: sync run failed", "error", err)
		return
	}
	if run.TeamChanges == 0 && run.RepoChanges == 0 {
		slog.Debug("reconciler: nothing to do", "run", run.ID)
		return
	}
	slog.Info("reconciler: sync run finished",
		"run", run.ID,
		"team_changes", run.TeamChanges,
		"repo_changes", run.RepoChanges,
		"applied", run.Applied,
	)
}

// RunOnce executes one sync run and records it. Failures during the run
// are recorded too, with the partial plan when one was computed.
func (r *Reconciler) RunOnce(ctx context.Context, trigger string) (*runlog.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := &runlog.Run{
		ID:        uuid.New(),
		Trigger:   trigger,
		DryRun:    r.dryRun,
		StartedAt: time.Now().UTC(),
	}
	result, err := r.runner.Run(ctx)
	run.FinishedAt = time.Now().UTC()
	if result != nil {
		run.Applied = result.Applied
		run.TeamChanges = result.TeamChanges
		run.RepoChanges = result.RepoChanges
		run.Plan = result.Plan
	}
	if err != nil {
		run.Error = err.Error()
	}

	if recordErr := r.repo.Record(ctx, run); recordErr != nil {
		slog.Error("reconciler: failed to record run", "run", run.ID, "error", recordErr)
	}
	return run, err
}

// Plan computes the current plan without applying or recording it.
func (r *Reconciler) Plan(ctx context.Context) (*sync.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runner.Plan(ctx)
}
