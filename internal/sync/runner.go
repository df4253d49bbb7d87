package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orgsyncd/orgsyncd/internal/github"
	"github.com/orgsyncd/orgsyncd/internal/model"
)

// Runner executes one full pipeline pass: load the desired state, build
// the caches, diff, and apply. With a nil write port the runner only
// produces the plan.
type Runner struct {
	read      github.Read
	write     github.Write
	configDir string
}

// NewRunner creates a runner. write may be nil for plan-only operation.
func NewRunner(read github.Read, write github.Write, configDir string) *Runner {
	return &Runner{read: read, write: write, configDir: configDir}
}

// Result summarizes one run.
type Result struct {
	// Plan is the rendered diff; empty when nothing would change.
	Plan string
	// TeamChanges and RepoChanges count the diff items that change
	// something.
	TeamChanges int
	RepoChanges int
	// Applied reports whether the diff was handed to the write port.
	Applied bool
}

// Run executes the pipeline once. The desired state is re-loaded every
// run so configuration changes take effect without a restart.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	state, err := model.LoadDir(r.configDir)
	if err != nil {
		return nil, fmt.Errorf("loading desired state: %w", err)
	}

	syncer, err := New(ctx, r.read, state)
	if err != nil {
		return nil, fmt.Errorf("building caches: %w", err)
	}
	diff, err := syncer.DiffAll(ctx)
	if err != nil {
		return nil, err
	}

	teams, repos := diff.Changes()
	result := &Result{Plan: diff.String(), TeamChanges: teams, RepoChanges: repos}
	if diff.Empty() {
		slog.Debug("nothing to synchronize")
		return result, nil
	}
	slog.Info("synchronization plan computed", "team_changes", teams, "repo_changes", repos)

	if r.write == nil {
		return result, nil
	}
	result.Applied = true
	if err := diff.Apply(ctx, r.write); err != nil {
		return result, fmt.Errorf("applying changes: %w", err)
	}
	return result, nil
}

// Plan computes the current plan without applying anything, regardless
// of how the runner was configured.
func (r *Runner) Plan(ctx context.Context) (*Result, error) {
	planner := &Runner{read: r.read, configDir: r.configDir}
	return planner.Run(ctx)
}
