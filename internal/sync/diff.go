package sync

import (
	"context"
	"errors"
	"strings"

	"github.com/orgsyncd/orgsyncd/internal/github"
)

// Diff is the full set of operations a run would perform. Team
// operations come before repo operations: a repo grant can reference a
// team created in the same run.
type Diff struct {
	Teams []TeamDiff
	Repos []RepoDiff
}

// Empty reports whether applying the diff would change nothing. A
// second run right after a fully applied one must be empty.
func (d *Diff) Empty() bool {
	for _, t := range d.Teams {
		if !t.Noop() {
			return false
		}
	}
	for _, r := range d.Repos {
		if !r.Noop() {
			return false
		}
	}
	return true
}

// Changes counts the team and repo items that would change something.
func (d *Diff) Changes() (teams, repos int) {
	for _, t := range d.Teams {
		if !t.Noop() {
			teams++
		}
	}
	for _, r := range d.Repos {
		if !r.Noop() {
			repos++
		}
	}
	return teams, repos
}

// Apply walks the diff in dependency order and issues the write calls.
// An error aborts the remaining steps of that item only; errors are
// collected across items and joined, so the caller sees every failure
// of the run.
func (d *Diff) Apply(ctx context.Context, w github.Write) error {
	var errs []error
	for _, t := range d.Teams {
		if t.Noop() {
			continue
		}
		if err := t.apply(ctx, w); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range d.Repos {
		if r.Noop() {
			continue
		}
		if err := r.apply(ctx, w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// String renders the diff as a human-readable plan. No-op items render
// as nothing.
func (d *Diff) String() string {
	var b strings.Builder
	for _, t := range d.Teams {
		if !t.Noop() {
			b.WriteString(t.String())
		}
	}
	for _, r := range d.Repos {
		if !r.Noop() {
			b.WriteString(r.String())
		}
	}
	return b.String()
}
