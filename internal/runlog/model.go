package runlog

import (
	"time"

	"github.com/google/uuid"
)

// Run is the record of one synchronization pass.
type Run struct {
	ID uuid.UUID
	// Trigger is "interval" for scheduled runs and "manual" for runs
	// requested through the admin API.
	Trigger     string
	DryRun      bool
	Applied     bool
	TeamChanges int
	RepoChanges int
	// Plan is the rendered diff; empty for no-op runs.
	Plan       string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}
