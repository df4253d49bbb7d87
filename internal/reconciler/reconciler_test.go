package reconciler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgsyncd/orgsyncd/internal/github"
	"github.com/orgsyncd/orgsyncd/internal/runlog"
	"github.com/orgsyncd/orgsyncd/internal/sync"
)

func writeConfig(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRunOnceRecordsRun(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "teams/admins-gh.yaml", "org: acme\nmembers: [1]\n")

	fake := github.NewFake()
	fake.AddOrg("acme")
	fake.AddUser(1, "mark")

	repo := runlog.NewMemoryRepository()
	rec := New(sync.NewRunner(fake, fake, dir), repo, time.Hour, false)

	run, err := rec.RunOnce(context.Background(), "manual")
	require.NoError(t, err)
	assert.True(t, run.Applied)
	assert.Equal(t, 1, run.TeamChanges)
	assert.Contains(t, run.Plan, "create team acme/admins-gh")
	assert.False(t, run.FinishedAt.Before(run.StartedAt))

	stored, err := repo.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "manual", stored.Trigger)

	// A second run finds nothing to do.
	run, err = rec.RunOnce(context.Background(), "interval")
	require.NoError(t, err)
	assert.Zero(t, run.TeamChanges)
	assert.False(t, run.Applied)
}

func TestRunOnceRecordsFailure(t *testing.T) {
	dir := t.TempDir()
	// Declared name disagrees with the filename, so loading fails.
	writeConfig(t, dir, "teams/admins-gh.yaml", "org: acme\nname: other\n")

	repo := runlog.NewMemoryRepository()
	rec := New(sync.NewRunner(github.NewFake(), nil, dir), repo, time.Hour, false)

	run, err := rec.RunOnce(context.Background(), "interval")
	require.Error(t, err)
	require.NotNil(t, run)
	assert.NotEmpty(t, run.Error)

	stored, getErr := repo.GetByID(context.Background(), run.ID)
	require.NoError(t, getErr)
	assert.Equal(t, run.Error, stored.Error)
}
