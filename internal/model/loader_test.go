package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgsyncd/orgsyncd/internal/github"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "rules.yaml"), `
managed_orgs: [acme]
bot_teams: [bots]
bots:
  tasker:
    login: taskbot
    app_slug: tasker-app
`)
	writeFile(t, filepath.Join(dir, "teams", "admins-gh.yaml"), `
org: acme
members: [1, 2]
`)
	writeFile(t, filepath.Join(dir, "repos", "acme", "widget.yaml"), `
description: the widget
teams:
  - name: admins-gh
    permission: write
bots: [tasker]
branch_protections:
  - pattern: main
    pr_required: true
    ci_checks: [ci]
    required_approvals: 1
`)

	state, err := LoadDir(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"acme"}, state.Rules.ManagedOrgs)
	require.Len(t, state.Teams, 1)
	assert.Equal(t, Team{Org: "acme", Name: "admins-gh", Members: []int64{1, 2}}, state.Teams[0])
	require.Len(t, state.Repos, 1)
	repo := state.Repos[0]
	assert.Equal(t, "acme", repo.Org)
	assert.Equal(t, "widget", repo.Name)
	require.Len(t, repo.Teams, 1)
	assert.Equal(t, github.PermissionWrite, repo.Teams[0].Permission)
	require.Len(t, repo.BranchProtections, 1)
	assert.True(t, repo.BranchProtections[0].PRRequired)
}

func TestLoadDirNameMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "teams", "admins-gh.yaml"), `
org: acme
name: something-else
`)

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "something-else")
}

func TestLoadDirUnknownBot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "repos", "acme", "widget.yaml"), `
bots: [ghostbot]
`)

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghostbot")
}

func TestLoadDirMissingSubdirsIsEmptyState(t *testing.T) {
	state, err := LoadDir(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, state.Teams)
	assert.Empty(t, state.Repos)
}

func TestValidateDuplicatePattern(t *testing.T) {
	state := &DesiredState{
		Repos: []Repo{{
			Org: "acme", Name: "widget",
			BranchProtections: []BranchProtection{
				{Pattern: "main"},
				{Pattern: "main"},
			},
		}},
	}
	err := state.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "main")
}

func TestValidateMergeBotFlag(t *testing.T) {
	state := &DesiredState{
		Rules: Rules{Bots: map[string]Bot{"tasker": {Login: "taskbot"}}},
		Repos: []Repo{{
			Org: "acme", Name: "widget",
			Bots: []string{"tasker"},
			BranchProtections: []BranchProtection{
				{Pattern: "main", MergeBots: []string{"tasker"}},
			},
		}},
	}
	err := state.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a merge bot")
}
