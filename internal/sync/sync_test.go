package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgsyncd/orgsyncd/internal/github"
	"github.com/orgsyncd/orgsyncd/internal/model"
)

const testOrg = "acme"

func newSyncer(t *testing.T, fake *github.Fake, state *model.DesiredState) *Syncer {
	t.Helper()
	require.NoError(t, state.Validate())
	s, err := New(context.Background(), fake, state)
	require.NoError(t, err)
	return s
}

func TestTeamCreate(t *testing.T) {
	fake := github.NewFake()
	fake.AddOrg(testOrg)
	fake.AddUser(1, "mark")
	fake.AddUser(2, "jan")

	state := &model.DesiredState{
		Teams: []model.Team{{Org: testOrg, Name: "admins-gh", Members: []int64{1, 2}}},
	}
	s := newSyncer(t, fake, state)

	diffs, err := s.DiffTeams(context.Background())
	require.NoError(t, err)
	require.Len(t, diffs, 1)

	create, ok := diffs[0].(*CreateTeamDiff)
	require.True(t, ok)
	assert.Equal(t, testOrg, create.Org)
	assert.Equal(t, "admins-gh", create.Name)
	assert.Equal(t, model.DefaultTeamDescription, create.Description)
	assert.Equal(t, github.PrivacyClosed, create.Privacy)
	require.Len(t, create.Members, 2)
	assert.Equal(t, "mark", create.Members[0].Login)
	assert.Equal(t, github.RoleMember, create.Members[0].Role)
	assert.Equal(t, "jan", create.Members[1].Login)
	assert.Equal(t, github.RoleMember, create.Members[1].Role)
}

func TestTeamEditAddsMember(t *testing.T) {
	fake := github.NewFake()
	fake.AddUser(1, "mark")
	fake.AddUser(2, "jan")
	fake.AddTeam(testOrg, "admins-gh", model.DefaultTeamDescription, github.PrivacyClosed,
		map[int64]github.TeamMember{1: {Login: "mark", Role: github.RoleMember}})

	state := &model.DesiredState{
		Teams: []model.Team{{Org: testOrg, Name: "admins-gh", Members: []int64{1, 2}}},
	}
	s := newSyncer(t, fake, state)

	diffs, err := s.DiffTeams(context.Background())
	require.NoError(t, err)
	require.Len(t, diffs, 1)

	edit, ok := diffs[0].(*EditTeamDiff)
	require.True(t, ok)
	assert.Nil(t, edit.NameChange)
	assert.Nil(t, edit.DescriptionChange)
	assert.Nil(t, edit.PrivacyChange)
	require.Len(t, edit.Members, 2)
	assert.Equal(t, MemberDiff{Login: "mark", Kind: MemberNoop}, edit.Members[0])
	assert.Equal(t, MemberDiff{Login: "jan", Kind: MemberCreate, Role: github.RoleMember}, edit.Members[1])
	assert.False(t, edit.Noop())
}

func TestTeamDeleteStale(t *testing.T) {
	fake := github.NewFake()
	fake.AddUser(1, "mark")
	fake.AddTeam(testOrg, "admins-gh", model.DefaultTeamDescription, github.PrivacyClosed,
		map[int64]github.TeamMember{1: {Login: "mark", Role: github.RoleMember}})
	fake.AddTeam(testOrg, "users-gh", model.DefaultTeamDescription, github.PrivacyClosed, nil)

	state := &model.DesiredState{
		Rules: model.Rules{ManagedOrgs: []string{testOrg}},
		Teams: []model.Team{{Org: testOrg, Name: "admins-gh", Members: []int64{1}}},
	}
	s := newSyncer(t, fake, state)

	diffs, err := s.DiffTeams(context.Background())
	require.NoError(t, err)
	require.Len(t, diffs, 2)
	assert.True(t, diffs[0].Noop())
	del, ok := diffs[1].(*DeleteTeamDiff)
	require.True(t, ok)
	assert.Equal(t, "users-gh", del.Name)
}

func TestTeamDeleteOnlyInManagedOrgs(t *testing.T) {
	fake := github.NewFake()
	fake.AddUser(1, "mark")
	fake.AddTeam(testOrg, "admins-gh", model.DefaultTeamDescription, github.PrivacyClosed,
		map[int64]github.TeamMember{1: {Login: "mark", Role: github.RoleMember}})
	fake.AddTeam(testOrg, "users-gh", model.DefaultTeamDescription, github.PrivacyClosed, nil)

	state := &model.DesiredState{
		Teams: []model.Team{{Org: testOrg, Name: "admins-gh", Members: []int64{1}}},
	}
	s := newSyncer(t, fake, state)

	diffs, err := s.DiffTeams(context.Background())
	require.NoError(t, err)
	require.Len(t, diffs, 1)
}

func TestTeamBotTeamsNeverDeleted(t *testing.T) {
	fake := github.NewFake()
	fake.AddUser(1, "mark")
	fake.AddTeam(testOrg, "admins-gh", model.DefaultTeamDescription, github.PrivacyClosed,
		map[int64]github.TeamMember{1: {Login: "mark", Role: github.RoleMember}})
	fake.AddTeam(testOrg, "bots", model.DefaultTeamDescription, github.PrivacyClosed, nil)

	state := &model.DesiredState{
		Rules: model.Rules{ManagedOrgs: []string{testOrg}, BotTeams: []string{"bots"}},
		Teams: []model.Team{{Org: testOrg, Name: "admins-gh", Members: []int64{1}}},
	}
	s := newSyncer(t, fake, state)

	diffs, err := s.DiffTeams(context.Background())
	require.NoError(t, err)
	require.Len(t, diffs, 1)
}

func TestTeamRoleDerivedFromOrgOwners(t *testing.T) {
	fake := github.NewFake()
	fake.AddUser(1, "mark")
	fake.AddUser(2, "jan")
	fake.AddOrgOwner(testOrg, 1)
	fake.AddTeam(testOrg, "admins-gh", model.DefaultTeamDescription, github.PrivacyClosed,
		map[int64]github.TeamMember{
			// mark is an owner but currently a plain member; jan holds
			// maintainer without being an owner.
			1: {Login: "mark", Role: github.RoleMember},
			2: {Login: "jan", Role: github.RoleMaintainer},
		})

	state := &model.DesiredState{
		Teams: []model.Team{{Org: testOrg, Name: "admins-gh", Members: []int64{1, 2}}},
	}
	s := newSyncer(t, fake, state)

	diffs, err := s.DiffTeams(context.Background())
	require.NoError(t, err)
	edit := diffs[0].(*EditTeamDiff)
	require.Len(t, edit.Members, 2)
	assert.Equal(t, MemberDiff{
		Login: "mark", Kind: MemberChangeRole,
		Role: github.RoleMaintainer, OldRole: github.RoleMember,
	}, edit.Members[0])
	assert.Equal(t, MemberDiff{
		Login: "jan", Kind: MemberChangeRole,
		Role: github.RoleMember, OldRole: github.RoleMaintainer,
	}, edit.Members[1])
}

func TestTeamPendingInvitationIsSatisfied(t *testing.T) {
	fake := github.NewFake()
	fake.AddUser(2, "jan")
	fake.AddTeam(testOrg, "admins-gh", model.DefaultTeamDescription, github.PrivacyClosed, nil)
	fake.AddInvitation(testOrg, "admins-gh", "jan")

	state := &model.DesiredState{
		Teams: []model.Team{{Org: testOrg, Name: "admins-gh", Members: []int64{2}}},
	}
	s := newSyncer(t, fake, state)

	diffs, err := s.DiffTeams(context.Background())
	require.NoError(t, err)
	assert.True(t, diffs[0].Noop())
}

func TestTeamUnresolvedMemberID(t *testing.T) {
	fake := github.NewFake()
	fake.AddOrg(testOrg)

	state := &model.DesiredState{
		Teams: []model.Team{{Org: testOrg, Name: "admins-gh", Members: []int64{99}}},
	}
	s := newSyncer(t, fake, state)

	_, err := s.DiffTeams(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "99")
}

func TestProtectionChecksOrderInsensitive(t *testing.T) {
	fake := github.NewFake()
	fake.AddRepo(&github.Repo{Org: testOrg, Name: "widget"})
	fake.AddBranchProtection(testOrg, "widget", github.BranchProtection{
		Pattern:                      "main",
		IsAdminEnforced:              true,
		RequiredApprovingReviewCount: 1,
		RequiredStatusCheckContexts:  []string{"a", "b"},
		RequiresApprovingReviews:     true,
	})

	state := &model.DesiredState{
		Repos: []model.Repo{{
			Org: testOrg, Name: "widget",
			BranchProtections: []model.BranchProtection{{
				Pattern:           "main",
				PRRequired:        true,
				CIChecks:          []string{"b", "a"},
				RequiredApprovals: 1,
			}},
		}},
	}
	s := newSyncer(t, fake, state)

	diffs, err := s.DiffRepos(context.Background())
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.True(t, diffs[0].Noop())
}

func TestConstructProtectionWithMergeBot(t *testing.T) {
	rules := &model.Rules{Bots: map[string]model.Bot{
		"merge-queue": {Login: "mergebot", MergeBot: true},
	}}
	repo := &model.Repo{Org: testOrg, Name: "widget"}
	bp := &model.BranchProtection{
		Pattern:           "main",
		PRRequired:        true,
		CIChecks:          []string{"ci"},
		RequiredApprovals: 2,
		MergeBots:         []string{"merge-queue"},
		AllowedMergeTeams: []string{"release"},
	}

	rule := constructProtection(rules, repo, bp)
	assert.Equal(t, 0, rule.RequiredApprovingReviewCount)
	assert.True(t, rule.IsAdminEnforced)
	assert.Contains(t, rule.PushAllowances, github.UserAllowance("mergebot"))
	assert.Contains(t, rule.PushAllowances, github.TeamAllowance(testOrg, "release"))
}

func TestRepoArchivedFreeze(t *testing.T) {
	fake := github.NewFake()
	fake.AddRepo(&github.Repo{Org: testOrg, Name: "old", Description: "before", Archived: true})

	state := &model.DesiredState{
		Repos: []model.Repo{{Org: testOrg, Name: "old", Description: "after", Archived: true}},
	}
	s := newSyncer(t, fake, state)

	diffs, err := s.DiffRepos(context.Background())
	require.NoError(t, err)
	update := diffs[0].(*UpdateRepoDiff)
	assert.Nil(t, update.Settings)
	assert.True(t, update.Noop())
}

func TestRepoUnarchiveEmitsSettings(t *testing.T) {
	fake := github.NewFake()
	fake.AddRepo(&github.Repo{Org: testOrg, Name: "old", Description: "before", Archived: true})

	state := &model.DesiredState{
		Repos: []model.Repo{{Org: testOrg, Name: "old", Description: "after"}},
	}
	s := newSyncer(t, fake, state)

	diffs, err := s.DiffRepos(context.Background())
	require.NoError(t, err)
	update := diffs[0].(*UpdateRepoDiff)
	require.NotNil(t, update.Settings)
	assert.Equal(t, "after", update.Settings.New.Description)
	assert.False(t, update.Settings.New.Archived)
}

func TestRepoPermissionDiffs(t *testing.T) {
	fake := github.NewFake()
	fake.AddRepo(&github.Repo{Org: testOrg, Name: "widget"})
	fake.SetRepoTeams(testOrg, "widget", []github.RepoTeam{
		{Name: "team1", Permission: github.PermissionRead},
		{Name: "security", Permission: github.PermissionAdmin},
	})
	fake.SetRepoCollaborators(testOrg, "widget", []github.RepoUser{
		{Login: "user1", Permission: github.PermissionAdmin},
		{Login: "taskbot", Permission: github.PermissionWrite},
		{Login: "mergebot", Permission: github.PermissionWrite},
		{Login: "stray", Permission: github.PermissionWrite},
	})

	state := &model.DesiredState{
		Rules: model.Rules{
			PreservedTeams: map[string][]string{testOrg: {"security"}},
			Bots: map[string]model.Bot{
				"tasker":      {Login: "taskbot", AppSlug: "tasker-app"},
				"merge-queue": {Login: "mergebot", MergeBot: true},
			},
		},
		Repos: []model.Repo{{
			Org: testOrg, Name: "widget",
			Teams: []model.TeamPermission{
				{Name: "team1", Permission: github.PermissionWrite},
				{Name: "team2", Permission: github.PermissionTriage},
			},
			Members: []model.MemberPermission{{Login: "user1", Permission: github.PermissionAdmin}},
			Bots:    []string{"tasker"},
		}},
	}
	s := newSyncer(t, fake, state)

	diffs, err := s.DiffRepos(context.Background())
	require.NoError(t, err)
	update := diffs[0].(*UpdateRepoDiff)

	assert.ElementsMatch(t, []PermissionDiff{
		{Collaborator: CollaboratorTeam, Name: "team1", Kind: PermissionUpdate,
			Permission: github.PermissionWrite, OldPermission: github.PermissionRead},
		{Collaborator: CollaboratorTeam, Name: "team2", Kind: PermissionGrant,
			Permission: github.PermissionTriage},
		// stray is the only collaborator revoked: user1 and taskbot are
		// desired, mergebot is a known bot account.
		{Collaborator: CollaboratorUser, Name: "stray", Kind: PermissionRevoke},
	}, update.Permissions)
}

func TestRepoAppInstallations(t *testing.T) {
	fake := github.NewFake()
	fake.AddRepo(&github.Repo{Org: testOrg, Name: "widget"})
	fake.AddRepo(&github.Repo{Org: testOrg, Name: "gadget"})
	fake.AddAppInstallation(testOrg, "tasker-app", "gadget")

	rules := model.Rules{Bots: map[string]model.Bot{
		"tasker": {Login: "taskbot", AppSlug: "tasker-app"},
	}}

	t.Run("add missing repo", func(t *testing.T) {
		state := &model.DesiredState{
			Rules: rules,
			Repos: []model.Repo{{Org: testOrg, Name: "widget", Bots: []string{"tasker"}}},
		}
		s := newSyncer(t, fake, state)
		diffs, err := s.DiffRepos(context.Background())
		require.NoError(t, err)
		update := diffs[0].(*UpdateRepoDiff)
		require.Len(t, update.Installations, 1)
		assert.Equal(t, InstallationAdd, update.Installations[0].Kind)
		assert.Equal(t, "tasker-app", update.Installations[0].AppSlug)
	})

	t.Run("remove unwanted repo", func(t *testing.T) {
		state := &model.DesiredState{
			Rules: rules,
			Repos: []model.Repo{{Org: testOrg, Name: "gadget"}},
		}
		s := newSyncer(t, fake, state)
		diffs, err := s.DiffRepos(context.Background())
		require.NoError(t, err)
		update := diffs[0].(*UpdateRepoDiff)
		require.Len(t, update.Installations, 1)
		assert.Equal(t, InstallationRemove, update.Installations[0].Kind)
	})

	t.Run("app not installed on org", func(t *testing.T) {
		state := &model.DesiredState{
			Rules: model.Rules{Bots: map[string]model.Bot{
				"other": {Login: "otherbot", AppSlug: "other-app"},
			}},
			Repos: []model.Repo{{Org: testOrg, Name: "widget", Bots: []string{"other"}}},
		}
		s := newSyncer(t, fake, state)
		diffs, err := s.DiffRepos(context.Background())
		require.NoError(t, err)
		assert.Empty(t, diffs[0].(*UpdateRepoDiff).Installations)
	})
}

func fullState() *model.DesiredState {
	return &model.DesiredState{
		Rules: model.Rules{
			ManagedOrgs: []string{testOrg},
			Bots: map[string]model.Bot{
				"tasker":      {Login: "taskbot", AppSlug: "tasker-app"},
				"merge-queue": {Login: "mergebot", MergeBot: true},
			},
		},
		Teams: []model.Team{{Org: testOrg, Name: "admins-gh", Members: []int64{1, 2}}},
		Repos: []model.Repo{{
			Org: testOrg, Name: "widget",
			Description: "the widget",
			Teams:       []model.TeamPermission{{Name: "admins-gh", Permission: github.PermissionWrite}},
			Members:     []model.MemberPermission{{Login: "jan", Permission: github.PermissionAdmin}},
			Bots:        []string{"tasker", "merge-queue"},
			BranchProtections: []model.BranchProtection{{
				Pattern:           "main",
				PRRequired:        true,
				CIChecks:          []string{"ci"},
				RequiredApprovals: 1,
				MergeBots:         []string{"merge-queue"},
			}},
		}},
	}
}

func TestIdempotence(t *testing.T) {
	fake := github.NewFake()
	fake.AddOrg(testOrg)
	fake.AddUser(1, "mark")
	fake.AddUser(2, "jan")
	fake.AddOrgOwner(testOrg, 1)
	fake.AddAppInstallation(testOrg, "tasker-app")

	state := fullState()
	s := newSyncer(t, fake, state)

	diff, err := s.DiffAll(context.Background())
	require.NoError(t, err)
	require.False(t, diff.Empty())
	require.NoError(t, diff.Apply(context.Background(), fake))

	// A fresh syncer rebuilds the caches against the mutated state.
	s2 := newSyncer(t, fake, state)
	diff2, err := s2.DiffAll(context.Background())
	require.NoError(t, err)
	assert.True(t, diff2.Empty(), "second diff should be empty, got:\n%s", diff2)
}

func TestNoOpStability(t *testing.T) {
	fake := github.NewFake()
	fake.AddOrg(testOrg)
	fake.AddUser(1, "mark")
	fake.AddUser(2, "jan")
	fake.AddAppInstallation(testOrg, "tasker-app")

	state := fullState()
	s := newSyncer(t, fake, state)

	first, err := s.DiffAll(context.Background())
	require.NoError(t, err)
	second, err := s.DiffAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.String(), second.String())
}

func TestApplyCollectsErrorsAcrossItems(t *testing.T) {
	fake := github.NewFake()
	fake.AddOrg(testOrg)
	fake.AddUser(1, "mark")

	// The first item fails on a member the platform does not know; the
	// second must still be applied.
	diff := &Diff{Teams: []TeamDiff{
		&CreateTeamDiff{Org: testOrg, Name: "ghosts", Privacy: github.PrivacyClosed,
			Members: []MemberDiff{{Login: "ghost", Kind: MemberCreate, Role: github.RoleMember}}},
		&CreateTeamDiff{Org: testOrg, Name: "admins-gh", Privacy: github.PrivacyClosed,
			Members: []MemberDiff{{Login: "mark", Kind: MemberCreate, Role: github.RoleMember}}},
	}}

	err := diff.Apply(context.Background(), fake)
	require.Error(t, err)

	// The failure of the first item did not stop the second.
	team, lookupErr := fake.Team(context.Background(), testOrg, "admins-gh")
	require.NoError(t, lookupErr)
	require.NotNil(t, team)
}
