package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/orgsyncd/orgsyncd/internal/github"
	"github.com/orgsyncd/orgsyncd/internal/model"
)

// RepoDiff is one operation bringing a repository in line with the
// desired state: CreateRepoDiff or UpdateRepoDiff. Repositories absent
// from the desired state are left alone.
type RepoDiff interface {
	apply(ctx context.Context, w github.Write) error
	Noop() bool
	fmt.Stringer
}

// CollaboratorKind distinguishes team grants from user grants.
type CollaboratorKind int

const (
	CollaboratorTeam CollaboratorKind = iota
	CollaboratorUser
)

// PermissionDiffKind classifies a permission change.
type PermissionDiffKind int

const (
	PermissionGrant PermissionDiffKind = iota
	PermissionUpdate
	PermissionRevoke
)

// PermissionDiff is one access change on a repository. OldPermission is
// only meaningful for updates.
type PermissionDiff struct {
	Collaborator  CollaboratorKind
	Name          string
	Kind          PermissionDiffKind
	Permission    github.RepoPermission
	OldPermission github.RepoPermission
}

func (p PermissionDiff) apply(ctx context.Context, w github.Write, org, repo string) error {
	switch {
	case p.Kind == PermissionRevoke && p.Collaborator == CollaboratorTeam:
		return w.RemoveTeamPermission(ctx, org, repo, p.Name)
	case p.Kind == PermissionRevoke:
		return w.RemoveUserPermission(ctx, org, repo, p.Name)
	case p.Collaborator == CollaboratorTeam:
		return w.SetTeamPermission(ctx, org, repo, p.Name, p.Permission)
	default:
		return w.SetUserPermission(ctx, org, repo, p.Name, p.Permission)
	}
}

func (p PermissionDiff) String() string {
	kind := "team"
	if p.Collaborator == CollaboratorUser {
		kind = "user"
	}
	switch p.Kind {
	case PermissionGrant:
		return fmt.Sprintf("  grant %s to %s %s", p.Permission, kind, p.Name)
	case PermissionUpdate:
		return fmt.Sprintf("  change permission of %s %s: %s -> %s", kind, p.Name, p.OldPermission, p.Permission)
	default:
		return fmt.Sprintf("  revoke access of %s %s", kind, p.Name)
	}
}

// ProtectionDiffKind classifies a branch protection change.
type ProtectionDiffKind int

const (
	ProtectionCreate ProtectionDiffKind = iota
	ProtectionUpdate
	ProtectionDelete
)

// ProtectionDiff is one branch protection change. RuleID is the platform
// rule to update or delete; Old is only set for updates.
type ProtectionDiff struct {
	Kind    ProtectionDiffKind
	Pattern string
	RuleID  string
	Old     *github.BranchProtection
	Rule    *github.BranchProtection
}

func (p ProtectionDiff) apply(ctx context.Context, w github.Write, org, repoNodeID string) error {
	switch p.Kind {
	case ProtectionCreate:
		return w.UpsertBranchProtection(ctx, org, github.CreateRuleOn(repoNodeID), p.Rule)
	case ProtectionUpdate:
		return w.UpsertBranchProtection(ctx, org, github.UpdateRule(p.RuleID), p.Rule)
	default:
		return w.DeleteBranchProtection(ctx, org, p.RuleID)
	}
}

func (p ProtectionDiff) String() string {
	switch p.Kind {
	case ProtectionCreate:
		return fmt.Sprintf("  protect branches matching %q", p.Pattern)
	case ProtectionUpdate:
		return fmt.Sprintf("  update protection of branches matching %q", p.Pattern)
	default:
		return fmt.Sprintf("  unprotect branches matching %q", p.Pattern)
	}
}

// InstallationDiffKind classifies an app installation change.
type InstallationDiffKind int

const (
	InstallationAdd InstallationDiffKind = iota
	InstallationRemove
)

// InstallationDiff enables or disables the repository on an org-level
// app installation.
type InstallationDiff struct {
	Kind           InstallationDiffKind
	AppSlug        string
	InstallationID int64
}

func (i InstallationDiff) apply(ctx context.Context, w github.Write, org string, repo github.RemoteID) error {
	if i.Kind == InstallationAdd {
		return w.AddInstallationRepo(ctx, org, i.InstallationID, repo)
	}
	return w.RemoveInstallationRepo(ctx, org, i.InstallationID, repo)
}

func (i InstallationDiff) String() string {
	if i.Kind == InstallationAdd {
		return fmt.Sprintf("  enable app %s", i.AppSlug)
	}
	return fmt.Sprintf("  disable app %s", i.AppSlug)
}

// CreateRepoDiff creates a repository with its full desired access set.
type CreateRepoDiff struct {
	Org           string
	Name          string
	Settings      github.RepoSettings
	Permissions   []PermissionDiff
	Protections   []ProtectionDiff
	Installations []InstallationDiff
}

func (d *CreateRepoDiff) apply(ctx context.Context, w github.Write) error {
	repo, err := w.CreateRepo(ctx, d.Org, d.Name, d.Settings)
	if err != nil {
		return err
	}
	for _, p := range d.Permissions {
		if err := p.apply(ctx, w, d.Org, d.Name); err != nil {
			return err
		}
	}
	for _, p := range d.Protections {
		if err := p.apply(ctx, w, d.Org, repo.NodeID); err != nil {
			return err
		}
	}
	for _, i := range d.Installations {
		if err := i.apply(ctx, w, d.Org, repo.ID); err != nil {
			return err
		}
	}
	return nil
}

func (d *CreateRepoDiff) Noop() bool { return false }

func (d *CreateRepoDiff) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "create repo %s/%s\n", d.Org, d.Name)
	for _, p := range d.Permissions {
		fmt.Fprintf(&b, "%s\n", p)
	}
	for _, p := range d.Protections {
		fmt.Fprintf(&b, "%s\n", p)
	}
	for _, i := range d.Installations {
		fmt.Fprintf(&b, "%s\n", i)
	}
	return b.String()
}

// UpdateRepoDiff reconciles an existing repository through four
// independent sub-diffs. It renders as nothing when all four are empty.
type UpdateRepoDiff struct {
	Org           string
	Name          string
	RepoNodeID    string
	RepoID        github.RemoteID
	Settings      *FieldChange[github.RepoSettings]
	Permissions   []PermissionDiff
	Protections   []ProtectionDiff
	Installations []InstallationDiff
}

func (d *UpdateRepoDiff) apply(ctx context.Context, w github.Write) error {
	if d.Settings != nil {
		if err := w.EditRepo(ctx, d.Org, d.Name, d.Settings.New); err != nil {
			return err
		}
	}
	for _, p := range d.Permissions {
		if err := p.apply(ctx, w, d.Org, d.Name); err != nil {
			return err
		}
	}
	for _, p := range d.Protections {
		if err := p.apply(ctx, w, d.Org, d.RepoNodeID); err != nil {
			return err
		}
	}
	for _, i := range d.Installations {
		if err := i.apply(ctx, w, d.Org, d.RepoID); err != nil {
			return err
		}
	}
	return nil
}

func (d *UpdateRepoDiff) Noop() bool {
	return d.Settings == nil && len(d.Permissions) == 0 &&
		len(d.Protections) == 0 && len(d.Installations) == 0
}

func (d *UpdateRepoDiff) String() string {
	if d.Noop() {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "update repo %s/%s\n", d.Org, d.Name)
	if d.Settings != nil {
		fmt.Fprintf(&b, "  settings: %+v -> %+v\n", d.Settings.Old, d.Settings.New)
	}
	for _, p := range d.Permissions {
		fmt.Fprintf(&b, "%s\n", p)
	}
	for _, p := range d.Protections {
		fmt.Fprintf(&b, "%s\n", p)
	}
	for _, i := range d.Installations {
		fmt.Fprintf(&b, "%s\n", i)
	}
	return b.String()
}

// constructProtection builds the platform rule a desired protection
// expands to. Merge bots push the merged result themselves, so their
// presence forces the approval count to zero and grants each bot's user
// a push allowance alongside the explicitly allowed teams.
func constructProtection(rules *model.Rules, repo *model.Repo, bp *model.BranchProtection) *github.BranchProtection {
	rule := &github.BranchProtection{
		Pattern:                  bp.Pattern,
		IsAdminEnforced:          true,
		DismissesStaleReviews:    bp.DismissStaleReview,
		RequiresApprovingReviews: bp.PRRequired,
	}
	if bp.PRRequired {
		rule.RequiredStatusCheckContexts = append([]string(nil), bp.CIChecks...)
		rule.RequiredApprovingReviewCount = bp.RequiredApprovals
	}
	if len(bp.MergeBots) > 0 {
		rule.RequiredApprovingReviewCount = 0
	}
	for _, bot := range bp.MergeBots {
		rule.PushAllowances = append(rule.PushAllowances, github.UserAllowance(rules.Bots[bot].Login))
	}
	for _, team := range bp.AllowedMergeTeams {
		rule.PushAllowances = append(rule.PushAllowances, github.TeamAllowance(repo.Org, team))
	}
	github.NormalizeProtection(rule)
	return rule
}

// desiredPermissions flattens a repo's access config into per-team and
// per-user permission maps. Bot logins are folded into the user map at
// write level.
func desiredPermissions(rules *model.Rules, repo *model.Repo) (teams, users map[string]github.RepoPermission) {
	teams = map[string]github.RepoPermission{}
	users = map[string]github.RepoPermission{}
	for _, t := range repo.Teams {
		teams[t.Name] = t.Permission
	}
	for _, m := range repo.Members {
		users[m.Login] = m.Permission
	}
	for _, bot := range repo.Bots {
		users[rules.Bots[bot].Login] = github.PermissionWrite
	}
	return teams, users
}

// diffRepo computes the diff for one desired repository.
func (s *Syncer) diffRepo(ctx context.Context, desired *model.Repo) (RepoDiff, error) {
	actual, err := s.read.Repo(ctx, desired.Org, desired.Name)
	if err != nil {
		return nil, err
	}

	if actual == nil {
		create := &CreateRepoDiff{
			Org:           desired.Org,
			Name:          desired.Name,
			Settings:      desired.Settings(),
			Permissions:   s.permissionDiffs(desired, nil, nil),
			Installations: s.installationDiffs(desired, true),
		}
		for i := range desired.BranchProtections {
			create.Protections = append(create.Protections, ProtectionDiff{
				Kind:    ProtectionCreate,
				Pattern: desired.BranchProtections[i].Pattern,
				Rule:    constructProtection(&s.state.Rules, desired, &desired.BranchProtections[i]),
			})
		}
		return create, nil
	}

	update := &UpdateRepoDiff{
		Org:        desired.Org,
		Name:       desired.Name,
		RepoNodeID: actual.NodeID,
		RepoID:     actual.ID,
	}

	// Archival freezes the repository: while both sides agree it is
	// archived, no settings edit is emitted no matter what else differs.
	if !(actual.Archived && desired.Archived) && actual.Settings() != desired.Settings() {
		update.Settings = &FieldChange[github.RepoSettings]{Old: actual.Settings(), New: desired.Settings()}
	}

	actualTeams, err := s.read.RepoTeams(ctx, desired.Org, desired.Name)
	if err != nil {
		return nil, err
	}
	actualUsers, err := s.read.RepoCollaborators(ctx, desired.Org, desired.Name)
	if err != nil {
		return nil, err
	}
	update.Permissions = s.permissionDiffs(desired, actualTeams, actualUsers)

	actualProtections, err := s.read.BranchProtections(ctx, desired.Org, desired.Name)
	if err != nil {
		return nil, err
	}
	update.Protections = s.protectionDiffs(desired, actualProtections)

	update.Installations = s.installationDiffs(desired, false)
	return update, nil
}

// permissionDiffs compares the desired access set against the actual
// team and collaborator listings. Teams whose platform-granted access
// must be preserved, and known bot accounts, are never revoked.
func (s *Syncer) permissionDiffs(desired *model.Repo, actualTeams []github.RepoTeam, actualUsers []github.RepoUser) []PermissionDiff {
	desiredTeams, desiredUsers := desiredPermissions(&s.state.Rules, desired)

	teamPerms := map[string]github.RepoPermission{}
	for _, t := range actualTeams {
		teamPerms[t.Name] = t.Permission
	}
	userPerms := map[string]github.RepoPermission{}
	for _, u := range actualUsers {
		userPerms[u.Login] = u.Permission
	}

	var diffs []PermissionDiff
	for _, t := range desired.Teams {
		diffs = appendPermissionDiff(diffs, CollaboratorTeam, t.Name, t.Permission, teamPerms)
	}
	for _, name := range sortedStringKeys(desiredUsers) {
		diffs = appendPermissionDiff(diffs, CollaboratorUser, name, desiredUsers[name], userPerms)
	}

	for _, t := range actualTeams {
		if _, ok := desiredTeams[t.Name]; ok {
			continue
		}
		if s.state.Rules.TeamPreserved(desired.Org, t.Name) {
			continue
		}
		diffs = append(diffs, PermissionDiff{Collaborator: CollaboratorTeam, Name: t.Name, Kind: PermissionRevoke})
	}
	for _, u := range actualUsers {
		if _, ok := desiredUsers[u.Login]; ok {
			continue
		}
		if s.botLogins[u.Login] {
			continue
		}
		diffs = append(diffs, PermissionDiff{Collaborator: CollaboratorUser, Name: u.Login, Kind: PermissionRevoke})
	}
	return diffs
}

func appendPermissionDiff(diffs []PermissionDiff, kind CollaboratorKind, name string, want github.RepoPermission, actual map[string]github.RepoPermission) []PermissionDiff {
	have, ok := actual[name]
	switch {
	case !ok:
		return append(diffs, PermissionDiff{Collaborator: kind, Name: name, Kind: PermissionGrant, Permission: want})
	case have != want:
		return append(diffs, PermissionDiff{Collaborator: kind, Name: name, Kind: PermissionUpdate, Permission: want, OldPermission: have})
	}
	return diffs
}

// protectionDiffs compares desired rules (keyed by pattern) against the
// actual rules of the repository.
func (s *Syncer) protectionDiffs(desired *model.Repo, actual map[string]github.ProtectedBranch) []ProtectionDiff {
	var diffs []ProtectionDiff
	seen := map[string]bool{}
	for i := range desired.BranchProtections {
		bp := &desired.BranchProtections[i]
		seen[bp.Pattern] = true
		expected := constructProtection(&s.state.Rules, desired, bp)
		existing, ok := actual[bp.Pattern]
		switch {
		case !ok:
			diffs = append(diffs, ProtectionDiff{Kind: ProtectionCreate, Pattern: bp.Pattern, Rule: expected})
		case !github.EqualProtection(&existing.Rule, expected):
			old := existing.Rule
			diffs = append(diffs, ProtectionDiff{
				Kind:    ProtectionUpdate,
				Pattern: bp.Pattern,
				RuleID:  existing.ID,
				Old:     &old,
				Rule:    expected,
			})
		}
	}
	patterns := make([]string, 0, len(actual))
	for pattern := range actual {
		if !seen[pattern] {
			patterns = append(patterns, pattern)
		}
	}
	sort.Strings(patterns)
	for _, pattern := range patterns {
		diffs = append(diffs, ProtectionDiff{Kind: ProtectionDelete, Pattern: pattern, RuleID: actual[pattern].ID})
	}
	return diffs
}

// installationDiffs reconciles which app installations cover the repo.
// An app missing at the org level is a warning, never a create: org
// installations cannot be created through this API surface.
func (s *Syncer) installationDiffs(desired *model.Repo, creating bool) []InstallationDiff {
	apps := s.appInstallations[desired.Org]

	wanted := map[int64]string{}
	var diffs []InstallationDiff
	for _, bot := range desired.Bots {
		slug := s.state.Rules.Bots[bot].AppSlug
		if slug == "" {
			// A plain user account, handled by the permission diff.
			continue
		}
		installationID, ok := apps[slug]
		if !ok {
			slog.Warn("app not installed on the organization, skipping",
				"org", desired.Org, "app", slug, "repo", desired.Name)
			continue
		}
		wanted[installationID] = slug
		if creating || !s.installationRepos[desired.Org][installationID][desired.Name] {
			diffs = append(diffs, InstallationDiff{Kind: InstallationAdd, AppSlug: slug, InstallationID: installationID})
		}
	}
	if creating {
		return diffs
	}
	for _, slug := range sortedStringKeys(apps) {
		installationID := apps[slug]
		if _, ok := wanted[installationID]; ok {
			continue
		}
		if s.installationRepos[desired.Org][installationID][desired.Name] {
			diffs = append(diffs, InstallationDiff{Kind: InstallationRemove, AppSlug: slug, InstallationID: installationID})
		}
	}
	return diffs
}
