package model

import (
	"fmt"

	"github.com/orgsyncd/orgsyncd/internal/github"
)

// DefaultTeamDescription is applied to every managed team so members
// know edits made through the UI will be reverted.
const DefaultTeamDescription = "Managed by the orgsyncd configuration repository."

// Rules are the org-wide sync policies that are configuration, not code:
// which orgs may have stale teams deleted, which team names belong to
// bots, and which logins are bot accounts.
type Rules struct {
	// ManagedOrgs are the organizations where teams absent from the
	// desired state get deleted. Everywhere else stale teams are left
	// alone.
	ManagedOrgs []string `json:"managed_orgs"`
	// BotTeams are team names managed by external bots and never
	// auto-deleted, regardless of org.
	BotTeams []string `json:"bot_teams"`
	// PreservedTeams maps an org to team names whose repo permissions
	// are granted by the platform itself; revoking them would fail, so
	// unexpected grants held by these teams are never removed.
	PreservedTeams map[string][]string `json:"preserved_teams"`
	// Bots describes the known bot accounts, keyed by the name repos
	// use to reference them.
	Bots map[string]Bot `json:"bots"`
	// TeamDescription overrides DefaultTeamDescription when set.
	TeamDescription string `json:"team_description"`
}

// Bot is a known automation account.
type Bot struct {
	// Login is the bot's user account, granted write access on repos
	// that list the bot.
	Login string `json:"login"`
	// AppSlug is the GitHub App backing the bot, when it has one. Bots
	// without an app are plain user accounts and have no installation
	// to manage.
	AppSlug string `json:"app_slug"`
	// MergeBot marks bots that own the merge queue of their repos: they
	// need push access through branch protections and make required
	// approvals meaningless.
	MergeBot bool `json:"merge_bot"`
}

// Description returns the managed-team description to enforce.
func (r *Rules) Description() string {
	if r.TeamDescription != "" {
		return r.TeamDescription
	}
	return DefaultTeamDescription
}

// OrgManaged reports whether stale teams may be deleted in the org.
func (r *Rules) OrgManaged(org string) bool {
	for _, o := range r.ManagedOrgs {
		if o == org {
			return true
		}
	}
	return false
}

// BotTeam reports whether the team name belongs to a bot.
func (r *Rules) BotTeam(name string) bool {
	for _, t := range r.BotTeams {
		if t == name {
			return true
		}
	}
	return false
}

// TeamPreserved reports whether unexpected repo grants held by the team
// must be left in place.
func (r *Rules) TeamPreserved(org, team string) bool {
	for _, t := range r.PreservedTeams[org] {
		if t == team {
			return true
		}
	}
	return false
}

// Team is a team that should exist, with its members as user IDs.
// Logins are resolved per run: IDs are stable across renames.
type Team struct {
	Org     string  `json:"org"`
	Name    string  `json:"name"`
	Members []int64 `json:"members"`
}

// TeamPermission grants a team access to a repository.
type TeamPermission struct {
	Name       string                `json:"name"`
	Permission github.RepoPermission `json:"permission"`
}

// MemberPermission grants an individual user access to a repository.
type MemberPermission struct {
	Login      string                `json:"login"`
	Permission github.RepoPermission `json:"permission"`
}

// BranchProtection is a desired protection rule on a repository.
type BranchProtection struct {
	Pattern string `json:"pattern"`
	// PRRequired selects whether matching branches only move through
	// pull requests. CIChecks and RequiredApprovals only apply when it
	// is set.
	PRRequired         bool     `json:"pr_required"`
	CIChecks           []string `json:"ci_checks"`
	RequiredApprovals  int      `json:"required_approvals"`
	DismissStaleReview bool     `json:"dismiss_stale_review"`
	// AllowedMergeTeams may push to matching branches directly.
	AllowedMergeTeams []string `json:"allowed_merge_teams"`
	// MergeBots names bots (by rules key) that drive the merge queue of
	// matching branches. A merge bot pushes the merged result itself,
	// so it gets a push allowance and approvals are forced to zero.
	MergeBots []string `json:"merge_bots"`
}

// Repo is a repository that should exist with the given access set.
type Repo struct {
	Org         string `json:"org"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Homepage    string `json:"homepage"`
	Archived    bool   `json:"archived"`
	AutoMerge   bool   `json:"auto_merge_enabled"`
	// Bots reference rules bot keys; each bot's login is granted write
	// access, and bots backed by an app get the repo enabled on the
	// org's installation of that app.
	Bots              []string           `json:"bots"`
	Teams             []TeamPermission   `json:"teams"`
	Members           []MemberPermission `json:"members"`
	BranchProtections []BranchProtection `json:"branch_protections"`
}

// Settings extracts the repository properties the sync enforces.
func (r *Repo) Settings() github.RepoSettings {
	return github.RepoSettings{
		Description: r.Description,
		Homepage:    r.Homepage,
		Archived:    r.Archived,
		AutoMerge:   r.AutoMerge,
	}
}

// DesiredState is the validated configuration a sync run converges the
// platform onto. It is read-only for the lifetime of a run.
type DesiredState struct {
	Rules Rules  `json:"rules"`
	Teams []Team `json:"teams"`
	Repos []Repo `json:"repos"`
}

// Orgs returns every organization referenced by a team or repository.
func (s *DesiredState) Orgs() []string {
	seen := map[string]bool{}
	var orgs []string
	add := func(org string) {
		if !seen[org] {
			seen[org] = true
			orgs = append(orgs, org)
		}
	}
	for _, t := range s.Teams {
		add(t.Org)
	}
	for _, r := range s.Repos {
		add(r.Org)
	}
	return orgs
}

// MemberIDs returns the union of all team member user IDs.
func (s *DesiredState) MemberIDs() []int64 {
	seen := map[int64]bool{}
	var ids []int64
	for _, t := range s.Teams {
		for _, id := range t.Members {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Validate checks the internal consistency of the desired state.
func (s *DesiredState) Validate() error {
	teams := map[string]bool{}
	for _, t := range s.Teams {
		if t.Org == "" || t.Name == "" {
			return fmt.Errorf("team %q/%q: org and name are required", t.Org, t.Name)
		}
		key := t.Org + "/" + t.Name
		if teams[key] {
			return fmt.Errorf("team %s declared twice", key)
		}
		teams[key] = true
	}

	repos := map[string]bool{}
	for _, r := range s.Repos {
		if r.Org == "" || r.Name == "" {
			return fmt.Errorf("repo %q/%q: org and name are required", r.Org, r.Name)
		}
		key := r.Org + "/" + r.Name
		if repos[key] {
			return fmt.Errorf("repo %s declared twice", key)
		}
		repos[key] = true

		for _, bot := range r.Bots {
			if _, ok := s.Rules.Bots[bot]; !ok {
				return fmt.Errorf("repo %s references unknown bot %q", key, bot)
			}
		}
		patterns := map[string]bool{}
		for _, bp := range r.BranchProtections {
			if bp.Pattern == "" {
				return fmt.Errorf("repo %s: branch protection without a pattern", key)
			}
			if patterns[bp.Pattern] {
				return fmt.Errorf("repo %s: duplicate branch protection pattern %q", key, bp.Pattern)
			}
			patterns[bp.Pattern] = true
			for _, bot := range bp.MergeBots {
				spec, ok := s.Rules.Bots[bot]
				if !ok {
					return fmt.Errorf("repo %s: branch protection %q references unknown bot %q", key, bp.Pattern, bot)
				}
				if !spec.MergeBot {
					return fmt.Errorf("repo %s: branch protection %q uses %q, which is not a merge bot", key, bp.Pattern, bot)
				}
			}
		}
	}
	return nil
}
