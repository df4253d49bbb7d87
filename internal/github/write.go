package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// Write is the mutation surface of the GitHub API used by the apply
// engine. Dry-run mode is fixed at construction: when enabled no network
// mutation happens, create-style calls return synthetic results shaped
// like a success (marked with a simulated remote ID), and all validation
// and ID resolution still runs so the pipeline behaves identically.
type Write interface {
	CreateTeam(ctx context.Context, org, name, description string, privacy TeamPrivacy) (*Team, error)
	EditTeam(ctx context.Context, org, name string, edit TeamEdit) error
	DeleteTeam(ctx context.Context, org, slug string) error
	SetTeamMembership(ctx context.Context, org, team, user string, role TeamRole) error
	RemoveTeamMembership(ctx context.Context, org, team, user string) error

	CreateRepo(ctx context.Context, org, name string, settings RepoSettings) (*Repo, error)
	EditRepo(ctx context.Context, org, name string, settings RepoSettings) error
	SetTeamPermission(ctx context.Context, org, repo, team string, permission RepoPermission) error
	SetUserPermission(ctx context.Context, org, repo, user string, permission RepoPermission) error
	RemoveTeamPermission(ctx context.Context, org, repo, team string) error
	RemoveUserPermission(ctx context.Context, org, repo, user string) error

	UpsertBranchProtection(ctx context.Context, org string, target ProtectionTarget, rule *BranchProtection) error
	DeleteBranchProtection(ctx context.Context, org, ruleID string) error

	AddInstallationRepo(ctx context.Context, org string, installationID int64, repo RemoteID) error
	RemoveInstallationRepo(ctx context.Context, org string, installationID int64, repo RemoteID) error
}

// TeamEdit carries the fields of a team to change; nil fields are left
// untouched.
type TeamEdit struct {
	Name        *string      `json:"name,omitempty"`
	Description *string      `json:"description,omitempty"`
	Privacy     *TeamPrivacy `json:"privacy,omitempty"`
}

// ProtectionTarget says where a branch protection upsert lands: a new
// rule on a repository, or an existing rule. Exactly one constructor
// applies; the distinction picks the GraphQL mutation and its ID field.
type ProtectionTarget struct {
	repoNodeID string
	ruleID     string
}

// CreateRuleOn targets a new rule on the repository with the given
// GraphQL node ID.
func CreateRuleOn(repoNodeID string) ProtectionTarget {
	return ProtectionTarget{repoNodeID: repoNodeID}
}

// UpdateRule targets the existing rule with the given GraphQL ID.
func UpdateRule(ruleID string) ProtectionTarget {
	return ProtectionTarget{ruleID: ruleID}
}

// APIWrite implements Write against the live GitHub API. Branch
// protection push allowances reference GraphQL actor IDs, which are
// resolved from logins before mutating.
type APIWrite struct {
	client *HTTPClient
	dryRun bool
}

// NewAPIWrite creates the write port. With dryRun set no mutation ever
// reaches the network.
func NewAPIWrite(client *HTTPClient, dryRun bool) *APIWrite {
	return &APIWrite{client: client, dryRun: dryRun}
}

func (w *APIWrite) CreateTeam(ctx context.Context, org, name, description string, privacy TeamPrivacy) (*Team, error) {
	slog.Debug("creating team", "org", org, "team", name)
	if w.dryRun {
		// The zero RemoteID marks the team as existing only in this
		// simulated run.
		return &Team{
			Name:        name,
			Slug:        name,
			Description: description,
			Privacy:     privacy,
		}, nil
	}
	body := struct {
		Name        string      `json:"name"`
		Description string      `json:"description"`
		Privacy     TeamPrivacy `json:"privacy"`
	}{name, description, privacy}
	var team Team
	if err := w.client.SendDecode(ctx, http.MethodPost, OrgsURL(org, "teams"), body, &team); err != nil {
		return nil, fmt.Errorf("creating team %s/%s: %w", org, name, err)
	}
	return &team, nil
}

func (w *APIWrite) EditTeam(ctx context.Context, org, name string, edit TeamEdit) error {
	slog.Debug("editing team", "org", org, "team", name)
	if w.dryRun {
		return nil
	}
	if err := w.client.Send(ctx, http.MethodPatch, OrgsURL(org, "teams/"+name), edit); err != nil {
		return fmt.Errorf("editing team %s/%s: %w", org, name, err)
	}
	return nil
}

func (w *APIWrite) DeleteTeam(ctx context.Context, org, slug string) error {
	slog.Debug("deleting team", "org", org, "team", slug)
	if w.dryRun {
		return nil
	}
	if err := w.client.SendAllowNotFound(ctx, http.MethodDelete, OrgsURL(org, "teams/"+slug)); err != nil {
		return fmt.Errorf("deleting team %s/%s: %w", org, slug, err)
	}
	return nil
}

func (w *APIWrite) SetTeamMembership(ctx context.Context, org, team, user string, role TeamRole) error {
	slog.Debug("setting team membership", "org", org, "team", team, "user", user, "role", role)
	if w.dryRun {
		return nil
	}
	body := struct {
		Role TeamRole `json:"role"`
	}{role}
	url := OrgsURL(org, fmt.Sprintf("teams/%s/memberships/%s", team, user))
	if err := w.client.Send(ctx, http.MethodPut, url, body); err != nil {
		return fmt.Errorf("setting membership of %s in %s/%s: %w", user, org, team, err)
	}
	return nil
}

func (w *APIWrite) RemoveTeamMembership(ctx context.Context, org, team, user string) error {
	slog.Debug("removing team membership", "org", org, "team", team, "user", user)
	if w.dryRun {
		return nil
	}
	url := OrgsURL(org, fmt.Sprintf("teams/%s/memberships/%s", team, user))
	if err := w.client.SendAllowNotFound(ctx, http.MethodDelete, url); err != nil {
		return fmt.Errorf("removing membership of %s from %s/%s: %w", user, org, team, err)
	}
	return nil
}

func (w *APIWrite) CreateRepo(ctx context.Context, org, name string, settings RepoSettings) (*Repo, error) {
	slog.Debug("creating repo", "org", org, "repo", name)
	if w.dryRun {
		return &Repo{
			Org:         org,
			Name:        name,
			Description: settings.Description,
			Homepage:    settings.Homepage,
			Archived:    settings.Archived,
			AutoMerge:   settings.AutoMerge,
		}, nil
	}
	body := struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Homepage    string `json:"homepage"`
		AutoInit    bool   `json:"auto_init"`
	}{name, settings.Description, settings.Homepage, true}
	var resp struct {
		NodeID string   `json:"node_id"`
		ID     RemoteID `json:"id"`
	}
	if err := w.client.SendDecode(ctx, http.MethodPost, OrgsURL(org, "repos"), body, &resp); err != nil {
		return nil, fmt.Errorf("creating repo %s/%s: %w", org, name, err)
	}
	return &Repo{
		NodeID:      resp.NodeID,
		ID:          resp.ID,
		Org:         org,
		Name:        name,
		Description: settings.Description,
		Homepage:    settings.Homepage,
	}, nil
}

func (w *APIWrite) EditRepo(ctx context.Context, org, name string, settings RepoSettings) error {
	slog.Debug("editing repo", "org", org, "repo", name)
	if w.dryRun {
		return nil
	}
	body := struct {
		Description    string `json:"description"`
		Homepage       string `json:"homepage"`
		Archived       bool   `json:"archived"`
		AllowAutoMerge bool   `json:"allow_auto_merge"`
	}{settings.Description, settings.Homepage, settings.Archived, settings.AutoMerge}
	if err := w.client.Send(ctx, http.MethodPatch, ReposURL(org, name, ""), body); err != nil {
		return fmt.Errorf("editing repo %s/%s: %w", org, name, err)
	}
	return nil
}

func (w *APIWrite) SetTeamPermission(ctx context.Context, org, repo, team string, permission RepoPermission) error {
	slog.Debug("setting team permission", "org", org, "repo", repo, "team", team, "permission", permission)
	if w.dryRun {
		return nil
	}
	body := struct {
		Permission RepoPermission `json:"permission"`
	}{permission}
	url := OrgsURL(org, fmt.Sprintf("teams/%s/repos/%s/%s", team, org, repo))
	if err := w.client.Send(ctx, http.MethodPut, url, body); err != nil {
		return fmt.Errorf("granting %s to team %s on %s/%s: %w", permission, team, org, repo, err)
	}
	return nil
}

func (w *APIWrite) SetUserPermission(ctx context.Context, org, repo, user string, permission RepoPermission) error {
	slog.Debug("setting user permission", "org", org, "repo", repo, "user", user, "permission", permission)
	if w.dryRun {
		return nil
	}
	body := struct {
		Permission RepoPermission `json:"permission"`
	}{permission}
	if err := w.client.Send(ctx, http.MethodPut, ReposURL(org, repo, "collaborators/"+user), body); err != nil {
		return fmt.Errorf("granting %s to %s on %s/%s: %w", permission, user, org, repo, err)
	}
	return nil
}

func (w *APIWrite) RemoveTeamPermission(ctx context.Context, org, repo, team string) error {
	slog.Debug("removing team permission", "org", org, "repo", repo, "team", team)
	if w.dryRun {
		return nil
	}
	url := OrgsURL(org, fmt.Sprintf("teams/%s/repos/%s/%s", team, org, repo))
	if err := w.client.SendAllowNotFound(ctx, http.MethodDelete, url); err != nil {
		return fmt.Errorf("removing team %s from %s/%s: %w", team, org, repo, err)
	}
	return nil
}

func (w *APIWrite) RemoveUserPermission(ctx context.Context, org, repo, user string) error {
	slog.Debug("removing collaborator", "org", org, "repo", repo, "user", user)
	if w.dryRun {
		return nil
	}
	if err := w.client.SendAllowNotFound(ctx, http.MethodDelete, ReposURL(org, repo, "collaborators/"+user)); err != nil {
		return fmt.Errorf("removing collaborator %s from %s/%s: %w", user, org, repo, err)
	}
	return nil
}

const userIDQuery = `
	query($login: String!) {
		user(login: $login) {
			id
		}
	}`

const teamIDQuery = `
	query($org: String!, $team: String!) {
		organization(login: $org) {
			team(slug: $team) {
				id
			}
		}
	}`

// pushActorIDs resolves push allowance actors to GraphQL IDs. This runs
// in dry-run mode too, except that actors which do not exist yet (a team
// created earlier in the same simulated run) are skipped instead of
// failing the plan.
func (w *APIWrite) pushActorIDs(ctx context.Context, org string, rule *BranchProtection) ([]string, error) {
	var ids []string
	for _, actor := range rule.PushAllowances {
		if actor.User != "" {
			var data struct {
				User *struct {
					ID string `json:"id"`
				} `json:"user"`
			}
			err := w.client.GraphQL(ctx, org, userIDQuery, map[string]any{"login": actor.User}, &data)
			if err != nil {
				return nil, fmt.Errorf("resolving push allowance user %s: %w", actor.User, err)
			}
			if data.User == nil {
				return nil, fmt.Errorf("push allowance user %s not found", actor.User)
			}
			ids = append(ids, data.User.ID)
			continue
		}
		var data struct {
			Organization *struct {
				Team *struct {
					ID string `json:"id"`
				} `json:"team"`
			} `json:"organization"`
		}
		vars := map[string]any{"org": actor.TeamOrg, "team": actor.Team}
		if err := w.client.GraphQL(ctx, org, teamIDQuery, vars, &data); err != nil {
			return nil, fmt.Errorf("resolving push allowance team %s/%s: %w", actor.TeamOrg, actor.Team, err)
		}
		if data.Organization == nil || data.Organization.Team == nil {
			if w.dryRun {
				slog.Warn("push allowance team does not exist yet, skipping in dry run",
					"org", actor.TeamOrg, "team", actor.Team)
				continue
			}
			return nil, fmt.Errorf("push allowance team %s/%s not found", actor.TeamOrg, actor.Team)
		}
		ids = append(ids, data.Organization.Team.ID)
	}
	return ids, nil
}

func (w *APIWrite) UpsertBranchProtection(ctx context.Context, org string, target ProtectionTarget, rule *BranchProtection) error {
	slog.Debug("upserting branch protection", "org", org, "pattern", rule.Pattern)

	mutation, idField, id := "createBranchProtectionRule", "repositoryId", target.repoNodeID
	if target.ruleID != "" {
		mutation, idField, id = "updateBranchProtectionRule", "branchProtectionRuleId", target.ruleID
	}
	if id == "" && !w.dryRun {
		return fmt.Errorf("branch protection %s references a repository that exists only in a dry run", rule.Pattern)
	}

	// ID resolution runs on the live and dry-run paths alike so both
	// produce the same diagnostics.
	pushActorIDs, err := w.pushActorIDs(ctx, org, rule)
	if err != nil {
		return err
	}
	if w.dryRun {
		return nil
	}

	query := fmt.Sprintf(`
		mutation($id: ID!, $pattern: String!, $contexts: [String!], $dismissStale: Boolean, $reviewCount: Int, $pushActorIds: [ID!], $restrictsPushes: Boolean) {
			%s(input: {
				%s: $id,
				pattern: $pattern,
				requiresStatusChecks: true,
				requiredStatusCheckContexts: $contexts,
				isAdminEnforced: true,
				requiredApprovingReviewCount: $reviewCount,
				dismissesStaleReviews: $dismissStale,
				requiresApprovingReviews: true,
				restrictsPushes: $restrictsPushes,
				pushActorIds: $pushActorIds
			}) {
				branchProtectionRule {
					id
				}
			}
		}`, mutation, idField)

	vars := map[string]any{
		"id":           id,
		"pattern":      rule.Pattern,
		"contexts":     rule.RequiredStatusCheckContexts,
		"dismissStale": rule.DismissesStaleReviews,
		"reviewCount":  rule.RequiredApprovingReviewCount,
		// Pushes are restricted exactly when specific actors are allowed
		// to bypass the protection.
		"restrictsPushes": len(pushActorIDs) > 0,
		"pushActorIds":    pushActorIDs,
	}
	var discard map[string]any
	if err := w.client.GraphQL(ctx, org, query, vars, &discard); err != nil {
		return fmt.Errorf("upserting branch protection %s: %w", rule.Pattern, err)
	}
	return nil
}

const deleteProtectionQuery = `
	mutation($id: ID!) {
		deleteBranchProtectionRule(input: { branchProtectionRuleId: $id }) {
			clientMutationId
		}
	}`

func (w *APIWrite) DeleteBranchProtection(ctx context.Context, org, ruleID string) error {
	slog.Debug("deleting branch protection", "org", org, "rule", ruleID)
	if w.dryRun {
		return nil
	}
	var discard map[string]any
	if err := w.client.GraphQL(ctx, org, deleteProtectionQuery, map[string]any{"id": ruleID}, &discard); err != nil {
		return fmt.Errorf("deleting branch protection rule %s: %w", ruleID, err)
	}
	return nil
}

func (w *APIWrite) installationRepoURL(org string, installationID int64, repoID int64) URL {
	return NewURL(fmt.Sprintf("user/installations/%d/repositories/%d", installationID, repoID), org)
}

func (w *APIWrite) AddInstallationRepo(ctx context.Context, org string, installationID int64, repo RemoteID) error {
	slog.Debug("adding repo to app installation", "org", org, "installation", installationID, "repo", repo)
	if w.dryRun {
		return nil
	}
	repoID, real := repo.Real()
	if !real {
		return fmt.Errorf("installation %d references a repository that exists only in a dry run", installationID)
	}
	if err := w.client.Send(ctx, http.MethodPut, w.installationRepoURL(org, installationID, repoID), nil); err != nil {
		return fmt.Errorf("adding repo %d to installation %d: %w", repoID, installationID, err)
	}
	return nil
}

func (w *APIWrite) RemoveInstallationRepo(ctx context.Context, org string, installationID int64, repo RemoteID) error {
	slog.Debug("removing repo from app installation", "org", org, "installation", installationID, "repo", repo)
	if w.dryRun {
		return nil
	}
	repoID, real := repo.Real()
	if !real {
		return fmt.Errorf("installation %d references a repository that exists only in a dry run", installationID)
	}
	if err := w.client.SendAllowNotFound(ctx, http.MethodDelete, w.installationRepoURL(org, installationID, repoID)); err != nil {
		return fmt.Errorf("removing repo %d from installation %d: %w", repoID, installationID, err)
	}
	return nil
}
