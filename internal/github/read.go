package github

import (
	"context"
	"fmt"
	"net/http"
)

// Read is the query surface of the GitHub API used by the sync engine.
// Every listing returns a complete, deduplicated collection: pagination
// is followed internally until exhaustion. Lookups that can legitimately
// miss (Team, Repo) return nil instead of an error; every other failure
// propagates.
type Read interface {
	// Usernames resolves user IDs to logins. IDs that no longer resolve
	// (deleted accounts) are absent from the result rather than failing
	// the whole batch.
	Usernames(ctx context.Context, ids []int64) (map[int64]string, error)

	// OrgOwners returns the user IDs holding the owner role in the org.
	OrgOwners(ctx context.Context, org string) (map[int64]bool, error)

	// OrgAppInstallations lists the GitHub Apps installed on the org.
	OrgAppInstallations(ctx context.Context, org string) ([]OrgAppInstallation, error)

	// AppInstallationRepos lists the names of the repositories enabled
	// for an app installation.
	AppInstallationRepos(ctx context.Context, installationID int64, org string) ([]string, error)

	// OrgTeams lists every team of the org as (name, slug) pairs.
	OrgTeams(ctx context.Context, org string) ([]TeamSummary, error)

	// Team fetches a team by name, or nil when it does not exist.
	Team(ctx context.Context, org, name string) (*Team, error)

	// TeamMemberships returns the members of a team keyed by user ID.
	// A team with no remote ID (created by a dry run) has no members.
	TeamMemberships(ctx context.Context, org string, team *Team) (map[int64]TeamMember, error)

	// TeamInvitations returns the logins of users with a pending
	// invitation to the team.
	TeamInvitations(ctx context.Context, org, teamSlug string) (map[string]bool, error)

	// Repo fetches a repository, or nil when it does not exist.
	Repo(ctx context.Context, org, name string) (*Repo, error)

	// RepoTeams lists the teams granted access to a repository.
	RepoTeams(ctx context.Context, org, repo string) ([]RepoTeam, error)

	// RepoCollaborators lists direct collaborators only, not users whose
	// access comes through a team.
	RepoCollaborators(ctx context.Context, org, repo string) ([]RepoUser, error)

	// BranchProtections returns the branch protection rules of a
	// repository keyed by pattern, with check contexts sorted.
	BranchProtections(ctx context.Context, org, repo string) (map[string]ProtectedBranch, error)
}

// APIRead implements Read against the live GitHub API.
type APIRead struct {
	client *HTTPClient
	// Batched GraphQL node lookups are org-agnostic but still need a
	// credential; any org the resolver knows works.
	anyOrg string
}

// NewAPIRead creates the live read port. anyOrg names an organization
// the configured credentials cover, used for org-agnostic queries.
func NewAPIRead(client *HTTPClient, anyOrg string) *APIRead {
	return &APIRead{client: client, anyOrg: anyOrg}
}

const usernamesQuery = `
	query($ids: [ID!]!) {
		nodes(ids: $ids) {
			... on User {
				databaseId
				login
			}
		}
	}`

func (r *APIRead) Usernames(ctx context.Context, ids []int64) (map[int64]string, error) {
	type userNode struct {
		DatabaseID int64  `json:"databaseId"`
		Login      string `json:"login"`
	}
	result := make(map[int64]string, len(ids))
	for start := 0; start < len(ids); start += 100 {
		chunk := ids[start:min(start+100, len(ids))]
		nodeIDs := make([]string, len(chunk))
		for i, id := range chunk {
			nodeIDs[i] = userNodeID(id)
		}
		var data struct {
			Nodes []*userNode `json:"nodes"`
		}
		err := r.client.GraphQL(ctx, r.anyOrg, usernamesQuery, map[string]any{"ids": nodeIDs}, &data)
		if err != nil {
			return nil, fmt.Errorf("resolving usernames: %w", err)
		}
		for _, node := range data.Nodes {
			if node != nil {
				result[node.DatabaseID] = node.Login
			}
		}
	}
	return result, nil
}

func (r *APIRead) OrgOwners(ctx context.Context, org string) (map[int64]bool, error) {
	type user struct {
		ID int64 `json:"id"`
	}
	owners := map[int64]bool{}
	err := RestPaginated(ctx, r.client, http.MethodGet, OrgsURL(org, "members?role=admin"), func(page []user) error {
		for _, u := range page {
			owners[u.ID] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing owners of %s: %w", org, err)
	}
	return owners, nil
}

func (r *APIRead) OrgAppInstallations(ctx context.Context, org string) ([]OrgAppInstallation, error) {
	type page struct {
		Installations []OrgAppInstallation `json:"installations"`
	}
	var installations []OrgAppInstallation
	err := RestPaginated(ctx, r.client, http.MethodGet, OrgsURL(org, "installations"), func(p page) error {
		installations = append(installations, p.Installations...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing app installations of %s: %w", org, err)
	}
	return installations, nil
}

func (r *APIRead) AppInstallationRepos(ctx context.Context, installationID int64, org string) ([]string, error) {
	type repo struct {
		Name string `json:"name"`
	}
	type page struct {
		Repositories []repo `json:"repositories"`
	}
	// The endpoint differs between credential kinds.
	endpoint := "installation/repositories"
	if r.client.UsesPAT() {
		endpoint = fmt.Sprintf("user/installations/%d/repositories", installationID)
	}
	var names []string
	err := RestPaginated(ctx, r.client, http.MethodGet, NewURL(endpoint, org), func(p page) error {
		for _, repo := range p.Repositories {
			names = append(names, repo.Name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing repositories of installation %d: %w", installationID, err)
	}
	return names, nil
}

func (r *APIRead) OrgTeams(ctx context.Context, org string) ([]TeamSummary, error) {
	var teams []TeamSummary
	err := RestPaginated(ctx, r.client, http.MethodGet, OrgsURL(org, "teams"), func(page []TeamSummary) error {
		teams = append(teams, page...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing teams of %s: %w", org, err)
	}
	return teams, nil
}

func (r *APIRead) Team(ctx context.Context, org, name string) (*Team, error) {
	var team Team
	found, err := r.client.SendOption(ctx, http.MethodGet, OrgsURL(org, "teams/"+name), &team)
	if err != nil {
		return nil, fmt.Errorf("fetching team %s/%s: %w", org, name, err)
	}
	if !found {
		return nil, nil
	}
	return &team, nil
}

const teamMembershipsQuery = `
	query($team: ID!, $cursor: String) {
		node(id: $team) {
			... on Team {
				members(after: $cursor) {
					pageInfo {
						endCursor
						hasNextPage
					}
					edges {
						role
						node {
							databaseId
							login
						}
					}
				}
			}
		}
	}`

func (r *APIRead) TeamMemberships(ctx context.Context, org string, team *Team) (map[int64]TeamMember, error) {
	memberships := map[int64]TeamMember{}
	id, real := team.ID.Real()
	if !real {
		// The team only exists in this simulated run.
		return memberships, nil
	}

	type edge struct {
		Role TeamRole `json:"role"`
		Node struct {
			DatabaseID int64  `json:"databaseId"`
			Login      string `json:"login"`
		} `json:"node"`
	}
	type data struct {
		Node *struct {
			Members struct {
				PageInfo PageInfo `json:"pageInfo"`
				Edges    []edge   `json:"edges"`
			} `json:"members"`
		} `json:"node"`
	}

	page := StartPage()
	for page.HasNextPage {
		var resp data
		vars := map[string]any{"team": teamNodeID(id), "cursor": page.EndCursor}
		if err := r.client.GraphQL(ctx, org, teamMembershipsQuery, vars, &resp); err != nil {
			return nil, fmt.Errorf("listing members of team %s/%s: %w", org, team.Name, err)
		}
		if resp.Node == nil {
			break
		}
		page = resp.Node.Members.PageInfo
		for _, e := range resp.Node.Members.Edges {
			memberships[e.Node.DatabaseID] = TeamMember{Login: e.Node.Login, Role: e.Role}
		}
	}
	return memberships, nil
}

func (r *APIRead) TeamInvitations(ctx context.Context, org, teamSlug string) (map[string]bool, error) {
	type login struct {
		Login string `json:"login"`
	}
	invited := map[string]bool{}
	err := RestPaginated(ctx, r.client, http.MethodGet, OrgsURL(org, "teams/"+teamSlug+"/invitations"), func(page []login) error {
		for _, l := range page {
			invited[l.Login] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing invitations of team %s/%s: %w", org, teamSlug, err)
	}
	return invited, nil
}

const repoQuery = `
	query($owner: String!, $name: String!) {
		repository(owner: $owner, name: $name) {
			id
			databaseId
			autoMergeAllowed
			description
			homepageUrl
			isArchived
		}
	}`

func (r *APIRead) Repo(ctx context.Context, org, name string) (*Repo, error) {
	type repoResponse struct {
		ID               string  `json:"id"`
		DatabaseID       int64   `json:"databaseId"`
		AutoMergeAllowed *bool   `json:"autoMergeAllowed"`
		Description      *string `json:"description"`
		HomepageURL      *string `json:"homepageUrl"`
		IsArchived       bool    `json:"isArchived"`
	}
	var data struct {
		Repository *repoResponse `json:"repository"`
	}
	vars := map[string]any{"owner": org, "name": name}
	if err := r.client.GraphQL(ctx, org, repoQuery, vars, &data); err != nil {
		return nil, fmt.Errorf("fetching repo %s/%s: %w", org, name, err)
	}
	if data.Repository == nil {
		return nil, nil
	}
	resp := data.Repository
	return &Repo{
		NodeID: resp.ID,
		ID:     RealID(resp.DatabaseID),
		Org:    org,
		Name:   name,
		// A null description and an empty one mean the same thing.
		Description: deref(resp.Description),
		Homepage:    deref(resp.HomepageURL),
		Archived:    resp.IsArchived,
		AutoMerge:   resp.AutoMergeAllowed != nil && *resp.AutoMergeAllowed,
	}, nil
}

func (r *APIRead) RepoTeams(ctx context.Context, org, repo string) ([]RepoTeam, error) {
	var teams []RepoTeam
	err := RestPaginated(ctx, r.client, http.MethodGet, ReposURL(org, repo, "teams"), func(page []RepoTeam) error {
		teams = append(teams, page...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing teams of repo %s/%s: %w", org, repo, err)
	}
	return teams, nil
}

func (r *APIRead) RepoCollaborators(ctx context.Context, org, repo string) ([]RepoUser, error) {
	var users []RepoUser
	err := RestPaginated(ctx, r.client, http.MethodGet, ReposURL(org, repo, "collaborators?affiliation=direct"), func(page []RepoUser) error {
		users = append(users, page...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing collaborators of repo %s/%s: %w", org, repo, err)
	}
	return users, nil
}

const branchProtectionsQuery = `
	query($org: String!, $repo: String!) {
		repository(owner: $org, name: $repo) {
			branchProtectionRules(first: 100) {
				nodes {
					id
					pattern
					isAdminEnforced
					dismissesStaleReviews
					requiredStatusCheckContexts
					requiredApprovingReviewCount
					requiresApprovingReviews
					pushAllowances(first: 100) {
						nodes {
							actor {
								... on Actor {
									login
								}
								... on Team {
									organization {
										login
									}
									name
								}
							}
						}
					}
				}
			}
		}
	}`

func (r *APIRead) BranchProtections(ctx context.Context, org, repo string) (map[string]ProtectedBranch, error) {
	type actor struct {
		Login        string `json:"login"`
		Organization *struct {
			Login string `json:"login"`
		} `json:"organization"`
		Name string `json:"name"`
	}
	type allowanceNode struct {
		Actor actor `json:"actor"`
	}
	type ruleNode struct {
		ID                           string   `json:"id"`
		Pattern                      string   `json:"pattern"`
		IsAdminEnforced              bool     `json:"isAdminEnforced"`
		DismissesStaleReviews        bool     `json:"dismissesStaleReviews"`
		RequiredStatusCheckContexts  []string `json:"requiredStatusCheckContexts"`
		RequiredApprovingReviewCount *int     `json:"requiredApprovingReviewCount"`
		RequiresApprovingReviews     bool     `json:"requiresApprovingReviews"`
		PushAllowances               struct {
			Nodes []allowanceNode `json:"nodes"`
		} `json:"pushAllowances"`
	}
	var data struct {
		Repository struct {
			BranchProtectionRules struct {
				Nodes []*ruleNode `json:"nodes"`
			} `json:"branchProtectionRules"`
		} `json:"repository"`
	}
	vars := map[string]any{"org": org, "repo": repo}
	if err := r.client.GraphQL(ctx, org, branchProtectionsQuery, vars, &data); err != nil {
		return nil, fmt.Errorf("listing branch protections of %s/%s: %w", org, repo, err)
	}

	result := map[string]ProtectedBranch{}
	for _, node := range data.Repository.BranchProtectionRules.Nodes {
		if node == nil {
			continue
		}
		rule := BranchProtection{
			Pattern:                     node.Pattern,
			IsAdminEnforced:             node.IsAdminEnforced,
			DismissesStaleReviews:       node.DismissesStaleReviews,
			RequiredStatusCheckContexts: node.RequiredStatusCheckContexts,
			RequiresApprovingReviews:    node.RequiresApprovingReviews,
		}
		if node.RequiredApprovingReviewCount != nil {
			rule.RequiredApprovingReviewCount = *node.RequiredApprovingReviewCount
		}
		for _, allowance := range node.PushAllowances.Nodes {
			if allowance.Actor.Organization != nil {
				rule.PushAllowances = append(rule.PushAllowances,
					TeamAllowance(allowance.Actor.Organization.Login, allowance.Actor.Name))
			} else {
				rule.PushAllowances = append(rule.PushAllowances, UserAllowance(allowance.Actor.Login))
			}
		}
		// Normalize check order so comparisons do not produce diffs from
		// ordering alone.
		NormalizeProtection(&rule)
		result[node.Pattern] = ProtectedBranch{ID: node.ID, Rule: rule}
	}
	return result, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
