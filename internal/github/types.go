package github

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
)

// RemoteID identifies an entity on GitHub. The zero value marks an entity
// that was "created" by a dry run and does not actually exist on GitHub,
// so callers holding one must skip real mutations referencing it.
type RemoteID struct {
	id   int64
	real bool
}

// RealID wraps an ID returned by the GitHub API.
func RealID(id int64) RemoteID {
	return RemoteID{id: id, real: true}
}

// Real reports the underlying ID and whether the entity exists on GitHub.
func (r RemoteID) Real() (int64, bool) {
	return r.id, r.real
}

func (r RemoteID) String() string {
	if !r.real {
		return "simulated"
	}
	return fmt.Sprintf("%d", r.id)
}

// UnmarshalJSON decodes a numeric GitHub ID. The API never returns a null
// ID, so anything decoded from a response is real.
func (r *RemoteID) UnmarshalJSON(data []byte) error {
	var id int64
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	*r = RealID(id)
	return nil
}

// TeamPrivacy is the visibility class of a GitHub team. Managed teams are
// never public: they are either visible to all org members or secret.
type TeamPrivacy string

const (
	PrivacyClosed TeamPrivacy = "closed"
	PrivacySecret TeamPrivacy = "secret"
)

// TeamRole is the role of a user inside a team.
type TeamRole string

const (
	RoleMember     TeamRole = "member"
	RoleMaintainer TeamRole = "maintainer"
)

// UnmarshalJSON accepts both the REST ("member") and GraphQL ("MEMBER")
// spellings of a team role.
func (t *TeamRole) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "member", "MEMBER":
		*t = RoleMember
	case "maintainer", "MAINTAINER":
		*t = RoleMaintainer
	default:
		return fmt.Errorf("unknown team role %q", s)
	}
	return nil
}

// RepoPermission is an access level on a repository, ordered from weakest
// to strongest.
type RepoPermission int

const (
	PermissionRead RepoPermission = iota
	PermissionTriage
	PermissionWrite
	PermissionMaintain
	PermissionAdmin
)

// ParsePermission converts an API or configuration spelling of a
// permission. The API still uses the legacy "pull" and "push" names in
// some endpoints.
func ParsePermission(s string) (RepoPermission, error) {
	switch s {
	case "read", "pull":
		return PermissionRead, nil
	case "triage":
		return PermissionTriage, nil
	case "write", "push":
		return PermissionWrite, nil
	case "maintain":
		return PermissionMaintain, nil
	case "admin":
		return PermissionAdmin, nil
	}
	return 0, fmt.Errorf("unknown repository permission %q", s)
}

func (p RepoPermission) String() string {
	switch p {
	case PermissionRead:
		return "read"
	case PermissionTriage:
		return "triage"
	case PermissionWrite:
		return "write"
	case PermissionMaintain:
		return "maintain"
	case PermissionAdmin:
		return "admin"
	}
	return fmt.Sprintf("RepoPermission(%d)", int(p))
}

// APIValue is the spelling mutation endpoints expect: the UI term "write"
// is still "push" on the wire, and "read" is "pull".
func (p RepoPermission) APIValue() string {
	switch p {
	case PermissionRead:
		return "pull"
	case PermissionWrite:
		return "push"
	default:
		return p.String()
	}
}

func (p RepoPermission) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.APIValue())
}

func (p *RepoPermission) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	perm, err := ParsePermission(s)
	if err != nil {
		return err
	}
	*p = perm
	return nil
}

// Team is a team as it exists on GitHub.
type Team struct {
	ID RemoteID `json:"id"`
	// The slug usually matches the name but can differ: a team named
	// "infra.tools" would have the slug "infra-tools".
	Slug        string      `json:"slug"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Privacy     TeamPrivacy `json:"privacy"`
}

// TeamSummary is the name/slug pair returned by the org team listing.
type TeamSummary struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// TeamMember is a user's membership inside a team.
type TeamMember struct {
	Login string
	Role  TeamRole
}

// Repo is a repository as it exists on GitHub.
type Repo struct {
	// NodeID is the GraphQL ID. Empty for repositories "created" during
	// a dry run.
	NodeID      string
	ID          RemoteID
	Org         string
	Name        string
	Description string
	Homepage    string
	Archived    bool
	AutoMerge   bool
}

// RepoSettings are the mutable properties of a repository.
type RepoSettings struct {
	Description string
	Homepage    string
	Archived    bool
	AutoMerge   bool
}

// Settings extracts the mutable properties of the repository.
func (r *Repo) Settings() RepoSettings {
	return RepoSettings{
		Description: r.Description,
		Homepage:    r.Homepage,
		Archived:    r.Archived,
		AutoMerge:   r.AutoMerge,
	}
}

// RepoTeam is a team granted access to a repository.
type RepoTeam struct {
	Name       string         `json:"name"`
	Permission RepoPermission `json:"permission"`
}

// RepoUser is a direct collaborator of a repository.
type RepoUser struct {
	Login      string         `json:"login"`
	Permission RepoPermission `json:"role_name"`
}

// BranchProtection is a per-pattern policy governing required checks,
// reviews and push restrictions on matching branches.
type BranchProtection struct {
	Pattern                      string
	IsAdminEnforced              bool
	DismissesStaleReviews        bool
	RequiredApprovingReviewCount int
	// Kept sorted so two rules can be compared without spurious diffs
	// from non-deterministic API ordering.
	RequiredStatusCheckContexts []string
	PushAllowances              []PushAllowanceActor
	RequiresApprovingReviews    bool
}

// ProtectedBranch pairs a branch protection rule with its GraphQL ID,
// needed to update or delete the rule.
type ProtectedBranch struct {
	ID   string
	Rule BranchProtection
}

// PushAllowanceActor is a user or team permitted to bypass push
// restrictions of a branch protection rule. Exactly one of User or
// Team/TeamOrg is set.
type PushAllowanceActor struct {
	User    string
	TeamOrg string
	Team    string
}

// UserAllowance builds a push allowance for a user login.
func UserAllowance(login string) PushAllowanceActor {
	return PushAllowanceActor{User: login}
}

// TeamAllowance builds a push allowance for an org team.
func TeamAllowance(org, name string) PushAllowanceActor {
	return PushAllowanceActor{TeamOrg: org, Team: name}
}

func (a PushAllowanceActor) String() string {
	if a.User != "" {
		return a.User
	}
	return a.TeamOrg + "/" + a.Team
}

// OrgAppInstallation is an org-level installation of a GitHub App.
type OrgAppInstallation struct {
	InstallationID int64  `json:"id"`
	AppSlug        string `json:"app_slug"`
}

// NormalizeProtection sorts the required check contexts and the push
// allowances so two rules can be compared without spurious diffs from
// API ordering.
func NormalizeProtection(rule *BranchProtection) {
	sort.Strings(rule.RequiredStatusCheckContexts)
	sort.Slice(rule.PushAllowances, func(i, j int) bool {
		return rule.PushAllowances[i].String() < rule.PushAllowances[j].String()
	})
}

// EqualProtection compares two branch protection rules field by field.
// Both sides must already be normalized.
func EqualProtection(a, b *BranchProtection) bool {
	if a.Pattern != b.Pattern ||
		a.IsAdminEnforced != b.IsAdminEnforced ||
		a.DismissesStaleReviews != b.DismissesStaleReviews ||
		a.RequiredApprovingReviewCount != b.RequiredApprovingReviewCount ||
		a.RequiresApprovingReviews != b.RequiresApprovingReviews {
		return false
	}
	if len(a.RequiredStatusCheckContexts) != len(b.RequiredStatusCheckContexts) {
		return false
	}
	for i, c := range a.RequiredStatusCheckContexts {
		if b.RequiredStatusCheckContexts[i] != c {
			return false
		}
	}
	if len(a.PushAllowances) != len(b.PushAllowances) {
		return false
	}
	for i, p := range a.PushAllowances {
		if b.PushAllowances[i] != p {
			return false
		}
	}
	return true
}

// userNodeID converts a numeric user ID into the GraphQL node ID format.
func userNodeID(id int64) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("04:User%d", id)))
}

// teamNodeID converts a numeric team ID into the GraphQL node ID format.
func teamNodeID(id int64) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("04:Team%d", id)))
}
