package github

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Fake is a deterministic in-memory implementation of both Read and
// Write, used to exercise the diff and apply engines without network
// access. Mutations actually change the fake's state, so a diff applied
// against it is observable by a subsequent read.
type Fake struct {
	mu      sync.Mutex
	users   map[int64]string
	orgs    map[string]*fakeOrg
	nextID  int64
	deleted []string
}

type fakeOrg struct {
	owners        map[int64]bool
	teams         []*Team
	teamMembers   map[string]map[int64]TeamMember // keyed by team name
	invitations   map[string]map[string]bool      // team slug -> logins
	repos         map[string]*Repo
	repoTeams     map[string][]RepoTeam
	collaborators map[string][]RepoUser
	protections   map[string][]ProtectedBranch
	installations []OrgAppInstallation
	installRepos  map[int64]map[string]bool
}

// NewFake creates an empty fake GitHub.
func NewFake() *Fake {
	return &Fake{
		users:  map[int64]string{},
		orgs:   map[string]*fakeOrg{},
		nextID: 1,
	}
}

func (f *Fake) org(name string) *fakeOrg {
	if o, ok := f.orgs[name]; ok {
		return o
	}
	o := &fakeOrg{
		owners:        map[int64]bool{},
		teamMembers:   map[string]map[int64]TeamMember{},
		invitations:   map[string]map[string]bool{},
		repos:         map[string]*Repo{},
		repoTeams:     map[string][]RepoTeam{},
		collaborators: map[string][]RepoUser{},
		protections:   map[string][]ProtectedBranch{},
		installRepos:  map[int64]map[string]bool{},
	}
	f.orgs[name] = o
	return o
}

// AddUser registers a user with the given ID and login.
func (f *Fake) AddUser(id int64, login string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = login
}

// AddOrgOwner marks a user as an owner of the org.
func (f *Fake) AddOrgOwner(org string, id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.org(org).owners[id] = true
}

// AddOrg makes an org known to the fake without any state.
func (f *Fake) AddOrg(org string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.org(org)
}

// AddTeam registers an existing team with the given members.
func (f *Fake) AddTeam(org, name, description string, privacy TeamPrivacy, members map[int64]TeamMember) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.org(org)
	o.teams = append(o.teams, &Team{
		ID:          RealID(f.nextID),
		Name:        name,
		Slug:        name,
		Description: description,
		Privacy:     privacy,
	})
	f.nextID++
	copied := map[int64]TeamMember{}
	for id, m := range members {
		copied[id] = m
	}
	o.teamMembers[name] = copied
}

// AddInvitation records a pending invitation of a user to a team.
func (f *Fake) AddInvitation(org, teamSlug, login string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.org(org)
	if o.invitations[teamSlug] == nil {
		o.invitations[teamSlug] = map[string]bool{}
	}
	o.invitations[teamSlug][login] = true
}

// AddRepo registers an existing repository.
func (f *Fake) AddRepo(repo *Repo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := *repo
	if _, real := r.ID.Real(); !real {
		r.ID = RealID(f.nextID)
		r.NodeID = fmt.Sprintf("node-%d", f.nextID)
		f.nextID++
	}
	f.org(r.Org).repos[r.Name] = &r
}

// SetRepoTeams sets the teams granted access to a repository.
func (f *Fake) SetRepoTeams(org, repo string, teams []RepoTeam) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.org(org).repoTeams[repo] = append([]RepoTeam(nil), teams...)
}

// SetRepoCollaborators sets the direct collaborators of a repository.
func (f *Fake) SetRepoCollaborators(org, repo string, users []RepoUser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.org(org).collaborators[repo] = append([]RepoUser(nil), users...)
}

// AddBranchProtection attaches an existing rule to a repository.
func (f *Fake) AddBranchProtection(org, repo string, rule BranchProtection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.org(org)
	NormalizeProtection(&rule)
	id := fmt.Sprintf("bp-%d", f.nextID)
	f.nextID++
	o.protections[repo] = append(o.protections[repo], ProtectedBranch{ID: id, Rule: rule})
}

// AddAppInstallation registers an org-level app installation covering
// the given repository names.
func (f *Fake) AddAppInstallation(org, appSlug string, repos ...string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.org(org)
	id := f.nextID
	f.nextID++
	o.installations = append(o.installations, OrgAppInstallation{InstallationID: id, AppSlug: appSlug})
	set := map[string]bool{}
	for _, r := range repos {
		set[r] = true
	}
	o.installRepos[id] = set
	return id
}

// DeletedTeams reports the org/slug pairs deleted through the write port.
func (f *Fake) DeletedTeams() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *Fake) mustOrg(name string) (*fakeOrg, error) {
	if o, ok := f.orgs[name]; ok {
		return o, nil
	}
	return nil, fmt.Errorf("unknown organization %s", name)
}

// --- Read ---

func (f *Fake) Usernames(_ context.Context, ids []int64) (map[int64]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := map[int64]string{}
	for _, id := range ids {
		if login, ok := f.users[id]; ok {
			result[id] = login
		}
	}
	return result, nil
}

func (f *Fake) OrgOwners(_ context.Context, org string) (map[int64]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return nil, err
	}
	owners := map[int64]bool{}
	for id := range o.owners {
		owners[id] = true
	}
	return owners, nil
}

func (f *Fake) OrgAppInstallations(_ context.Context, org string) ([]OrgAppInstallation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return nil, err
	}
	return append([]OrgAppInstallation(nil), o.installations...), nil
}

func (f *Fake) AppInstallationRepos(_ context.Context, installationID int64, org string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return nil, err
	}
	var names []string
	for name := range o.installRepos[installationID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fake) OrgTeams(_ context.Context, org string) ([]TeamSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return nil, err
	}
	summaries := make([]TeamSummary, 0, len(o.teams))
	for _, t := range o.teams {
		summaries = append(summaries, TeamSummary{Name: t.Name, Slug: t.Slug})
	}
	return summaries, nil
}

func (f *Fake) Team(_ context.Context, org, name string) (*Team, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return nil, err
	}
	for _, t := range o.teams {
		if t.Name == name {
			copied := *t
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *Fake) TeamMemberships(_ context.Context, org string, team *Team) (map[int64]TeamMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, real := team.ID.Real(); !real {
		return map[int64]TeamMember{}, nil
	}
	o, err := f.mustOrg(org)
	if err != nil {
		return nil, err
	}
	members := map[int64]TeamMember{}
	for id, m := range o.teamMembers[team.Name] {
		members[id] = m
	}
	return members, nil
}

func (f *Fake) TeamInvitations(_ context.Context, org, teamSlug string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return nil, err
	}
	invited := map[string]bool{}
	for login := range o.invitations[teamSlug] {
		invited[login] = true
	}
	return invited, nil
}

func (f *Fake) Repo(_ context.Context, org, name string) (*Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orgs[org]
	if !ok {
		return nil, nil
	}
	repo, ok := o.repos[name]
	if !ok {
		return nil, nil
	}
	copied := *repo
	return &copied, nil
}

func (f *Fake) RepoTeams(_ context.Context, org, repo string) ([]RepoTeam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return nil, err
	}
	return append([]RepoTeam(nil), o.repoTeams[repo]...), nil
}

func (f *Fake) RepoCollaborators(_ context.Context, org, repo string) ([]RepoUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return nil, err
	}
	return append([]RepoUser(nil), o.collaborators[repo]...), nil
}

func (f *Fake) BranchProtections(_ context.Context, org, repo string) (map[string]ProtectedBranch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return nil, err
	}
	result := map[string]ProtectedBranch{}
	for _, p := range o.protections[repo] {
		result[p.Rule.Pattern] = p
	}
	return result, nil
}

// --- Write ---

func (f *Fake) userID(login string) (int64, error) {
	for id, l := range f.users {
		if l == login {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown user %s", login)
}

func (f *Fake) CreateTeam(_ context.Context, org, name, description string, privacy TeamPrivacy) (*Team, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.org(org)
	team := &Team{
		ID:          RealID(f.nextID),
		Name:        name,
		Slug:        name,
		Description: description,
		Privacy:     privacy,
	}
	f.nextID++
	o.teams = append(o.teams, team)
	o.teamMembers[name] = map[int64]TeamMember{}
	copied := *team
	return &copied, nil
}

func (f *Fake) EditTeam(_ context.Context, org, name string, edit TeamEdit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return err
	}
	for _, t := range o.teams {
		if t.Name == name {
			if edit.Name != nil {
				o.teamMembers[*edit.Name] = o.teamMembers[t.Name]
				delete(o.teamMembers, t.Name)
				t.Name = *edit.Name
			}
			if edit.Description != nil {
				t.Description = *edit.Description
			}
			if edit.Privacy != nil {
				t.Privacy = *edit.Privacy
			}
			return nil
		}
	}
	return fmt.Errorf("unknown team %s/%s", org, name)
}

func (f *Fake) DeleteTeam(_ context.Context, org, slug string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return err
	}
	for i, t := range o.teams {
		if t.Slug == slug {
			o.teams = append(o.teams[:i], o.teams[i+1:]...)
			delete(o.teamMembers, t.Name)
			break
		}
	}
	// 404 on delete counts as success, so an unknown slug is fine.
	f.deleted = append(f.deleted, org+"/"+slug)
	return nil
}

func (f *Fake) SetTeamMembership(_ context.Context, org, team, user string, role TeamRole) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return err
	}
	id, err := f.userID(user)
	if err != nil {
		return err
	}
	members, ok := o.teamMembers[team]
	if !ok {
		return fmt.Errorf("unknown team %s/%s", org, team)
	}
	delete(o.invitations[team], user)
	members[id] = TeamMember{Login: user, Role: role}
	return nil
}

func (f *Fake) RemoveTeamMembership(_ context.Context, org, team, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return err
	}
	id, err := f.userID(user)
	if err != nil {
		return err
	}
	delete(o.teamMembers[team], id)
	return nil
}

func (f *Fake) CreateRepo(_ context.Context, org, name string, settings RepoSettings) (*Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.org(org)
	repo := &Repo{
		NodeID:      fmt.Sprintf("node-%d", f.nextID),
		ID:          RealID(f.nextID),
		Org:         org,
		Name:        name,
		Description: settings.Description,
		Homepage:    settings.Homepage,
		Archived:    settings.Archived,
		AutoMerge:   settings.AutoMerge,
	}
	f.nextID++
	o.repos[name] = repo
	copied := *repo
	return &copied, nil
}

func (f *Fake) EditRepo(_ context.Context, org, name string, settings RepoSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return err
	}
	repo, ok := o.repos[name]
	if !ok {
		return fmt.Errorf("unknown repo %s/%s", org, name)
	}
	repo.Description = settings.Description
	repo.Homepage = settings.Homepage
	repo.Archived = settings.Archived
	repo.AutoMerge = settings.AutoMerge
	return nil
}

func (f *Fake) SetTeamPermission(_ context.Context, org, repo, team string, permission RepoPermission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return err
	}
	for i, t := range o.repoTeams[repo] {
		if t.Name == team {
			o.repoTeams[repo][i].Permission = permission
			return nil
		}
	}
	o.repoTeams[repo] = append(o.repoTeams[repo], RepoTeam{Name: team, Permission: permission})
	return nil
}

func (f *Fake) SetUserPermission(_ context.Context, org, repo, user string, permission RepoPermission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return err
	}
	for i, u := range o.collaborators[repo] {
		if u.Login == user {
			o.collaborators[repo][i].Permission = permission
			return nil
		}
	}
	o.collaborators[repo] = append(o.collaborators[repo], RepoUser{Login: user, Permission: permission})
	return nil
}

func (f *Fake) RemoveTeamPermission(_ context.Context, org, repo, team string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return err
	}
	teams := o.repoTeams[repo]
	for i, t := range teams {
		if t.Name == team {
			o.repoTeams[repo] = append(teams[:i], teams[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *Fake) RemoveUserPermission(_ context.Context, org, repo, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return err
	}
	users := o.collaborators[repo]
	for i, u := range users {
		if u.Login == user {
			o.collaborators[repo] = append(users[:i], users[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *Fake) UpsertBranchProtection(_ context.Context, org string, target ProtectionTarget, rule *BranchProtection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return err
	}
	copied := *rule
	copied.RequiredStatusCheckContexts = append([]string(nil), rule.RequiredStatusCheckContexts...)
	copied.PushAllowances = append([]PushAllowanceActor(nil), rule.PushAllowances...)
	NormalizeProtection(&copied)

	if target.ruleID != "" {
		for repo, rules := range o.protections {
			for i, p := range rules {
				if p.ID == target.ruleID {
					o.protections[repo][i].Rule = copied
					return nil
				}
			}
		}
		return fmt.Errorf("unknown branch protection rule %s", target.ruleID)
	}
	for name, repo := range o.repos {
		if repo.NodeID == target.repoNodeID {
			id := fmt.Sprintf("bp-%d", f.nextID)
			f.nextID++
			o.protections[name] = append(o.protections[name], ProtectedBranch{ID: id, Rule: copied})
			return nil
		}
	}
	return fmt.Errorf("unknown repository node %s", target.repoNodeID)
}

func (f *Fake) DeleteBranchProtection(_ context.Context, org, ruleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return err
	}
	for repo, rules := range o.protections {
		for i, p := range rules {
			if p.ID == ruleID {
				o.protections[repo] = append(rules[:i], rules[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (f *Fake) AddInstallationRepo(_ context.Context, org string, installationID int64, repo RemoteID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return err
	}
	id, real := repo.Real()
	if !real {
		return fmt.Errorf("installation %d references a simulated repository", installationID)
	}
	set, ok := o.installRepos[installationID]
	if !ok {
		return fmt.Errorf("unknown installation %d", installationID)
	}
	for name, r := range o.repos {
		if rid, _ := r.ID.Real(); rid == id {
			set[name] = true
			return nil
		}
	}
	return fmt.Errorf("unknown repository id %d", id)
}

func (f *Fake) RemoveInstallationRepo(_ context.Context, org string, installationID int64, repo RemoteID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustOrg(org)
	if err != nil {
		return err
	}
	id, real := repo.Real()
	if !real {
		return fmt.Errorf("installation %d references a simulated repository", installationID)
	}
	for name, r := range o.repos {
		if rid, _ := r.ID.Real(); rid == id {
			delete(o.installRepos[installationID], name)
			return nil
		}
	}
	return nil
}
