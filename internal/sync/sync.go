// Package sync computes and applies the difference between the desired
// organization state and what the platform currently reports. Diffing
// is pure over per-run caches; applying walks the diff in dependency
// order through the write port.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/orgsyncd/orgsyncd/internal/github"
	"github.com/orgsyncd/orgsyncd/internal/model"
)

// Teams managed here are never public.
const teamPrivacy = github.PrivacyClosed

// repoDiffConcurrency bounds the parallel per-repo diff fan-out.
const repoDiffConcurrency = 8

// Syncer holds the desired state and the per-run caches the diff
// functions need. Caches are built once in New and read-only afterwards,
// so diffs for distinct teams and repos can run concurrently.
type Syncer struct {
	read  github.Read
	state *model.DesiredState

	usernames map[int64]string
	orgOwners map[string]map[int64]bool
	// org -> team names any desired team claims
	desiredTeams map[string]map[string]bool
	botLogins    map[string]bool
	// org -> app slug -> installation id, restricted to apps backing
	// known bots
	appInstallations map[string]map[string]int64
	// org -> installation id -> repo names it covers
	installationRepos map[string]map[int64]map[string]bool
}

// New builds a Syncer and populates its caches: the username map, the
// per-org owner sets, and the app installation map. Owners can change
// between runs, so the caches never outlive a Syncer.
func New(ctx context.Context, read github.Read, state *model.DesiredState) (*Syncer, error) {
	s := &Syncer{
		read:              read,
		state:             state,
		orgOwners:         map[string]map[int64]bool{},
		desiredTeams:      map[string]map[string]bool{},
		botLogins:         map[string]bool{},
		appInstallations:  map[string]map[string]int64{},
		installationRepos: map[string]map[int64]map[string]bool{},
	}

	slog.Debug("caching usernames")
	usernames, err := read.Usernames(ctx, state.MemberIDs())
	if err != nil {
		return nil, err
	}
	s.usernames = usernames

	slog.Debug("caching organization owners")
	for _, org := range state.Orgs() {
		owners, err := read.OrgOwners(ctx, org)
		if err != nil {
			return nil, err
		}
		s.orgOwners[org] = owners
	}

	for _, team := range state.Teams {
		if s.desiredTeams[team.Org] == nil {
			s.desiredTeams[team.Org] = map[string]bool{}
		}
		s.desiredTeams[team.Org][team.Name] = true
	}

	botApps := map[string]bool{}
	for _, bot := range state.Rules.Bots {
		s.botLogins[bot.Login] = true
		if bot.AppSlug != "" {
			botApps[bot.AppSlug] = true
		}
	}

	slog.Debug("caching app installations")
	repoOrgs := map[string]bool{}
	for _, repo := range state.Repos {
		repoOrgs[repo.Org] = true
	}
	for org := range repoOrgs {
		installations, err := read.OrgAppInstallations(ctx, org)
		if err != nil {
			return nil, err
		}
		s.appInstallations[org] = map[string]int64{}
		s.installationRepos[org] = map[int64]map[string]bool{}
		for _, inst := range installations {
			if !botApps[inst.AppSlug] {
				continue
			}
			repos, err := read.AppInstallationRepos(ctx, inst.InstallationID, org)
			if err != nil {
				return nil, err
			}
			s.appInstallations[org][inst.AppSlug] = inst.InstallationID
			set := map[string]bool{}
			for _, name := range repos {
				set[name] = true
			}
			s.installationRepos[org][inst.InstallationID] = set
		}
	}

	return s, nil
}

// teamSpec is a desired team expanded with the enforced description and
// privacy.
type teamSpec struct {
	Org         string
	Name        string
	Description string
	Privacy     github.TeamPrivacy
	Members     []int64
}

func (s *Syncer) teamSpec(team *model.Team) *teamSpec {
	return &teamSpec{
		Org:         team.Org,
		Name:        team.Name,
		Description: s.state.Rules.Description(),
		Privacy:     teamPrivacy,
		Members:     team.Members,
	}
}

// expectedRole derives the role a user should hold in a team: org
// owners are maintainers, everyone else is a member. Recomputed per run
// from the owner cache.
func (s *Syncer) expectedRole(org string, user int64) github.TeamRole {
	if s.orgOwners[org][user] {
		return github.RoleMaintainer
	}
	return github.RoleMember
}

// login resolves a member id through the username cache. A missing id
// means either a deleted account or a stale reference; the error names
// it so the operator can tell which.
func (s *Syncer) login(org, team string, id int64) (string, error) {
	login, ok := s.usernames[id]
	if !ok {
		return "", fmt.Errorf("team %s/%s references user id %d, which does not resolve to a username", org, team, id)
	}
	return login, nil
}

// DiffTeams computes the team portion of the diff: one operation per
// desired team, followed by deletes for stale teams in managed orgs.
func (s *Syncer) DiffTeams(ctx context.Context) ([]TeamDiff, error) {
	var diffs []TeamDiff
	for i := range s.state.Teams {
		diff, err := s.diffTeam(ctx, s.teamSpec(&s.state.Teams[i]))
		if err != nil {
			return nil, fmt.Errorf("diffing team %s/%s: %w", s.state.Teams[i].Org, s.state.Teams[i].Name, err)
		}
		diffs = append(diffs, diff)
	}
	deletes, err := s.diffDeletedTeams(ctx)
	if err != nil {
		return nil, err
	}
	return append(diffs, deletes...), nil
}

// DiffRepos computes the repo portion of the diff. Repos are
// independent, so they are diffed concurrently over the read-only
// caches; results keep the input order.
func (s *Syncer) DiffRepos(ctx context.Context) ([]RepoDiff, error) {
	diffs := make([]RepoDiff, len(s.state.Repos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(repoDiffConcurrency)
	for i := range s.state.Repos {
		i := i
		g.Go(func() error {
			diff, err := s.diffRepo(gctx, &s.state.Repos[i])
			if err != nil {
				return fmt.Errorf("diffing repo %s/%s: %w", s.state.Repos[i].Org, s.state.Repos[i].Name, err)
			}
			diffs[i] = diff
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return diffs, nil
}

// DiffAll computes the full diff, teams first.
func (s *Syncer) DiffAll(ctx context.Context) (*Diff, error) {
	teams, err := s.DiffTeams(ctx)
	if err != nil {
		return nil, err
	}
	repos, err := s.DiffRepos(ctx)
	if err != nil {
		return nil, err
	}
	return &Diff{Teams: teams, Repos: repos}, nil
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedStringKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
