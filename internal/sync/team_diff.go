package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/orgsyncd/orgsyncd/internal/github"
)

// TeamDiff is one operation bringing a platform team in line with the
// desired state. The closed set of implementations is CreateTeamDiff,
// EditTeamDiff and DeleteTeamDiff.
type TeamDiff interface {
	apply(ctx context.Context, w github.Write) error
	// Noop reports whether applying the diff would change nothing. An
	// edit whose member diffs are all no-ops still carries them for
	// rendering but counts as a no-op.
	Noop() bool
	fmt.Stringer
}

// MemberDiffKind classifies the change for one team member.
type MemberDiffKind int

const (
	MemberNoop MemberDiffKind = iota
	MemberCreate
	MemberChangeRole
	MemberDelete
)

// MemberDiff is the change for one user of a team. Role is the role to
// set for create and role changes; OldRole is only set for role changes.
type MemberDiff struct {
	Login   string
	Kind    MemberDiffKind
	Role    github.TeamRole
	OldRole github.TeamRole
}

func (m MemberDiff) String() string {
	switch m.Kind {
	case MemberCreate:
		return fmt.Sprintf("  add %s (%s)", m.Login, m.Role)
	case MemberChangeRole:
		return fmt.Sprintf("  change role of %s: %s -> %s", m.Login, m.OldRole, m.Role)
	case MemberDelete:
		return fmt.Sprintf("  remove %s", m.Login)
	}
	return fmt.Sprintf("  keep %s", m.Login)
}

// CreateTeamDiff creates a team that does not exist yet, with its full
// expected member list.
type CreateTeamDiff struct {
	Org         string
	Name        string
	Description string
	Privacy     github.TeamPrivacy
	Members     []MemberDiff
}

func (d *CreateTeamDiff) apply(ctx context.Context, w github.Write) error {
	team, err := w.CreateTeam(ctx, d.Org, d.Name, d.Description, d.Privacy)
	if err != nil {
		return err
	}
	for _, member := range d.Members {
		if err := w.SetTeamMembership(ctx, d.Org, team.Slug, member.Login, member.Role); err != nil {
			return err
		}
	}
	return nil
}

func (d *CreateTeamDiff) Noop() bool { return false }

func (d *CreateTeamDiff) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "create team %s/%s (%s)\n", d.Org, d.Name, d.Privacy)
	for _, member := range d.Members {
		fmt.Fprintf(&b, "%s\n", member)
	}
	return b.String()
}

// FieldChange is an old/new pair for one edited attribute.
type FieldChange[T any] struct {
	Old T
	New T
}

// EditTeamDiff reconciles an existing team: nil field changes mean the
// attribute already matches; member diffs cover every desired and
// unexpected member.
type EditTeamDiff struct {
	Org               string
	Name              string
	Slug              string
	NameChange        *FieldChange[string]
	DescriptionChange *FieldChange[string]
	PrivacyChange     *FieldChange[github.TeamPrivacy]
	Members           []MemberDiff
}

func (d *EditTeamDiff) apply(ctx context.Context, w github.Write) error {
	if d.NameChange != nil || d.DescriptionChange != nil || d.PrivacyChange != nil {
		var edit github.TeamEdit
		if d.NameChange != nil {
			edit.Name = &d.NameChange.New
		}
		if d.DescriptionChange != nil {
			edit.Description = &d.DescriptionChange.New
		}
		if d.PrivacyChange != nil {
			edit.Privacy = &d.PrivacyChange.New
		}
		if err := w.EditTeam(ctx, d.Org, d.Slug, edit); err != nil {
			return err
		}
	}
	for _, member := range d.Members {
		var err error
		switch member.Kind {
		case MemberCreate, MemberChangeRole:
			err = w.SetTeamMembership(ctx, d.Org, d.Slug, member.Login, member.Role)
		case MemberDelete:
			err = w.RemoveTeamMembership(ctx, d.Org, d.Slug, member.Login)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *EditTeamDiff) Noop() bool {
	if d.NameChange != nil || d.DescriptionChange != nil || d.PrivacyChange != nil {
		return false
	}
	for _, member := range d.Members {
		if member.Kind != MemberNoop {
			return false
		}
	}
	return true
}

func (d *EditTeamDiff) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "edit team %s/%s\n", d.Org, d.Name)
	if d.NameChange != nil {
		fmt.Fprintf(&b, "  name: %q -> %q\n", d.NameChange.Old, d.NameChange.New)
	}
	if d.DescriptionChange != nil {
		fmt.Fprintf(&b, "  description: %q -> %q\n", d.DescriptionChange.Old, d.DescriptionChange.New)
	}
	if d.PrivacyChange != nil {
		fmt.Fprintf(&b, "  privacy: %s -> %s\n", d.PrivacyChange.Old, d.PrivacyChange.New)
	}
	for _, member := range d.Members {
		if member.Kind != MemberNoop {
			fmt.Fprintf(&b, "%s\n", member)
		}
	}
	return b.String()
}

// DeleteTeamDiff removes a platform team no desired team references.
type DeleteTeamDiff struct {
	Org  string
	Name string
	Slug string
}

func (d *DeleteTeamDiff) apply(ctx context.Context, w github.Write) error {
	return w.DeleteTeam(ctx, d.Org, d.Slug)
}

func (d *DeleteTeamDiff) Noop() bool { return false }

func (d *DeleteTeamDiff) String() string {
	return fmt.Sprintf("delete team %s/%s\n", d.Org, d.Name)
}

// diffTeam computes the diff for one desired team.
func (s *Syncer) diffTeam(ctx context.Context, desired *teamSpec) (TeamDiff, error) {
	actual, err := s.read.Team(ctx, desired.Org, desired.Name)
	if err != nil {
		return nil, err
	}

	if actual == nil {
		members := make([]MemberDiff, 0, len(desired.Members))
		for _, id := range desired.Members {
			login, err := s.login(desired.Org, desired.Name, id)
			if err != nil {
				return nil, err
			}
			members = append(members, MemberDiff{
				Login: login,
				Kind:  MemberCreate,
				Role:  s.expectedRole(desired.Org, id),
			})
		}
		return &CreateTeamDiff{
			Org:         desired.Org,
			Name:        desired.Name,
			Description: desired.Description,
			Privacy:     desired.Privacy,
			Members:     members,
		}, nil
	}

	edit := &EditTeamDiff{
		Org:  desired.Org,
		Name: desired.Name,
		Slug: actual.Slug,
	}
	if actual.Name != desired.Name {
		edit.NameChange = &FieldChange[string]{Old: actual.Name, New: desired.Name}
	}
	if actual.Description != desired.Description {
		edit.DescriptionChange = &FieldChange[string]{Old: actual.Description, New: desired.Description}
	}
	if actual.Privacy != desired.Privacy {
		edit.PrivacyChange = &FieldChange[github.TeamPrivacy]{Old: actual.Privacy, New: desired.Privacy}
	}

	memberships, err := s.read.TeamMemberships(ctx, desired.Org, actual)
	if err != nil {
		return nil, err
	}
	invited, err := s.read.TeamInvitations(ctx, desired.Org, actual.Slug)
	if err != nil {
		return nil, err
	}

	seen := map[int64]bool{}
	for _, id := range desired.Members {
		seen[id] = true
		login, err := s.login(desired.Org, desired.Name, id)
		if err != nil {
			return nil, err
		}
		role := s.expectedRole(desired.Org, id)
		switch member, ok := memberships[id]; {
		case ok && member.Role == role:
			edit.Members = append(edit.Members, MemberDiff{Login: login, Kind: MemberNoop})
		case ok:
			edit.Members = append(edit.Members, MemberDiff{
				Login:   login,
				Kind:    MemberChangeRole,
				Role:    role,
				OldRole: member.Role,
			})
		case invited[login]:
			// The invite is pending; re-adding would be a noop anyway.
			edit.Members = append(edit.Members, MemberDiff{Login: login, Kind: MemberNoop})
		default:
			edit.Members = append(edit.Members, MemberDiff{Login: login, Kind: MemberCreate, Role: role})
		}
	}
	for _, id := range sortedKeys(memberships) {
		if !seen[id] {
			edit.Members = append(edit.Members, MemberDiff{Login: memberships[id].Login, Kind: MemberDelete})
		}
	}
	return edit, nil
}

// diffDeletedTeams finds platform teams no desired team references and,
// inside managed orgs only, emits deletes for them. Bot teams survive.
func (s *Syncer) diffDeletedTeams(ctx context.Context) ([]TeamDiff, error) {
	var diffs []TeamDiff
	for _, org := range s.state.Orgs() {
		if !s.state.Rules.OrgManaged(org) {
			continue
		}
		teams, err := s.read.OrgTeams(ctx, org)
		if err != nil {
			return nil, err
		}
		for _, team := range teams {
			if s.desiredTeams[org][team.Name] || s.state.Rules.BotTeam(team.Name) {
				continue
			}
			diffs = append(diffs, &DeleteTeamDiff{Org: org, Name: team.Name, Slug: team.Slug})
		}
	}
	return diffs, nil
}
