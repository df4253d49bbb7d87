package github

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepoPermissionOrdering(t *testing.T) {
	assert.True(t, PermissionRead < PermissionTriage)
	assert.True(t, PermissionTriage < PermissionWrite)
	assert.True(t, PermissionWrite < PermissionMaintain)
	assert.True(t, PermissionMaintain < PermissionAdmin)
}

func TestParsePermissionLegacyAliases(t *testing.T) {
	for alias, want := range map[string]RepoPermission{
		"pull":     PermissionRead,
		"read":     PermissionRead,
		"push":     PermissionWrite,
		"write":    PermissionWrite,
		"triage":   PermissionTriage,
		"maintain": PermissionMaintain,
		"admin":    PermissionAdmin,
	} {
		perm, err := ParsePermission(alias)
		require.NoError(t, err, alias)
		assert.Equal(t, want, perm, alias)
	}

	_, err := ParsePermission("owner")
	assert.Error(t, err)
}

func TestRepoPermissionJSON(t *testing.T) {
	// The mutation endpoints still speak the legacy names.
	out, err := json.Marshal(PermissionWrite)
	require.NoError(t, err)
	assert.Equal(t, `"push"`, string(out))

	var perm RepoPermission
	require.NoError(t, json.Unmarshal([]byte(`"pull"`), &perm))
	assert.Equal(t, PermissionRead, perm)
}

func TestTeamRoleDecoding(t *testing.T) {
	var role TeamRole
	require.NoError(t, json.Unmarshal([]byte(`"MAINTAINER"`), &role))
	assert.Equal(t, RoleMaintainer, role)
	require.NoError(t, json.Unmarshal([]byte(`"member"`), &role))
	assert.Equal(t, RoleMember, role)
	assert.Error(t, json.Unmarshal([]byte(`"owner"`), &role))
}

func TestRemoteID(t *testing.T) {
	var zero RemoteID
	_, real := zero.Real()
	assert.False(t, real)
	assert.Equal(t, "simulated", zero.String())

	id := RealID(42)
	n, real := id.Real()
	assert.True(t, real)
	assert.EqualValues(t, 42, n)

	var decoded RemoteID
	require.NoError(t, json.Unmarshal([]byte(`7`), &decoded))
	n, real = decoded.Real()
	assert.True(t, real)
	assert.EqualValues(t, 7, n)
}

func TestEqualProtectionNormalized(t *testing.T) {
	a := BranchProtection{
		Pattern:                     "main",
		RequiredStatusCheckContexts: []string{"b", "a"},
		PushAllowances:              []PushAllowanceActor{UserAllowance("bot")},
	}
	b := BranchProtection{
		Pattern:                     "main",
		RequiredStatusCheckContexts: []string{"a", "b"},
		PushAllowances:              []PushAllowanceActor{UserAllowance("bot")},
	}
	NormalizeProtection(&a)
	NormalizeProtection(&b)
	assert.True(t, EqualProtection(&a, &b))

	b.RequiredApprovingReviewCount = 1
	assert.False(t, EqualProtection(&a, &b))
}

func TestEqualProtectionAllowanceOrderInsensitive(t *testing.T) {
	a := BranchProtection{
		Pattern: "main",
		PushAllowances: []PushAllowanceActor{
			UserAllowance("mergebot"),
			TeamAllowance("acme", "release"),
		},
	}
	b := BranchProtection{
		Pattern: "main",
		PushAllowances: []PushAllowanceActor{
			TeamAllowance("acme", "release"),
			UserAllowance("mergebot"),
		},
	}
	NormalizeProtection(&a)
	NormalizeProtection(&b)
	assert.True(t, EqualProtection(&a, &b))
}
