package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDryRunWriteNeverMutates drives every write operation through a
// dry-run port pointed at a live server. The only traffic allowed
// through is push allowance ID resolution, which must behave like the
// live path; everything else stays off the wire while returning results
// shaped like a success.
func TestDryRunWriteNeverMutates(t *testing.T) {
	var mu sync.Mutex
	var graphqlBodies []string
	var restRequests []string

	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		graphqlBodies = append(graphqlBodies, string(body))
		mu.Unlock()
		// Shaped for the user lookup; the team lookup decodes this as a
		// missing organization.
		fmt.Fprint(w, `{"data":{"user":{"id":"U_1"}}}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		restRequests = append(restRequests, r.Method+" "+r.URL.Path)
		mu.Unlock()
		t.Errorf("unexpected request in dry run: %s %s", r.Method, r.URL.Path)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewHTTPClient(StaticToken("tok"), WithBaseURL(srv.URL))
	w := NewAPIWrite(client, true)
	ctx := context.Background()

	team, err := w.CreateTeam(ctx, "acme", "admins-gh", "managed", PrivacyClosed)
	require.NoError(t, err)
	_, real := team.ID.Real()
	assert.False(t, real, "a dry-run team must carry a simulated ID")
	assert.Equal(t, "admins-gh", team.Slug)
	assert.Equal(t, PrivacyClosed, team.Privacy)

	require.NoError(t, w.EditTeam(ctx, "acme", "admins-gh", TeamEdit{}))
	require.NoError(t, w.SetTeamMembership(ctx, "acme", "admins-gh", "mark", RoleMaintainer))
	require.NoError(t, w.RemoveTeamMembership(ctx, "acme", "admins-gh", "mark"))
	require.NoError(t, w.DeleteTeam(ctx, "acme", "admins-gh"))

	repo, err := w.CreateRepo(ctx, "acme", "widget", RepoSettings{Description: "the widget"})
	require.NoError(t, err)
	_, real = repo.ID.Real()
	assert.False(t, real, "a dry-run repo must carry a simulated ID")
	assert.Empty(t, repo.NodeID)
	assert.Equal(t, "the widget", repo.Description)

	require.NoError(t, w.EditRepo(ctx, "acme", "widget", RepoSettings{}))
	require.NoError(t, w.SetTeamPermission(ctx, "acme", "widget", "admins-gh", PermissionWrite))
	require.NoError(t, w.SetUserPermission(ctx, "acme", "widget", "mark", PermissionAdmin))
	require.NoError(t, w.RemoveTeamPermission(ctx, "acme", "widget", "admins-gh"))
	require.NoError(t, w.RemoveUserPermission(ctx, "acme", "widget", "mark"))

	// ID resolution still runs: the user allowance resolves over the
	// wire, and the team allowance (unknown to the platform, it would be
	// created in this same simulated run) is skipped instead of failing.
	rule := &BranchProtection{
		Pattern: "main",
		PushAllowances: []PushAllowanceActor{
			UserAllowance("mergebot"),
			TeamAllowance("acme", "release"),
		},
	}
	require.NoError(t, w.UpsertBranchProtection(ctx, "acme", CreateRuleOn(""), rule))
	require.NoError(t, w.DeleteBranchProtection(ctx, "acme", "bp-1"))

	require.NoError(t, w.AddInstallationRepo(ctx, "acme", 7, RemoteID{}))
	require.NoError(t, w.RemoveInstallationRepo(ctx, "acme", 7, RemoteID{}))

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, restRequests)
	require.Len(t, graphqlBodies, 2)
	assert.Contains(t, graphqlBodies[0], "user(login:")
	assert.Contains(t, graphqlBodies[1], "team(slug:")
	for _, body := range graphqlBodies {
		assert.NotContains(t, body, "mutation")
	}
}
