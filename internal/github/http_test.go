package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(StaticToken("tok"), WithBaseURL(srv.URL))
}

func TestRestPaginatedFollowsLinkHeaders(t *testing.T) {
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/orgs/acme/teams", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token tok", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("page") {
		case "":
			w.Header().Set("Link", fmt.Sprintf(`<%s/orgs/acme/teams?page=2>; rel="next"`, base))
			fmt.Fprint(w, `[{"name":"one","slug":"one"}]`)
		case "2":
			fmt.Fprint(w, `[{"name":"two","slug":"two"}]`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	base = srv.URL
	client := NewHTTPClient(StaticToken("tok"), WithBaseURL(srv.URL))

	var teams []TeamSummary
	err := RestPaginated(context.Background(), client, http.MethodGet, OrgsURL("acme", "teams"), func(page []TeamSummary) error {
		teams = append(teams, page...)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, "one", teams[0].Name)
	assert.Equal(t, "two", teams[1].Name)
}

func TestSendOptionMissing(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	var out struct{}
	found, err := client.SendOption(context.Background(), http.MethodGet, OrgsURL("acme", "teams/ghosts"), &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSendAllowNotFoundTreats404AsSuccess(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	err := client.SendAllowNotFound(context.Background(), http.MethodDelete, OrgsURL("acme", "teams/ghosts"))
	assert.NoError(t, err)
}

func TestSendErrorCarriesBody(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message":"Validation Failed"}`)
	}))

	err := client.Send(context.Background(), http.MethodPost, OrgsURL("acme", "teams"), map[string]string{"name": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Validation Failed")
}

func TestGraphQLSurfacesInlineErrors(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql", r.URL.Path)
		fmt.Fprint(w, `{"data":null,"errors":[{"type":"NOT_FOUND","message":"boom"}]}`)
	}))

	var out map[string]any
	err := client.GraphQL(context.Background(), "acme", `query { viewer { login } }`, nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestNextLink(t *testing.T) {
	header := `<https://api.github.com/orgs/acme/teams?page=3>; rel="next", <https://api.github.com/orgs/acme/teams?page=5>; rel="last"`
	assert.Equal(t, "https://api.github.com/orgs/acme/teams?page=3", nextLink(header))
	assert.Equal(t, "", nextLink(`<https://api.github.com/x>; rel="last"`))
	assert.Equal(t, "", nextLink(""))
}
