package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/orgsyncd/orgsyncd/internal/github"
	"github.com/orgsyncd/orgsyncd/internal/reconciler"
	"github.com/orgsyncd/orgsyncd/internal/runlog"
	"github.com/orgsyncd/orgsyncd/internal/sync"
)

const adminKey = "test-admin-key"

func testRouter(t *testing.T) (http.Handler, *github.Fake) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "teams"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "teams", "admins-gh.yaml"),
		[]byte("org: acme\nmembers: [1]\n"), 0o644))

	fake := github.NewFake()
	fake.AddOrg("acme")
	fake.AddUser(1, "mark")

	runner := sync.NewRunner(fake, fake, dir)
	runs := runlog.NewMemoryRepository()
	rec := reconciler.New(runner, runs, time.Hour, false)

	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	require.NoError(t, err)

	router := NewRouter(RouterDeps{
		Version:      "test",
		Reconciler:   rec,
		Runs:         runs,
		AdminKeyHash: string(hash),
	})
	return router, fake
}

func do(t *testing.T, router http.Handler, method, path, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func TestHealth(t *testing.T) {
	router, _ := testRouter(t)

	rec := do(t, router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "test", data["version"])
}

func TestAdminEndpointsRequireKey(t *testing.T) {
	router, _ := testRouter(t)

	assert.Equal(t, http.StatusUnauthorized, do(t, router, http.MethodGet, "/plan", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, router, http.MethodGet, "/plan", "wrong-key").Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/plan", adminKey).Code)
}

func TestPlanAndSync(t *testing.T) {
	router, fake := testRouter(t)

	rec := do(t, router, http.MethodGet, "/plan", adminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Contains(t, data["plan"], "create team acme/admins-gh")
	assert.EqualValues(t, 1, data["teamChanges"])

	rec = do(t, router, http.MethodPost, "/sync", adminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	assert.Equal(t, true, data["applied"])
	assert.Empty(t, data["error"])

	team, err := fake.Team(context.Background(), "acme", "admins-gh")
	require.NoError(t, err)
	require.NotNil(t, team)

	// After applying, the plan is empty.
	rec = do(t, router, http.MethodGet, "/plan", adminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	assert.Empty(t, data["plan"])
}

func TestRunHistory(t *testing.T) {
	router, _ := testRouter(t)

	rec := do(t, router, http.MethodPost, "/sync", adminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	runID, ok := decodeData(t, rec)["id"].(string)
	require.True(t, ok)

	rec = do(t, router, http.MethodGet, "/runs", adminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Meta.Count)
	assert.Equal(t, "manual", list.Data[0]["trigger"])

	rec = do(t, router, http.MethodGet, "/runs/"+runID, adminKey)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/runs/not-a-uuid", adminKey).Code)
	assert.Equal(t, http.StatusNotFound,
		do(t, router, http.MethodGet, "/runs/00000000-0000-0000-0000-000000000000", adminKey).Code)
}
