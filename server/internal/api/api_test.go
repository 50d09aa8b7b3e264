package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasalert/nasalert/pkg/types"
	"github.com/nasalert/nasalert/server/internal/alerts"
	"github.com/nasalert/nasalert/server/internal/api"
	"github.com/nasalert/nasalert/server/internal/identity"
	"github.com/nasalert/nasalert/server/internal/source"
	"github.com/nasalert/nasalert/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

// fakePools is a PoolReader whose pools the test changes between checks.
type fakePools struct{ pools []source.Pool }

func (f *fakePools) Pools(context.Context) ([]source.Pool, error) { return f.pools, nil }

type fixture struct {
	mgr     *alerts.Manager
	handler http.Handler
	pools   *fakePools
	runner  *source.Runner
	volume  source.Source
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	passwd := filepath.Join(dir, "passwd")
	group := filepath.Join(dir, "group")
	require.NoError(t, os.WriteFile(passwd, []byte("jdoe:*:1001:1001:Jane Doe:/home/jdoe:/bin/sh\n"), 0o600))
	require.NoError(t, os.WriteFile(group, []byte("staff:*:20:jdoe\n"), 0o600))

	mgr := alerts.NewManager(store.NewMemory(), nil, nil)
	chain := identity.NewChain(nil, identity.NewLocal(passwd, group))
	pools := &fakePools{}
	volume := source.NewVolumeStatus(pools, 0)
	return &fixture{
		mgr:     mgr,
		handler: api.New(mgr, chain),
		pools:   pools,
		runner:  source.NewRunner(mgr, nil, volume),
		volume:  volume,
	}
}

func (f *fixture) check(t *testing.T) {
	t.Helper()
	require.NoError(t, f.runner.RunOnce(context.Background(), f.volume))
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rr
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, http.MethodGet, path, "")
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

func listAlerts(t *testing.T, h http.Handler) []types.Alert {
	t.Helper()
	rr := get(t, h, api.Prefix+"/alert/list/")
	require.Equal(t, http.StatusOK, rr.Code)
	var out []types.Alert
	decode(t, rr, &out)
	return out
}

// --- tests ------------------------------------------------------------------

func TestDegradedPoolLifecycle(t *testing.T) {
	f := newFixture(t)
	h := f.handler

	f.pools.pools = []source.Pool{{Name: "tank", State: "DEGRADED"}, {Name: "boot-pool", State: "ONLINE"}}
	f.check(t)

	list := listAlerts(t, h)
	require.Len(t, list, 1)
	a := list[0]
	assert.Equal(t, "VolumeStatus", a.Source)
	assert.Equal(t, "VolumeStatus", a.Klass)
	assert.Equal(t, "CRITICAL", a.Level)
	assert.Equal(t, "DEGRADED", a.Args["state"])
	assert.Equal(t, "tank", a.Args["volume"])
	assert.Equal(t, a.ID, a.UUID)
	assert.Equal(t, "STORAGE", a.Category)
	assert.False(t, a.OneShot)
	assert.Contains(t, a.Formatted, "Pool tank state is DEGRADED")
	assert.False(t, a.Dismissed)

	rr := do(t, h, http.MethodPost, api.Prefix+"/alert/dismiss/", `"`+a.ID+`"`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "null\n", rr.Body.String())
	assert.True(t, listAlerts(t, h)[0].Dismissed)

	// A re-check must not resurrect the alert as undismissed.
	f.check(t)
	assert.True(t, listAlerts(t, h)[0].Dismissed)

	rr = do(t, h, http.MethodPost, api.Prefix+"/alert/restore/", `"`+a.ID+`"`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, listAlerts(t, h)[0].Dismissed)

	f.pools.pools = []source.Pool{{Name: "tank", State: "ONLINE"}}
	f.check(t)
	assert.Empty(t, listAlerts(t, h))
}

func TestList_FilterByID(t *testing.T) {
	f := newFixture(t)
	f.pools.pools = []source.Pool{{Name: "a", State: "FAULTED"}, {Name: "b", State: "DEGRADED"}}
	f.check(t)

	all := listAlerts(t, f.handler)
	require.Len(t, all, 2)

	rr := get(t, f.handler, api.Prefix+"/alert/list/?id="+all[1].ID)
	var one []types.Alert
	decode(t, rr, &one)
	require.Len(t, one, 1)
	assert.Equal(t, all[1].ID, one[0].ID)

	rr = get(t, f.handler, api.Prefix+"/alert/list/?id=nope")
	var none []types.Alert
	decode(t, rr, &none)
	assert.Empty(t, none)
}

func TestDismissRestore_Errors(t *testing.T) {
	h := newFixture(t).handler

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"dismiss unknown", http.MethodPost, "/alert/dismiss/", `"missing"`, http.StatusNotFound},
		{"restore unknown", http.MethodPost, "/alert/restore/", `"missing"`, http.StatusNotFound},
		{"dismiss not a string", http.MethodPost, "/alert/dismiss/", `{"id": 1}`, http.StatusBadRequest},
		{"dismiss with GET", http.MethodGet, "/alert/dismiss/", "", http.StatusMethodNotAllowed},
		{"list with POST", http.MethodPost, "/alert/list/", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, tt.method, api.Prefix+tt.path, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status: got %d, want %d (body %s)", rr.Code, tt.want, rr.Body.String())
			}
			var e types.ErrorResponse
			decode(t, rr, &e)
			if e.Error == "" {
				t.Error("error body: missing message")
			}
		})
	}
}

func TestOneShotCreateDelete(t *testing.T) {
	h := newFixture(t).handler

	rr := do(t, h, http.MethodPost, api.Prefix+"/alert/oneshot_create/",
		`{"klass": "SMBShareLocked", "args": {"id": 4, "name": "media"}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var created types.Alert
	decode(t, rr, &created)
	assert.Equal(t, "4", created.Key)
	assert.True(t, created.OneShot)
	assert.Equal(t, "WARNING", created.Level)
	assert.Equal(t, `SMB "media" share operating on a locked resource. Please disable the share.`, created.Formatted)

	rr = do(t, h, http.MethodPost, api.Prefix+"/alert/oneshot_create/", `{"klass": "SMBShareLocked", "args": {"name": "x"}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "missing key arg")
	rr = do(t, h, http.MethodPost, api.Prefix+"/alert/oneshot_create/", `{"klass": "NoSuchClass", "args": {"id": 1}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "unknown class")
	rr = do(t, h, http.MethodPost, api.Prefix+"/alert/oneshot_create/", `{"klass": "VolumeStatus", "args": {"id": 1}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "not one-shot")
	rr = do(t, h, http.MethodPost, api.Prefix+"/alert/oneshot_create/", `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, api.Prefix+"/alert/oneshot_delete/", `{"klass": "SMBShareLocked", "query": 5}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, listAlerts(t, h), 1, "non-matching query deletes nothing")

	rr = do(t, h, http.MethodPost, api.Prefix+"/alert/oneshot_delete/", `{"klass": "SMBShareLocked", "query": 4}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "null\n", rr.Body.String())
	assert.Empty(t, listAlerts(t, h))
}

func TestOneShotLargeNumericKey(t *testing.T) {
	h := newFixture(t).handler

	rr := do(t, h, http.MethodPost, api.Prefix+"/alert/oneshot_create/",
		`{"klass": "SMBShareLocked", "args": {"id": 1234567, "name": "media"}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var created types.Alert
	decode(t, rr, &created)
	assert.Equal(t, "1234567", created.Key)

	rr = do(t, h, http.MethodPost, api.Prefix+"/alert/oneshot_delete/", `{"klass": "SMBShareLocked", "query": "1234567"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, listAlerts(t, h))
}

func TestDismissOneShotDeletes(t *testing.T) {
	h := newFixture(t).handler

	rr := do(t, h, http.MethodPost, api.Prefix+"/alert/oneshot_create/", `{"klass": "AFPShareLocked", "args": {"id": "x", "name": "n"}}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var created types.Alert
	decode(t, rr, &created)

	rr = do(t, h, http.MethodPost, api.Prefix+"/alert/dismiss/", `"`+created.ID+`"`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, listAlerts(t, h))
}

func TestListPoliciesAndCategories(t *testing.T) {
	f := newFixture(t)
	f.mgr.SetOverrides(map[string]alerts.Override{"VolumeStatus": {Level: alerts.LevelError, Policy: alerts.PolicyDaily}})

	rr := get(t, f.handler, api.Prefix+"/alert/list_policies/")
	var policies []string
	decode(t, rr, &policies)
	assert.Equal(t, []string{"IMMEDIATELY", "HOURLY", "DAILY", "NEVER"}, policies)

	rr = get(t, f.handler, api.Prefix+"/alert/list_categories/")
	var cats []types.Category
	decode(t, rr, &cats)
	byID := map[string]types.Category{}
	for _, c := range cats {
		byID[c.ID] = c
		assert.NotEmpty(t, c.Classes, "category %s listed without classes", c.ID)
	}
	assert.NotContains(t, byID, "HARDWARE")
	require.Contains(t, byID, "SHARING")
	assert.Equal(t, "Sharing", byID["SHARING"].Title)
	assert.ElementsMatch(t, []types.ClassRef{
		{ID: "AFPShareLocked", Title: "AFP Share Locked", Level: "WARNING"},
		{ID: "SMBShareLocked", Title: "SMB Share Locked", Level: "WARNING"},
	}, byID["SHARING"].Classes)
	assert.Equal(t, []types.ClassRef{{ID: "VolumeStatus", Title: "Pool Status Is Not Healthy", Level: "ERROR"}}, byID["STORAGE"].Classes)

	rr = get(t, f.handler, api.Prefix+"/alert/classes/")
	var classes []types.Class
	decode(t, rr, &classes)
	var vs types.Class
	for _, c := range classes {
		if c.ID == "VolumeStatus" {
			vs = c
		}
	}
	assert.Equal(t, types.Class{
		ID: "VolumeStatus", Category: "STORAGE", Title: "Pool Status Is Not Healthy",
		Level: "ERROR", Policy: "DAILY", DeletedAutomatically: true,
	}, vs)
}

func TestIdentityRoutes(t *testing.T) {
	h := newFixture(t).handler

	rr := get(t, h, api.Prefix+"/user/jdoe/")
	require.Equal(t, http.StatusOK, rr.Code)
	var u map[string]any
	decode(t, rr, &u)
	assert.Equal(t, "jdoe", u["name"])
	assert.Equal(t, "/home/jdoe", u["home"])
	assert.NotContains(t, u, "passwd")

	rr = get(t, h, api.Prefix+"/user/1001/")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = get(t, h, api.Prefix+"/user/nobody/")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = get(t, h, api.Prefix+"/group/20/")
	require.Equal(t, http.StatusOK, rr.Code)
	var g identity.Group
	decode(t, rr, &g)
	assert.Equal(t, []string{"jdoe"}, g.Members)

	rr = get(t, h, api.Prefix+"/user/")
	var users []identity.User
	decode(t, rr, &users)
	assert.Len(t, users, 1)

	rr = get(t, h, api.Prefix+"/group/")
	var groups []identity.Group
	decode(t, rr, &groups)
	assert.Len(t, groups, 1)

	rr = do(t, h, http.MethodDelete, api.Prefix+"/group/20/", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestIdentityRoutesDisabled(t *testing.T) {
	h := api.New(alerts.NewManager(store.NewMemory(), nil, nil), nil)
	assert.Equal(t, http.StatusNotFound, get(t, h, api.Prefix+"/user/").Code)
}
