package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pmslens/api/internal/auth"
	"pmslens/api/internal/lens"
	"pmslens/api/internal/listing"
)

func readSnapshot(t *testing.T, server *HTTPServer, id, role string) ViewSnapshot {
	t.Helper()
	snap, ok := fetchSnapshot(server, id, tokenFor(t, role))
	require.True(t, ok, "view %s unavailable", id)
	return snap
}

// fetchSnapshot is safe to call from require.Eventually conditions.
func fetchSnapshot(server *HTTPServer, id, token string) (ViewSnapshot, bool) {
	req := httptest.NewRequest(http.MethodGet, "/api/views/"+id, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Scope-ID", "Y1")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	var snap ViewSnapshot
	if rr.Code != http.StatusOK || json.Unmarshal(rr.Body.Bytes(), &snap) != nil {
		return ViewSnapshot{}, false
	}
	return snap, true
}

func TestViewRestoresSelectionFromAddress(t *testing.T) {
	server, _ := newTestServer(t, true)
	token := tokenFor(t, "engineer")

	rr := doRequest(t, server, http.MethodPost, "/api/views", "engineer", []byte(`{"address":"/work-orders/wo-1?filter=WO"}`))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created ViewSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, "wo-1", created.Selection.ID)
	require.Equal(t, "WO", created.Selection.Filter)
	require.Equal(t, "/work-orders/wo-1?filter=WO", created.Address)

	require.Eventually(t, func() bool {
		snap, _ := fetchSnapshot(server, created.ID, token)
		return snap.List.State == listing.StateReady && snap.Lens != nil && snap.Lens.State == lens.StateReady
	}, 2*time.Second, 10*time.Millisecond)

	snap := readSnapshot(t, server, created.ID, "engineer")
	require.Equal(t, listing.SourceSearch, snap.List.Source)
	require.Equal(t, "WO-2026-001", snap.Lens.Header.Identifier)
}

func TestViewIntentsDriveListAndLens(t *testing.T) {
	server, _ := newTestServer(t, true)
	token := tokenFor(t, "engineer")

	rr := doRequest(t, server, http.MethodPost, "/api/views", "engineer", []byte(`{"resource":"work-orders"}`))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created ViewSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	require.Eventually(t, func() bool {
		snap, _ := fetchSnapshot(server, created.ID, token)
		return snap.List.State == listing.StateReady && len(snap.List.Items) == 2
	}, 2*time.Second, 10*time.Millisecond)

	intent := func(body string) ViewSnapshot {
		rr := doRequest(t, server, http.MethodPost, "/api/views/"+created.ID+"/intents", "engineer", []byte(body))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var snap ViewSnapshot
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
		return snap
	}

	snap := intent(`{"intent":"filter","text":"002"}`)
	require.Equal(t, "/work-orders?filter=002", snap.Address)
	require.Eventually(t, func() bool {
		snap, _ := fetchSnapshot(server, created.ID, token)
		return snap.List.Source == listing.SourceSearch && snap.List.State == listing.StateReady && len(snap.List.Items) == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap = intent(`{"intent":"select","id":"wo-2"}`)
	require.True(t, strings.HasPrefix(snap.Address, "/work-orders/wo-2"))
	require.Eventually(t, func() bool {
		snap, _ := fetchSnapshot(server, created.ID, token)
		return snap.Lens != nil && snap.Lens.State == lens.StateReady && snap.Lens.Header.Identifier == "WO-2026-002"
	}, 2*time.Second, 10*time.Millisecond)

	snap = intent(`{"intent":"dispatch","action":"add_wo_note","payload":{"note_text":"Checked seals"}}`)
	require.NotNil(t, snap.Result)
	require.True(t, snap.Result.Success)

	rr = doRequest(t, server, http.MethodPost, "/api/views/"+created.ID+"/intents", "engineer", []byte(`{"intent":"teleport"}`))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestViewBelongsToItsSession(t *testing.T) {
	server, _ := newTestServer(t, true)

	rr := doRequest(t, server, http.MethodPost, "/api/views", "engineer", []byte(`{"address":"/work-orders"}`))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created ViewSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	// Different token, same scope.
	rr = doRequest(t, server, http.MethodGet, "/api/views/"+created.ID, "captain", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = doRequest(t, server, http.MethodPost, "/api/views", "engineer", []byte(`{"address":"/boats"}`))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestViewRegistrySweepsIdleViews(t *testing.T) {
	server, _ := newTestServer(t, true)
	registry := server.service.views
	sess := auth.Session{Token: "tok", ScopeID: "Y1"}

	view, err := registry.Create(sess, "/faults")
	require.NoError(t, err)
	require.Equal(t, 1, registry.Len())

	require.Equal(t, 0, registry.Sweep(time.Now()))
	require.Equal(t, 1, registry.Sweep(time.Now().Add(2*time.Minute)))
	require.Equal(t, 0, registry.Len())

	_, err = registry.Get(sess, view.id)
	require.ErrorIs(t, err, errUnknownView)
}

func TestViewRequiresSession(t *testing.T) {
	server, _ := newTestServer(t, true)
	rr := doRequest(t, server, http.MethodPost, "/api/views", "", []byte(`{"address":"/work-orders"}`))
	require.Equal(t, http.StatusUnauthorized, rr.Code, rr.Body.String())
	require.Zero(t, server.service.views.Len())
}

func TestViewRegistryCapsViewsPerBearer(t *testing.T) {
	server, _ := newTestServer(t, true)
	registry := server.service.views
	registry.maxViews = 2

	clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	server.service.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	alice := auth.Session{Token: "alice", ScopeID: "Y1"}
	bob := auth.Session{Token: "bob", ScopeID: "Y1"}

	first, err := registry.Create(alice, "/faults")
	require.NoError(t, err)
	_, err = registry.Create(bob, "/faults")
	require.NoError(t, err)
	second, err := registry.Create(alice, "/faults")
	require.NoError(t, err)
	third, err := registry.Create(alice, "/faults")
	require.NoError(t, err)

	require.Equal(t, 3, registry.Len())
	_, err = registry.Get(alice, first.id)
	require.ErrorIs(t, err, errUnknownView)
	for _, v := range []*View{second, third} {
		_, err = registry.Get(alice, v.id)
		require.NoError(t, err)
	}
}
