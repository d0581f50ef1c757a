// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/qrr/internal/cache"
	"github.com/autobrr/qrr/internal/config"
	"github.com/autobrr/qrr/internal/domain"
	"github.com/autobrr/qrr/internal/models"
	"github.com/autobrr/qrr/internal/rules"
	"github.com/autobrr/qrr/internal/session"
)

type routeKey struct {
	Method string
	Path   string
}

var expectedRoutes = []routeKey{
	{Method: http.MethodGet, Path: "/health"},
	{Method: http.MethodGet, Path: "/api/titles"},
	{Method: http.MethodPost, Path: "/api/titles/import"},
	{Method: http.MethodPost, Path: "/api/titles/fetch"},
	{Method: http.MethodPost, Path: "/api/titles/prefix"},
	{Method: http.MethodPost, Path: "/api/titles/sanitize"},
	{Method: http.MethodGet, Path: "/api/titles/{category}/{index}"},
	{Method: http.MethodPatch, Path: "/api/titles/{category}/{index}"},
	{Method: http.MethodDelete, Path: "/api/titles/{category}/{index}"},
	{Method: http.MethodGet, Path: "/api/trash"},
	{Method: http.MethodDelete, Path: "/api/trash"},
	{Method: http.MethodPost, Path: "/api/trash/{id}/restore"},
	{Method: http.MethodGet, Path: "/api/rules/export"},
	{Method: http.MethodGet, Path: "/api/rules/check"},
	{Method: http.MethodPost, Path: "/api/rules/push"},
	{Method: http.MethodGet, Path: "/api/history"},
	{Method: http.MethodGet, Path: "/api/history/{id}"},
	{Method: http.MethodPost, Path: "/api/sanitize"},
	{Method: http.MethodGet, Path: "/api/subsplease"},
	{Method: http.MethodGet, Path: "/api/subsplease/match"},
	{Method: http.MethodPost, Path: "/api/preview"},
}

type fakeRemote struct {
	mu     sync.Mutex
	rules  []byte
	pushed map[string]rules.Entry
}

func (f *fakeRemote) FetchRules(context.Context) ([]byte, error) {
	return f.rules, nil
}

func (f *fakeRemote) Push(_ context.Context, defs map[string]rules.Entry) (*models.PushRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = defs

	run := &models.PushRun{Host: "http://qbt.local", Total: len(defs)}
	for name := range defs {
		run.Results = append(run.Results, models.PushResult{Rule: name, Success: true})
	}
	return run, nil
}

type fakeHistory struct {
	mu   sync.Mutex
	runs []*models.PushRun
}

func (f *fakeHistory) Create(_ context.Context, run *models.PushRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run.RunID = fmt.Sprintf("run-%d", len(f.runs)+1)
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeHistory) List(context.Context, int) ([]*models.PushRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs, nil
}

func (f *fakeHistory) Get(_ context.Context, runID string) (*models.PushRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, run := range f.runs {
		if run.RunID == runID {
			return run, nil
		}
	}
	return nil, models.ErrPushRunNotFound
}

type testServer struct {
	handler http.Handler
	remote  *fakeRemote
	history *fakeHistory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	s := session.New(rules.Options{
		Season:         "Winter",
		Year:           "2024",
		SavePrefix:     "/downloads/Anime/",
		DefaultFeedURL: "https://subsplease.org/rss/?r=1080",
	})
	t.Cleanup(s.Close)

	remote := &fakeRemote{rules: []byte(`{}`)}
	history := &fakeHistory{}

	server := NewServer(&Dependencies{
		Config: &config.AppConfig{
			Config: &domain.Config{BaseURL: "/"},
		},
		Version: "test",
		Session: s,
		Cache:   cache.New(filepath.Join(t.TempDir(), "cache.json"), cache.DefaultRecentLimit),
		Remote:  remote,
		History: history,
	})

	router, err := server.Handler()
	require.NoError(t, err)

	return &testServer{handler: router, remote: remote, history: history}
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestRoutesRegistered(t *testing.T) {
	ts := newTestServer(t)

	actual := collectRouterRoutes(t, ts.handler.(chi.Routes))

	expected := make(map[routeKey]struct{}, len(expectedRoutes))
	for _, route := range expectedRoutes {
		expected[route] = struct{}{}
	}

	if missing := diffRoutes(expected, actual); len(missing) > 0 {
		t.Fatalf("found %d routes without handlers:\n%s", len(missing), formatRoutes(missing))
	}
	if extra := diffRoutes(actual, expected); len(extra) > 0 {
		t.Fatalf("found %d unexpected routes:\n%s", len(extra), formatRoutes(extra))
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestImportExportPush(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/titles/import", "Frieren\nDandadan\nFrieren\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.EqualValues(t, 2, report["added"])
	assert.EqualValues(t, 1, report["duplicates"])

	rec = ts.do(t, http.MethodGet, "/api/rules/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-Export-Issues"))

	var defs map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &defs))
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"Winter 2024 - Dandadan", "Winter 2024 - Frieren"}, names)

	rec = ts.do(t, http.MethodPost, "/api/rules/push?force=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, ts.remote.pushed, 2)
	require.Len(t, ts.history.runs, 1)

	rec = ts.do(t, http.MethodGet, "/api/history/run-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/history/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportRejectsEmptyBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/titles/import", "   ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPushWithoutRules(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/rules/push?force=true", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, ts.remote.pushed)
}

func TestFetchEmptyRemote(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/titles/fetch", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body["remote"])
	assert.Equal(t, 0, body["added"])
}

func TestDeleteAndRestore(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/titles/import?prefix=false", "Frieren\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var titles map[string][]map[string]any
	rec = ts.do(t, http.MethodGet, "/api/titles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &titles))

	var category string
	for name, entries := range titles {
		if len(entries) > 0 {
			category = name
		}
	}
	require.NotEmpty(t, category)

	rec = ts.do(t, http.MethodDelete, "/api/titles/"+category+"/0", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var item session.TrashItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.NotEmpty(t, item.ID)

	rec = ts.do(t, http.MethodDelete, "/api/titles/"+category+"/5", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/trash/"+item.ID+"/restore", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/trash/unknown/restore", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateTitle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/titles/import?prefix=false", "Frieren\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var titles map[string][]map[string]any
	rec = ts.do(t, http.MethodGet, "/api/titles", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &titles))
	var category string
	for name, entries := range titles {
		if len(entries) > 0 {
			category = name
		}
	}
	require.NotEmpty(t, category)
	target := "/api/titles/" + category + "/0"

	rec = ts.do(t, http.MethodPatch, target, `{"lastMatch":"{broken"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPatch, target+"?force=true", `{"lastMatch":"{broken","savePath":"D:\\Anime\\Frieren","mustContain":"Sousou no Frieren"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "Sousou no Frieren", entry["mustContain"])
	assert.Equal(t, "D:/Anime/Frieren", entry["savePath"])
	assert.Equal(t, "{broken", entry["lastMatch"])

	rec = ts.do(t, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, `D:\Anime\Frieren`, view["savePathDisplay"])
	assert.Equal(t, "{broken", view["lastMatchText"])

	// a forced lastMatch does not block a push
	rec = ts.do(t, http.MethodPost, "/api/rules/push", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, ts.remote.pushed, "Frieren")

	rec = ts.do(t, http.MethodGet, "/api/titles/"+category+"/3", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/api/titles/"+category+"/3", `{"title":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPatch, target, `{"unknown":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateCategoryMirrorsTorrentParams(t *testing.T) {
	tests := []struct {
		name     string
		category string
	}{
		{name: "cleared", category: ""},
		{name: "changed", category: "tv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			rec := ts.do(t, http.MethodPost, "/api/titles/import?prefix=false",
				`{"Frieren":{"mustContain":"Frieren","assignedCategory":"old","torrentParams":{"category":"old"}}}`)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			body, err := json.Marshal(map[string]string{"assignedCategory": tt.category})
			require.NoError(t, err)
			rec = ts.do(t, http.MethodPatch, "/api/titles/anime/0", string(body))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			rec = ts.do(t, http.MethodGet, "/api/rules/export", "")
			require.Equal(t, http.StatusOK, rec.Code)

			var defs map[string]struct {
				Category      string `json:"assignedCategory"`
				TorrentParams struct {
					Category string `json:"category"`
				} `json:"torrentParams"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &defs))
			require.Contains(t, defs, "Frieren")
			assert.Equal(t, tt.category, defs["Frieren"].Category)
			assert.Equal(t, tt.category, defs["Frieren"].TorrentParams.Category)
		})
	}
}

func TestSanitizeEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/sanitize", `{"name":"Re:Zero?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["valid"])
	assert.NotContains(t, body["sanitized"], ":")
}

func collectRouterRoutes(t *testing.T, r chi.Routes) map[routeKey]struct{} {
	t.Helper()

	routes := make(map[routeKey]struct{})
	err := chi.Walk(r, func(method string, path string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		method = strings.ToUpper(method)
		if !isComparableMethod(method) {
			return nil
		}

		normalizedPath, ok := normalizeRoutePath(path)
		if !ok {
			return nil
		}

		routes[routeKey{Method: method, Path: normalizedPath}] = struct{}{}
		return nil
	})
	require.NoError(t, err)

	return routes
}

func normalizeRoutePath(path string) (string, bool) {
	if path == "" || strings.Contains(path, "/*") {
		return "", false
	}

	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	if path == "/metrics" {
		return "", false
	}

	return path, true
}

func isComparableMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func diffRoutes(left, right map[routeKey]struct{}) []routeKey {
	diff := make([]routeKey, 0)
	for route := range left {
		if _, exists := right[route]; !exists {
			diff = append(diff, route)
		}
	}

	sort.Slice(diff, func(i, j int) bool {
		if diff[i].Path == diff[j].Path {
			return diff[i].Method < diff[j].Method
		}
		return diff[i].Path < diff[j].Path
	})

	return diff
}

func formatRoutes(routes []routeKey) string {
	lines := make([]string, len(routes))
	for i, route := range routes {
		lines[i] = fmt.Sprintf("%s %s", route.Method, route.Path)
	}
	return strings.Join(lines, "\n")
}
