// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	t *testing.T

	mu        sync.Mutex
	logins    int
	sid       string
	setRules  map[string]string
	failNext  map[string][]int
	rulesBody string
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	f := &fakeServer{
		t:         t,
		setRules:  map[string]string{},
		failNext:  map[string][]int{},
		rulesBody: `{"Frieren":{"mustContain":"Frieren","enabled":true}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == endpointLogin {
		require.NoError(f.t, r.ParseForm())
		if r.PostForm.Get("password") != "secret" {
			_, _ = w.Write([]byte("Fails."))
			return
		}
		f.logins++
		f.sid = "sid-" + string(rune('0'+f.logins))
		http.SetCookie(w, &http.Cookie{Name: "SID", Value: f.sid, Path: "/"})
		_, _ = w.Write([]byte("Ok."))
		return
	}

	if codes := f.failNext[r.URL.Path]; len(codes) > 0 {
		f.failNext[r.URL.Path] = codes[1:]
		w.WriteHeader(codes[0])
		_, _ = w.Write([]byte("nope"))
		return
	}

	cookie, err := r.Cookie("SID")
	if err != nil || cookie.Value != f.sid {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	switch r.URL.Path {
	case endpointRules:
		_, _ = w.Write([]byte(f.rulesBody))
	case endpointItems:
		_, _ = w.Write([]byte(`{"Anime":{"SubsPlease":{"uid":"1","url":"https://subsplease.org/rss/?r=1080"}},"Other":{"uid":"2","url":"https://example.org/feed"}}`))
	case endpointSetRule:
		require.NoError(f.t, r.ParseForm())
		f.setRules[r.PostForm.Get("ruleName")] = r.PostForm.Get("ruleDef")
	case endpointAddFeed:
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("Feed already exists"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestRSSClient(t *testing.T, host, password string) *RSSClient {
	t.Helper()
	c, err := NewRSSClient(Config{Host: host, Username: "admin", Password: password, Timeout: 5 * time.Second})
	require.NoError(t, err)
	c.SetRetry(3, time.Millisecond)
	return c
}

func TestNewRSSClientRejectsBareHost(t *testing.T) {
	_, err := NewRSSClient(Config{Host: "localhost:8080"})
	require.Error(t, err)
}

func TestRSSLogin(t *testing.T) {
	_, srv := newFakeServer(t)

	t.Run("bad credentials", func(t *testing.T) {
		c := newTestRSSClient(t, srv.URL, "wrong")
		err := c.Login(context.Background())
		require.ErrorIs(t, err, ErrLoginFailed)
	})

	t.Run("rules after login", func(t *testing.T) {
		c := newTestRSSClient(t, srv.URL, "secret")
		remote, err := c.Rules(context.Background())
		require.NoError(t, err)
		require.Contains(t, remote, "Frieren")
		assert.JSONEq(t, `{"mustContain":"Frieren","enabled":true}`, string(remote["Frieren"]))
	})
}

func TestRSSReloginOnForbidden(t *testing.T) {
	f, srv := newFakeServer(t)
	c := newTestRSSClient(t, srv.URL, "secret")
	ctx := context.Background()

	require.NoError(t, c.Login(ctx))

	// Server-side session expiry.
	f.mu.Lock()
	f.sid = "expired"
	f.mu.Unlock()

	_, err := c.Rules(ctx)
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 2, f.logins)
}

func TestRSSRetriesServerErrors(t *testing.T) {
	f, srv := newFakeServer(t)
	c := newTestRSSClient(t, srv.URL, "secret")

	f.failNext[endpointRules] = []int{http.StatusBadGateway, http.StatusServiceUnavailable}

	_, err := c.Rules(context.Background())
	require.NoError(t, err)
}

func TestRSSGivesUpAfterAttempts(t *testing.T) {
	f, srv := newFakeServer(t)
	c := newTestRSSClient(t, srv.URL, "secret")

	f.failNext[endpointRules] = []int{500, 500, 500, 500}

	_, err := c.Rules(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}

func TestRSSClientErrorIsNotRetried(t *testing.T) {
	f, srv := newFakeServer(t)
	c := newTestRSSClient(t, srv.URL, "secret")

	err := c.AddFeed(context.Background(), "https://subsplease.org/rss/?r=1080", "")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusConflict, statusErr.StatusCode)
	assert.Contains(t, statusErr.Error(), "Feed already exists")

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1, f.logins)
}

func TestRSSSetRule(t *testing.T) {
	f, srv := newFakeServer(t)
	c := newTestRSSClient(t, srv.URL, "secret")

	require.NoError(t, c.SetRule(context.Background(), "Frieren", []byte(`{"enabled":true}`)))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, `{"enabled":true}`, f.setRules["Frieren"])
}

func TestFeedURLs(t *testing.T) {
	_, srv := newFakeServer(t)
	c := newTestRSSClient(t, srv.URL, "secret")

	items, err := c.Items(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.org/feed", "https://subsplease.org/rss/?r=1080"}, FeedURLs(items))
	assert.Empty(t, FeedURLs(json.RawMessage(`[]`)))
}

type recordingSetter struct {
	mu    sync.Mutex
	defs  map[string]string
	fail  string
	calls atomic.Int32
}

func (r *recordingSetter) SetRule(_ context.Context, name string, def []byte) error {
	r.calls.Add(1)
	if name == r.fail {
		return errors.New("boom")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[name] = string(def)
	return nil
}
