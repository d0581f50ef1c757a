// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"

	"github.com/autobrr/qrr/internal/buildinfo"
)

const (
	endpointLogin      = "/api/v2/auth/login"
	endpointRules      = "/api/v2/rss/rules"
	endpointItems      = "/api/v2/rss/items"
	endpointSetRule    = "/api/v2/rss/setRule"
	endpointRemoveRule = "/api/v2/rss/removeRule"
	endpointAddFeed    = "/api/v2/rss/addFeed"
	endpointRefresh    = "/api/v2/rss/refreshItem"

	maxResponseBytes = 32 << 20
)

var ErrLoginFailed = errors.New("qBittorrent login failed")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Endpoint, e.StatusCode, body)
}

// RSSClient talks to the qBittorrent RSS endpoints using a cookie session.
type RSSClient struct {
	base     *url.URL
	http     *http.Client
	cfg      Config
	attempts uint
	delay    time.Duration

	mu       sync.Mutex
	loggedIn bool
	log      zerolog.Logger
}

func NewRSSClient(cfg Config) (*RSSClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.Host, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse qBittorrent host: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("qBittorrent host %q must include scheme and host", cfg.Host)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // user opted in
	}

	return &RSSClient{
		base:     base,
		http:     &http.Client{Jar: jar, Timeout: timeout, Transport: transport},
		cfg:      cfg,
		attempts: 3,
		delay:    500 * time.Millisecond,
		log:      log.With().Str("module", "qbittorrent-rss").Str("host", base.Host).Logger(),
	}, nil
}

// SetRetry overrides the retry policy.
func (c *RSSClient) SetRetry(attempts uint, delay time.Duration) {
	if attempts == 0 {
		attempts = 1
	}
	c.attempts = attempts
	c.delay = delay
}

// Login starts a session. qBittorrent answers 200 with "Fails." on bad credentials.
func (c *RSSClient) Login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)

	body, status, err := c.send(ctx, http.MethodPost, endpointLogin, form)
	if err != nil {
		return err
	}
	if status == http.StatusForbidden {
		return errors.Wrap(ErrLoginFailed, "client IP banned after too many failed attempts")
	}
	if status != http.StatusOK {
		return &StatusError{Endpoint: endpointLogin, StatusCode: status, Body: string(body)}
	}
	if strings.TrimSpace(string(body)) == "Fails." {
		return errors.Wrap(ErrLoginFailed, "bad credentials")
	}

	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
	return nil
}

func (c *RSSClient) ensureLogin(ctx context.Context) error {
	c.mu.Lock()
	ok := c.loggedIn
	c.mu.Unlock()
	if ok {
		return nil
	}
	return c.Login(ctx)
}

func (c *RSSClient) send(ctx context.Context, method, endpoint string, form url.Values) ([]byte, int, error) {
	u := c.base.JoinPath(endpoint)

	var body io.Reader
	if method == http.MethodGet {
		u.RawQuery = form.Encode()
	} else {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	req.Header.Set("Referer", c.base.String())
	if c.cfg.BasicUser != "" {
		req.SetBasicAuth(c.cfg.BasicUser, c.cfg.BasicPass)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	return data, resp.StatusCode, nil
}

// call performs an authenticated request. Network errors and 5xx responses
// are retried; a 403 triggers one re-login; other 4xx responses fail at once.
func (c *RSSClient) call(ctx context.Context, method, endpoint string, form url.Values) ([]byte, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}

	relogged := false
	var out []byte

	err := retry.Do(
		func() error {
			body, status, err := c.send(ctx, method, endpoint, form)
			if err != nil {
				if ctx.Err() != nil {
					return retry.Unrecoverable(ctx.Err())
				}
				return err
			}

			switch {
			case status == http.StatusForbidden && !relogged:
				relogged = true
				c.log.Debug().Str("endpoint", endpoint).Msg("Session expired, logging in again")
				c.mu.Lock()
				c.loggedIn = false
				c.mu.Unlock()
				if err := c.Login(ctx); err != nil {
					return retry.Unrecoverable(err)
				}
				return &StatusError{Endpoint: endpoint, StatusCode: status, Body: string(body)}
			case status >= 500:
				return &StatusError{Endpoint: endpoint, StatusCode: status, Body: string(body)}
			case status >= 400:
				return retry.Unrecoverable(&StatusError{Endpoint: endpoint, StatusCode: status, Body: string(body)})
			}

			out = body
			return nil
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug().Err(err).Uint("attempt", n+1).Str("endpoint", endpoint).Msg("Retrying qBittorrent request")
		}),
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Rules returns the remote auto-download rules keyed by name, each kept as
// the raw JSON qBittorrent sent.
func (c *RSSClient) Rules(ctx context.Context) (map[string]json.RawMessage, error) {
	body, err := c.call(ctx, http.MethodGet, endpointRules, nil)
	if err != nil {
		return nil, err
	}
	rules := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(body)) == 0 {
		return rules, nil
	}
	if err := json.Unmarshal(body, &rules); err != nil {
		return nil, fmt.Errorf("decode rss rules: %w", err)
	}
	return rules, nil
}

// RulesJSON returns the rules response body unmodified.
func (c *RSSClient) RulesJSON(ctx context.Context) ([]byte, error) {
	return c.call(ctx, http.MethodGet, endpointRules, nil)
}

// Items returns the feed tree. withData includes articles.
func (c *RSSClient) Items(ctx context.Context, withData bool) (json.RawMessage, error) {
	form := url.Values{}
	form.Set("withData", fmt.Sprint(withData))
	body, err := c.call(ctx, http.MethodGet, endpointItems, form)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("decode rss items: invalid JSON")
	}
	return json.RawMessage(body), nil
}

// SetRule creates or replaces the rule named name.
func (c *RSSClient) SetRule(ctx context.Context, name string, def []byte) error {
	form := url.Values{}
	form.Set("ruleName", name)
	form.Set("ruleDef", string(def))
	_, err := c.call(ctx, http.MethodPost, endpointSetRule, form)
	return err
}

func (c *RSSClient) RemoveRule(ctx context.Context, name string) error {
	form := url.Values{}
	form.Set("ruleName", name)
	_, err := c.call(ctx, http.MethodPost, endpointRemoveRule, form)
	return err
}

// AddFeed subscribes to feedURL. path is the optional folder\name location.
func (c *RSSClient) AddFeed(ctx context.Context, feedURL, path string) error {
	form := url.Values{}
	form.Set("url", feedURL)
	if path != "" {
		form.Set("path", path)
	}
	_, err := c.call(ctx, http.MethodPost, endpointAddFeed, form)
	return err
}

func (c *RSSClient) RefreshItem(ctx context.Context, itemPath string) error {
	form := url.Values{}
	form.Set("itemPath", itemPath)
	_, err := c.call(ctx, http.MethodPost, endpointRefresh, form)
	return err
}

// FeedURLs flattens an items tree into the URLs of every feed in it.
func FeedURLs(items json.RawMessage) []string {
	var tree map[string]json.RawMessage
	if err := json.Unmarshal(items, &tree); err != nil {
		return nil
	}
	var urls []string
	collectFeedURLs(tree, &urls)
	sort.Strings(urls)
	return urls
}

func collectFeedURLs(tree map[string]json.RawMessage, urls *[]string) {
	for _, raw := range tree {
		var node map[string]json.RawMessage
		if err := json.Unmarshal(raw, &node); err != nil {
			continue
		}
		if u, ok := node["url"]; ok {
			var s string
			if json.Unmarshal(u, &s) == nil && s != "" {
				*urls = append(*urls, s)
			}
			continue
		}
		collectFeedURLs(node, urls)
	}
}
