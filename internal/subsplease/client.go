// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package subsplease reads the public SubsPlease release schedule and matches
// local titles against it.
package subsplease

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrr/internal/buildinfo"
	"github.com/autobrr/qrr/internal/domain"
)

const (
	DefaultURL     = "https://subsplease.org/api/?f=schedule&tz=UTC"
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 4 << 20
)

var ErrNoTitles = errors.New("no titles found in schedule")

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	url       string
	userAgent string
	http      HTTPClient
	attempts  uint
	log       zerolog.Logger
}

func NewClient(cfg domain.SubsPleaseConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return NewClientWithHTTP(cfg, &http.Client{Timeout: timeout})
}

func NewClientWithHTTP(cfg domain.SubsPleaseConfig, httpClient HTTPClient) *Client {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		u = DefaultURL
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = buildinfo.UserAgent
	}
	return &Client{
		url:       u,
		userAgent: ua,
		http:      httpClient,
		attempts:  2,
		log:       log.With().Str("module", "subsplease").Logger(),
	}
}

type schedule struct {
	Schedule map[string][]struct {
		Title string `json:"title"`
	} `json:"schedule"`
}

// Schedule fetches every distinct show title on the schedule, sorted.
func (c *Client) Schedule(ctx context.Context) ([]string, error) {
	var body []byte

	err := retry.Do(
		func() error {
			b, err := c.get(ctx)
			if err != nil {
				return err
			}
			body = b
			return nil
		},
		retry.Attempts(c.attempts),
		retry.Delay(time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, errors.Wrap(err, "fetch subsplease schedule")
	}

	titles, err := ParseSchedule(body)
	if err != nil {
		return nil, err
	}
	c.log.Info().Int("titles", len(titles)).Msg("Fetched SubsPlease schedule")
	return titles, nil
}

func (c *Client) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return nil, retry.Unrecoverable(err)
		}
		return nil, err
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// ParseSchedule extracts titles from a schedule API response.
func ParseSchedule(data []byte) ([]string, error) {
	var s schedule
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "invalid schedule response")
	}
	if s.Schedule == nil {
		return nil, errors.New("invalid schedule response: missing schedule")
	}

	seen := map[string]struct{}{}
	titles := []string{}
	for _, shows := range s.Schedule {
		for _, show := range shows {
			t := strings.TrimSpace(show.Title)
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			titles = append(titles, t)
		}
	}
	if len(titles) == 0 {
		return nil, ErrNoTitles
	}
	sort.Strings(titles)
	return titles, nil
}
