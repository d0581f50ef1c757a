// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package feedpreview fetches an RSS feed and reports which articles a rule
// would download.
package feedpreview

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/moistari/rls"

	"github.com/autobrr/qrr/internal/buildinfo"
	"github.com/autobrr/qrr/internal/rules"
)

const maxFeedBytes = 5 << 20

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Fetcher struct {
	client HTTPClient
}

func NewFetcher(client HTTPClient) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{client: client}
}

// Fetch downloads and parses the feed at url.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// Release is what the release parser made of an article title.
type Release struct {
	Title      string `json:"title"`
	Series     int    `json:"series,omitempty"`
	Episode    int    `json:"episode,omitempty"`
	Group      string `json:"group,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

func ParseRelease(title string) Release {
	r := rls.ParseString(title)
	return Release{
		Title:      r.Title,
		Series:     r.Series,
		Episode:    r.Episode,
		Group:      r.Group,
		Resolution: r.Resolution,
	}
}

type Item struct {
	Title     string     `json:"title"`
	Link      string     `json:"link,omitempty"`
	Published *time.Time `json:"published,omitempty"`
	Matched   bool       `json:"matched"`
	Release   Release    `json:"release"`
}

// Report lists every article of a feed and whether the rule matches it.
type Report struct {
	Rule      string `json:"rule"`
	FeedURL   string `json:"feedUrl"`
	FeedTitle string `json:"feedTitle"`
	// Affected is false when the rule is not attached to this feed.
	Affected bool   `json:"affected"`
	Enabled  bool   `json:"enabled"`
	Items    []Item `json:"items"`
}

// Matched returns only the matching articles.
func (r *Report) Matched() []Item {
	var out []Item
	for _, it := range r.Items {
		if it.Matched {
			out = append(out, it)
		}
	}
	return out
}

// Evaluate checks feed articles against e.
func Evaluate(e rules.Entry, feedURL string, feed *gofeed.Feed) (*Report, error) {
	m, err := Compile(e)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Rule:     e.DisplayTitle(),
		FeedURL:  feedURL,
		Affected: slices.Contains(e.AffectedFeeds, feedURL),
		Enabled:  e.IsEnabled(),
		Items:    make([]Item, 0, len(feed.Items)),
	}
	report.FeedTitle = feed.Title

	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		report.Items = append(report.Items, Item{
			Title:     it.Title,
			Link:      it.Link,
			Published: it.PublishedParsed,
			Matched:   m.Match(it.Title),
			Release:   ParseRelease(it.Title),
		})
	}
	return report, nil
}

// Preview fetches feedURL and evaluates e against it.
func (f *Fetcher) Preview(ctx context.Context, e rules.Entry, feedURL string) (*Report, error) {
	feed, err := f.Fetch(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	return Evaluate(e, feedURL, feed)
}
