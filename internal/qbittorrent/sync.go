// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/qrr/internal/rules"
)

const pushConcurrency = 4

// Snapshot is the remote state fetched in one refresh.
type Snapshot struct {
	Categories map[string]qbt.Category
	Feeds      json.RawMessage
	Rules      map[string]json.RawMessage
	FetchedAt  time.Time
}

// CategoryNames returns the sorted category names.
func (s *Snapshot) CategoryNames() []string {
	names := make([]string, 0, len(s.Categories))
	for name := range s.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RulesJSON re-encodes the rules as one object for normalization.
func (s *Snapshot) RulesJSON() ([]byte, error) {
	return json.Marshal(s.Rules)
}

// Snapshot fetches categories, feeds and rules in parallel.
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cats, err := c.Categories(gctx)
		if err != nil {
			return err
		}
		snap.Categories = cats
		return nil
	})

	g.Go(func() error {
		feeds, err := c.rss.Items(gctx, false)
		if err != nil {
			return errors.Wrap(err, "get rss feeds")
		}
		snap.Feeds = feeds
		return nil
	})

	g.Go(func() error {
		remote, err := c.rss.Rules(gctx)
		if err != nil {
			return errors.Wrap(err, "get rss rules")
		}
		snap.Rules = remote
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap.FetchedAt = time.Now()
	c.log.Debug().
		Int("categories", len(snap.Categories)).
		Int("rules", len(snap.Rules)).
		Msg("Fetched qBittorrent snapshot")
	return snap, nil
}

// PushResult is the outcome of one setRule call.
type PushResult struct {
	Name string
	Err  error
}

// RuleSetter is the part of the RSS client Push needs.
type RuleSetter interface {
	SetRule(ctx context.Context, name string, def []byte) error
}

// PushRules sends every rule, sorted by name. A failed rule does not stop the
// others. Rules that fail ValidateRule are reported without being sent. Torrent
// parameters are dropped when the server cannot accept them.
func PushRules(ctx context.Context, setter RuleSetter, defs map[string]rules.Entry, withTorrentParams bool) []PushResult {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]PushResult, len(names))

	var g errgroup.Group
	g.SetLimit(pushConcurrency)

	for i, name := range names {
		results[i].Name = name
		entry := defs[name]
		if !withTorrentParams {
			entry.TorrentParams = nil
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			if err := rules.ValidateRule(entry); err != nil {
				results[i].Err = errors.Wrapf(err, "invalid rule %q", name)
				return nil
			}
			def, err := json.Marshal(entry)
			if err != nil {
				results[i].Err = errors.Wrapf(err, "encode rule %q", name)
				return nil
			}
			results[i].Err = setter.SetRule(ctx, name, def)
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// Push sends defs to this server.
func (c *Client) Push(ctx context.Context, defs map[string]rules.Entry) []PushResult {
	results := PushRules(ctx, c.rss, defs, c.SupportsRuleTorrentParams())

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			c.log.Warn().Err(r.Err).Str("rule", r.Name).Msg("Failed to push rule")
		}
	}
	c.log.Info().Int("pushed", len(results)-failed).Int("failed", failed).Msg("Pushed RSS rules")
	return results
}
