// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"sync"
	"time"

	"github.com/autobrr/qrr/internal/models"
	"github.com/autobrr/qrr/internal/rules"
)

// Remote connects on first use and reconnects after a failed health check.
// It is safe for concurrent use.
type Remote struct {
	mu     sync.Mutex
	cfg    Config
	client *Client
}

func NewRemote(cfg Config) *Remote {
	return &Remote{cfg: cfg}
}

// SetConfig drops the current connection; the next call uses cfg.
func (r *Remote) SetConfig(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.client = nil
}

// Client returns a healthy client, logging in when needed.
func (r *Remote) Client(ctx context.Context) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		if err := r.client.HealthCheck(ctx); err == nil {
			return r.client, nil
		}
		r.client.log.Debug().Msg("Reconnecting after failed health check")
		r.client = nil
	}

	c, err := NewClient(ctx, r.cfg)
	if err != nil {
		return nil, err
	}
	r.client = c
	return c, nil
}

func (r *Remote) Info(ctx context.Context) (ConnectionInfo, error) {
	c, err := r.Client(ctx)
	if err != nil {
		return ConnectionInfo{}, err
	}
	return c.ConnectionInfo(), nil
}

// FetchRules returns the remote rules as one JSON object.
func (r *Remote) FetchRules(ctx context.Context) ([]byte, error) {
	c, err := r.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c.RSS().RulesJSON(ctx)
}

// Snapshot fetches categories, feeds and rules.
func (r *Remote) Snapshot(ctx context.Context) (*Snapshot, error) {
	c, err := r.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c.Snapshot(ctx)
}

// Push sends defs and returns the run as it should be recorded.
func (r *Remote) Push(ctx context.Context, defs map[string]rules.Entry) (*models.PushRun, error) {
	c, err := r.Client(ctx)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	results := c.Push(ctx, defs)
	return HistoryRun(c.ConnectionInfo(), started, results), nil
}

// HistoryRun converts push results into a history record.
func HistoryRun(info ConnectionInfo, started time.Time, results []PushResult) *models.PushRun {
	run := &models.PushRun{
		Host:          info.Host,
		WebAPIVersion: info.WebAPIVersion,
		StartedAt:     started,
		FinishedAt:    time.Now(),
		Results:       make([]models.PushResult, 0, len(results)),
	}
	for _, res := range results {
		pr := models.PushResult{Rule: res.Name, Success: res.Err == nil}
		if res.Err != nil {
			pr.Error = res.Err.Error()
			run.Failed++
		}
		run.Results = append(run.Results, pr)
	}
	run.Total = len(results)
	return run
}
