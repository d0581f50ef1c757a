// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrr/internal/domain"
)

var (
	ruleTorrentParamsMinVersion = semver.MustParse("2.11.0")
	refreshItemMinVersion       = semver.MustParse("2.2.0")
	subcategoriesMinVersion     = semver.MustParse("2.9.0")
)

const (
	defaultTimeout         = 30 * time.Second
	minHealthCheckInterval = 20 * time.Second
)

// Config describes how to reach one qBittorrent WebUI.
type Config struct {
	Host          string
	Username      string
	Password      string
	BasicUser     string
	BasicPass     string
	TLSSkipVerify bool
	Timeout       time.Duration
}

func ConfigFromDomain(c domain.QBittorrentConfig) Config {
	timeout := time.Duration(c.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return Config{
		Host:          strings.TrimRight(strings.TrimSpace(c.Host), "/"),
		Username:      c.Username,
		Password:      c.Password,
		BasicUser:     c.BasicUser,
		BasicPass:     c.BasicPass,
		TLSSkipVerify: c.TLSSkipVerify,
		Timeout:       timeout,
	}
}

// Client wraps the go-qbittorrent client for torrent-side calls and carries
// an RSS client for the rule endpoints.
type Client struct {
	*qbt.Client
	rss *RSSClient
	cfg Config

	webAPIVersion             string
	appVersion                string
	supportsRuleTorrentParams bool
	supportsRefreshItem       bool
	supportsSubcategories     bool
	lastHealthCheck           time.Time
	isHealthy                 bool

	mu       sync.RWMutex
	healthMu sync.RWMutex
	log      zerolog.Logger
}

// NewClient logs in and loads the WebAPI capabilities.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("qBittorrent host is not configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	qbtClient := qbt.NewClient(qbt.Config{
		Host:          cfg.Host,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Timeout:       int(cfg.Timeout.Seconds()),
		TLSSkipVerify: cfg.TLSSkipVerify,
		BasicUser:     cfg.BasicUser,
		BasicPass:     cfg.BasicPass,
	})

	rss, err := NewRSSClient(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := qbtClient.LoginCtx(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to qBittorrent instance: %w", err)
	}

	client := &Client{
		Client: qbtClient,
		rss:    rss,
		cfg:    cfg,
		log:    log.With().Str("module", "qbittorrent").Str("host", cfg.Host).Logger(),
	}

	if err := client.RefreshCapabilities(ctx); err != nil {
		client.log.Warn().Err(err).Msg("Failed to refresh qBittorrent capabilities during client creation")
		client.updateHealthStatus(false)
	} else {
		client.updateHealthStatus(true)
	}

	client.log.Debug().
		Str("appVersion", client.GetAppVersion()).
		Str("webAPIVersion", client.GetWebAPIVersion()).
		Bool("supportsRuleTorrentParams", client.SupportsRuleTorrentParams()).
		Bool("tlsSkipVerify", cfg.TLSSkipVerify).
		Msg("qBittorrent client created successfully")

	return client, nil
}

// RSS exposes the rule and feed endpoints.
func (c *Client) RSS() *RSSClient {
	return c.rss
}

// RefreshCapabilities fetches the application and WebAPI versions and
// recalculates feature support flags.
func (c *Client) RefreshCapabilities(ctx context.Context) error {
	version, err := c.Client.GetWebAPIVersionCtx(ctx)
	if err != nil {
		return err
	}

	version = strings.TrimSpace(version)
	if version == "" {
		return fmt.Errorf("web API version is empty")
	}

	appVersion, err := c.Client.GetAppVersionCtx(ctx)
	if err != nil {
		return errors.Wrap(err, "get application version")
	}

	c.mu.Lock()
	c.appVersion = strings.TrimSpace(appVersion)
	c.applyCapabilitiesLocked(version)
	c.mu.Unlock()

	return nil
}

func (c *Client) applyCapabilitiesLocked(version string) {
	c.webAPIVersion = version

	v, err := semver.NewVersion(version)
	if err != nil {
		c.log.Warn().
			Str("webAPIVersion", version).
			Err(err).
			Msg("Failed to parse qBittorrent WebAPI version; leaving capability flags unchanged")
		return
	}

	c.supportsRuleTorrentParams = !v.LessThan(ruleTorrentParamsMinVersion)
	c.supportsRefreshItem = !v.LessThan(refreshItemMinVersion)
	c.supportsSubcategories = !v.LessThan(subcategoriesMinVersion)
}

func (c *Client) updateHealthStatus(healthy bool) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	c.isHealthy = healthy
	c.lastHealthCheck = time.Now()
}

func (c *Client) IsHealthy() bool {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.isHealthy
}

func (c *Client) GetLastHealthCheck() time.Time {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.lastHealthCheck
}

func (c *Client) HealthCheck(ctx context.Context) error {
	if c.IsHealthy() && time.Now().Add(-minHealthCheckInterval).Before(c.GetLastHealthCheck()) {
		return nil
	}

	if err := c.RefreshCapabilities(ctx); err != nil {
		c.updateHealthStatus(false)
		return errors.Wrap(err, "health check failed")
	}

	c.updateHealthStatus(true)
	return nil
}

func (c *Client) GetWebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

func (c *Client) GetAppVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.appVersion
}

// SupportsRuleTorrentParams reports whether setRule accepts torrentParams.
func (c *Client) SupportsRuleTorrentParams() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsRuleTorrentParams
}

func (c *Client) SupportsRefreshItem() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsRefreshItem
}

func (c *Client) SupportsSubcategories() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsSubcategories
}

// ConnectionInfo is what test-connection reports.
type ConnectionInfo struct {
	Host          string `json:"host"`
	AppVersion    string `json:"appVersion"`
	WebAPIVersion string `json:"webApiVersion"`
}

func (c *Client) ConnectionInfo() ConnectionInfo {
	return ConnectionInfo{
		Host:          c.cfg.Host,
		AppVersion:    c.GetAppVersion(),
		WebAPIVersion: c.GetWebAPIVersion(),
	}
}

// Categories returns the categories known to qBittorrent.
func (c *Client) Categories(ctx context.Context) (map[string]qbt.Category, error) {
	cats, err := c.Client.GetCategoriesCtx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get categories")
	}
	return cats, nil
}
