// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

type Config struct {
	Version        string
	Host           string `toml:"host" mapstructure:"host"`
	Port           int    `toml:"port" mapstructure:"port"`
	BaseURL        string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel       string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath        string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize     int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups  int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir        string `toml:"dataDir" mapstructure:"dataDir"`
	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`

	// Rule defaults. Empty season/year mean "current season".
	Season           string `toml:"season" mapstructure:"season"`
	Year             string `toml:"year" mapstructure:"year"`
	SavePrefix       string `toml:"savePrefix" mapstructure:"savePrefix"`
	DefaultFeedURL   string `toml:"defaultFeedUrl" mapstructure:"defaultFeedUrl"`
	DefaultCategory  string `toml:"defaultCategory" mapstructure:"defaultCategory"`
	ReplacementChar  string `toml:"replacementChar" mapstructure:"replacementChar"`
	RecentFilesLimit int    `toml:"recentFilesLimit" mapstructure:"recentFilesLimit"`

	QBittorrent QBittorrentConfig `toml:"qbittorrent" mapstructure:"qbittorrent"`
	SubsPlease  SubsPleaseConfig  `toml:"subsplease" mapstructure:"subsplease"`
}

type QBittorrentConfig struct {
	Host          string `toml:"host" mapstructure:"host"`
	Username      string `toml:"username" mapstructure:"username"`
	Password      string `toml:"password" mapstructure:"password"`
	BasicUser     string `toml:"basicUser" mapstructure:"basicUser"`
	BasicPass     string `toml:"basicPass" mapstructure:"basicPass"`
	TLSSkipVerify bool   `toml:"tlsSkipVerify" mapstructure:"tlsSkipVerify"`
	// Timeout in seconds for each request.
	Timeout int `toml:"timeout" mapstructure:"timeout"`
}

type SubsPleaseConfig struct {
	URL       string `toml:"url" mapstructure:"url"`
	UserAgent string `toml:"userAgent" mapstructure:"userAgent"`
	Timeout   int    `toml:"timeout" mapstructure:"timeout"`
}
