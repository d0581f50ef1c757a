// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/qrr/internal/domain"
	"github.com/autobrr/qrr/internal/foldername"
	"github.com/autobrr/qrr/internal/rules"
)

var envPrefix = "QRR__"

const (
	DefaultSubsPleaseURL = "https://subsplease.org/api/?f=schedule&tz=UTC"
	DefaultFeedURL       = "https://subsplease.org/rss/?r=1080"
)

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string

	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	// Environment wins over the file
	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version

	c.resolveDataDir()

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	host := "localhost"
	if detectContainer() {
		host = "0.0.0.0"
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", 7477)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "") // Empty means auto-detect (next to config file)
	c.viper.SetDefault("metricsEnabled", false)

	c.viper.SetDefault("season", "")
	c.viper.SetDefault("year", "")
	c.viper.SetDefault("savePrefix", "")
	c.viper.SetDefault("defaultFeedUrl", DefaultFeedURL)
	c.viper.SetDefault("defaultCategory", "")
	c.viper.SetDefault("replacementChar", "_")
	c.viper.SetDefault("recentFilesLimit", 10)

	c.viper.SetDefault("qbittorrent.host", "http://localhost:8080")
	c.viper.SetDefault("qbittorrent.username", "admin")
	c.viper.SetDefault("qbittorrent.password", "")
	c.viper.SetDefault("qbittorrent.basicUser", "")
	c.viper.SetDefault("qbittorrent.basicPass", "")
	c.viper.SetDefault("qbittorrent.tlsSkipVerify", false)
	c.viper.SetDefault("qbittorrent.timeout", 30)

	c.viper.SetDefault("subsplease.url", DefaultSubsPleaseURL)
	c.viper.SetDefault("subsplease.userAgent", "")
	c.viper.SetDefault("subsplease.timeout", 15)
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		c.viper.SetConfigName("config")
		c.viper.AddConfigPath(".")
		c.viper.AddConfigPath(GetDefaultConfigDir())

		if err := c.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
				if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
					return err
				}
				c.viper.SetConfigFile(defaultConfigPath)
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				c.dataDir = filepath.Dir(defaultConfigPath)
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	return nil
}

func (c *AppConfig) loadFromEnv() {
	// Bind explicitly instead of AutomaticEnv so unrelated variables never leak in.
	// Double underscore avoids clashes with orchestrator-injected *_PORT variables.
	c.viper.BindEnv("host", envPrefix+"HOST")
	c.viper.BindEnv("port", envPrefix+"PORT")
	c.viper.BindEnv("baseUrl", envPrefix+"BASE_URL")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")

	c.viper.BindEnv("season", envPrefix+"SEASON")
	c.viper.BindEnv("year", envPrefix+"YEAR")
	c.viper.BindEnv("savePrefix", envPrefix+"SAVE_PREFIX")
	c.viper.BindEnv("defaultFeedUrl", envPrefix+"DEFAULT_FEED_URL")
	c.viper.BindEnv("defaultCategory", envPrefix+"DEFAULT_CATEGORY")
	c.viper.BindEnv("replacementChar", envPrefix+"REPLACEMENT_CHAR")
	c.viper.BindEnv("recentFilesLimit", envPrefix+"RECENT_FILES_LIMIT")

	c.viper.BindEnv("qbittorrent.host", envPrefix+"QBITTORRENT_HOST")
	c.viper.BindEnv("qbittorrent.username", envPrefix+"QBITTORRENT_USERNAME")
	c.bindOrReadFromFile("qbittorrent.password", envPrefix+"QBITTORRENT_PASSWORD")
	c.viper.BindEnv("qbittorrent.basicUser", envPrefix+"QBITTORRENT_BASIC_USER")
	c.bindOrReadFromFile("qbittorrent.basicPass", envPrefix+"QBITTORRENT_BASIC_PASS")
	c.viper.BindEnv("qbittorrent.tlsSkipVerify", envPrefix+"QBITTORRENT_TLS_SKIP_VERIFY")
	c.viper.BindEnv("qbittorrent.timeout", envPrefix+"QBITTORRENT_TIMEOUT")

	c.viper.BindEnv("subsplease.url", envPrefix+"SUBSPLEASE_URL")
	c.viper.BindEnv("subsplease.userAgent", envPrefix+"SUBSPLEASE_USER_AGENT")
	c.viper.BindEnv("subsplease.timeout", envPrefix+"SUBSPLEASE_TIMEOUT")
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		c.applyDynamicChanges()
	})
}

func (c *AppConfig) applyDynamicChanges() {
	c.Config.Version = c.version
	c.ApplyLogConfig()

	c.notifyListeners()
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := *c.Config
	for _, listener := range listeners {
		listener(&copied)
	}
}

// RuleOptions builds the pipeline defaults from the current configuration.
// An empty season or year is taken from now.
func (c *AppConfig) RuleOptions(now time.Time) rules.Options {
	return RuleOptions(c.Config, now)
}

func RuleOptions(cfg *domain.Config, now time.Time) rules.Options {
	opts := rules.Options{
		Season:          strings.TrimSpace(cfg.Season),
		Year:            strings.TrimSpace(cfg.Year),
		SavePrefix:      strings.TrimSpace(cfg.SavePrefix),
		DefaultFeedURL:  strings.TrimSpace(cfg.DefaultFeedURL),
		DefaultCategory: strings.TrimSpace(cfg.DefaultCategory),
		Sanitize: foldername.Options{
			Replacement: foldername.ParseReplacement(cfg.ReplacementChar),
		},
	}
	return opts.WithCurrentSeason(now)
}

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	configTemplate := `# config.toml - Auto-generated on first run

# Hostname / IP for "qrr serve"
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port
# Default: 7477
port = {{ .port }}

# Base URL
# Set custom baseUrl eg /qrr/ to serve in subdirectory.
# Optional
#baseUrl = "/qrr/"

# Log file path
# If not defined, logs to stderr
# Optional
#logPath = "log/qrr.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: {{ .logMaxSize }}
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
# Default: {{ .logMaxBackups }}
#logMaxBackups = {{ .logMaxBackups }}

# Data directory (default: next to config file)
# Push history (qrr.db) and the cache (cache.json) live here
#dataDir = "/var/lib/qrr"

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Expose Prometheus metrics on /metrics of the API server
# Default: false
#metricsEnabled = false

# Season and year used for title prefixes and season folders
# Leave empty to follow the current anime season
#season = "Winter"
#year = "2025"

# Root folder for generated save paths
# Example: "/downloads/Anime" or 'D:\Anime'
#savePrefix = "/downloads/Anime"

# Feed assigned to rules that have none
defaultFeedUrl = "{{ .defaultFeedUrl }}"

# qBittorrent category assigned to rules that have none
#defaultCategory = "anime"

# Replaces characters that are not allowed in folder names
#replacementChar = "_"

# Number of recently imported files remembered in the cache
#recentFilesLimit = 10

[qbittorrent]
host = "{{ .qbtHost }}"
username = "{{ .qbtUsername }}"
# Prefer QRR__QBITTORRENT_PASSWORD or QRR__QBITTORRENT_PASSWORD_FILE
#password = ""
#basicUser = ""
#basicPass = ""
#tlsSkipVerify = false
#timeout = 30

[subsplease]
#url = "{{ .subspleaseUrl }}"
#userAgent = ""
#timeout = 15
`

	data := map[string]any{
		"host":           c.viper.GetString("host"),
		"port":           c.viper.GetInt("port"),
		"logLevel":       c.viper.GetString("logLevel"),
		"logMaxSize":     c.viper.GetInt("logMaxSize"),
		"logMaxBackups":  c.viper.GetInt("logMaxBackups"),
		"defaultFeedUrl": c.viper.GetString("defaultFeedUrl"),
		"qbtHost":        c.viper.GetString("qbittorrent.host"),
		"qbtUsername":    c.viper.GetString("qbittorrent.username"),
		"subspleaseUrl":  c.viper.GetString("subsplease.url"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		// Containers mount /config directly
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "qrr")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "qrr")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "qrr")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "qrr")
	}
}

func detectContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	if os.Getpid() == 1 {
		return true
	}
	return false
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer := c.baseLogWriter()

	if c.Config.LogPath != "" {
		multiWriter, err := setupLogFile(c.Config.LogPath, writer, c.Config.LogMaxSize, c.Config.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		writer.FormatMessage = func(i any) string {
			if i == nil {
				return ""
			}
			return strings.TrimSpace(fmt.Sprint(i))
		}
		return writer
	}
	return os.Stderr
}

func (c *AppConfig) baseLogWriter() io.Writer {
	return baseLogWriter(c.version)
}

// DefaultLogWriter returns the base log writer for the provided version.
func DefaultLogWriter(version string) io.Writer {
	return baseLogWriter(version)
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// CLI entry points call it before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(DefaultLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// ResolveConfigPath determines the config file path from a directory or file path.
func ResolveConfigPath(configDirOrPath string) string {
	if configDirOrPath == "" {
		return filepath.Join(GetDefaultConfigDir(), "config.toml")
	}

	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	return ResolveConfigPath(configDirOrPath)
}

func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

// GetDatabasePath returns the path to the push history database.
func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, "qrr.db")
}

// GetCachePath returns the path to the JSON cache file.
func (c *AppConfig) GetCachePath() string {
	return filepath.Join(c.dataDir, "cache.json")
}

// GetDataDir returns the resolved data directory path.
func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// GetConfigDir returns the directory containing the config file
func (c *AppConfig) GetConfigDir() string {
	if c.viper.ConfigFileUsed() != "" {
		return filepath.Dir(c.viper.ConfigFileUsed())
	}
	return GetDefaultConfigDir()
}

func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}

// bindOrReadFromFile sets viperVar from the file named by envVar_FILE when
// present, and binds envVar otherwise.
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) {
	envVarFile := envVar + "_FILE"
	if filePath := os.Getenv(envVarFile); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", filePath).Msg("Could not read " + envVarFile)
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
	} else {
		c.viper.BindEnv(viperVar, envVar)
	}
}
