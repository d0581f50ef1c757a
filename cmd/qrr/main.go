// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/autobrr/qrr/internal/api"
	"github.com/autobrr/qrr/internal/buildinfo"
	"github.com/autobrr/qrr/internal/cache"
	"github.com/autobrr/qrr/internal/config"
	"github.com/autobrr/qrr/internal/database"
	"github.com/autobrr/qrr/internal/domain"
	"github.com/autobrr/qrr/internal/feedpreview"
	"github.com/autobrr/qrr/internal/metrics"
	"github.com/autobrr/qrr/internal/models"
	"github.com/autobrr/qrr/internal/qbittorrent"
	"github.com/autobrr/qrr/internal/session"
	"github.com/autobrr/qrr/internal/subsplease"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "qrr",
		Short: "Curate qBittorrent RSS download rules",
		Long: `qrr - turns title lists in any common layout into a clean
qBittorrent RSS auto-download rules file, and keeps it in sync with qBittorrent.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunImportCommand())
	rootCmd.AddCommand(RunExportCommand())
	rootCmd.AddCommand(RunValidateCommand())
	rootCmd.AddCommand(RunSanitizeCommand())
	rootCmd.AddCommand(RunFetchCommand())
	rootCmd.AddCommand(RunPushCommand())
	rootCmd.AddCommand(RunTestConnectionCommand())
	rootCmd.AddCommand(RunRefreshCommand())
	rootCmd.AddCommand(RunFeedsCommand())
	rootCmd.AddCommand(RunSubsPleaseCommand())
	rootCmd.AddCommand(RunPreviewCommand())
	rootCmd.AddCommand(RunHistoryCommand())
	rootCmd.AddCommand(RunRecentCommand())
	rootCmd.AddCommand(RunPrefsCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.String()))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configFlags are shared by every command that reads the configuration.
type configFlags struct {
	configDir string
	dataDir   string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "",
		"data directory path (defaults to next to config file)")
}

func (f *configFlags) load() (*config.AppConfig, error) {
	cfg, err := config.New(f.configDir, buildinfo.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}
	if f.dataDir != "" {
		cfg.SetDataDir(f.dataDir)
	}
	cfg.ApplyLogConfig()
	return cfg, nil
}

func openCache(cfg *config.AppConfig) *cache.Store {
	return cache.New(cfg.GetCachePath(), cfg.Config.RecentFilesLimit)
}

// qbittorrentConfig prompts for the password when a username is set without one.
func qbittorrentConfig(cfg *config.AppConfig) (qbittorrent.Config, error) {
	qcfg := qbittorrent.ConfigFromDomain(cfg.Config.QBittorrent)
	if qcfg.Host == "" {
		return qcfg, errors.New("qbittorrent.host is not configured")
	}
	if qcfg.Username != "" && qcfg.Password == "" {
		password, err := readPassword(fmt.Sprintf("Password for %s@%s: ", qcfg.Username, qcfg.Host))
		if err != nil {
			return qcfg, err
		}
		qcfg.Password = password
	}
	return qcfg, nil
}

func RunServeCommand() *cobra.Command {
	var (
		flags     configFlags
		logPath   string
		pprofFlag bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
	}

	flags.register(command)
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVar(&pprofFlag, "pprof", false, "enable pprof server on :6060")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(flags.configDir, flags.dataDir, logPath, pprofFlag)
		app.runServer()
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of qrr",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/qrr/config.toml
- Windows: %APPDATA%\qrr\config.toml

You can specify either a directory path or a direct file path:
- Directory: qrr generate-config --config-dir /path/to/config/
- File: qrr generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				configPath = filepath.Join(config.GetDefaultConfigDir(), "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func readPassword(prompt string) (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print(prompt)
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(password), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	var password string
	if _, err := fmt.Scanln(&password); err != nil {
		return "", fmt.Errorf("failed to read password from stdin: %w", err)
	}
	return password, nil
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	pprofFlag bool
}

func NewApplication(configDir, dataDir, logPath string, pprofFlag bool) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		pprofFlag: pprofFlag,
	}
}

func (app *Application) runServer() {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		os.Setenv("QRR__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("QRR__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting qrr")

	db, err := database.Open(context.Background(), cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	historyStore := models.NewPushHistoryStore(db)
	store := openCache(cfg)

	sess := session.New(cfg.RuleOptions(time.Now()))
	defer sess.Close()

	remote := qbittorrent.NewRemote(qbittorrent.ConfigFromDomain(cfg.Config.QBittorrent))
	schedule := subsplease.NewService(subsplease.NewClient(cfg.Config.SubsPlease), store)
	previewer := feedpreview.NewFetcher(&http.Client{Timeout: 30 * time.Second})

	var m *metrics.Metrics
	if cfg.Config.MetricsEnabled {
		m = metrics.New()
	}

	cfg.RegisterReloadListener(func(conf *domain.Config) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := sess.SetOptions(ctx, config.RuleOptions(conf, time.Now())); err != nil {
			log.Error().Err(err).Msg("failed to apply reloaded rule defaults")
		}
		remote.SetConfig(qbittorrent.ConfigFromDomain(conf.QBittorrent))
	})

	// Warm the category and feed cache so imports can be checked against it.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if cfg.Config.QBittorrent.Host == "" {
			return
		}
		if err := refreshCache(ctx, remote, store); err != nil {
			log.Debug().Err(err).Msg("Failed to refresh qBittorrent categories on startup")
		}
	}()

	httpServer := api.NewServer(&api.Dependencies{
		Config:     cfg,
		Version:    buildinfo.Version,
		Session:    sess,
		Cache:      store,
		Remote:     remote,
		History:    historyStore,
		SubsPlease: schedule,
		Previewer:  previewer,
		Metrics:    m,
	})

	errorChannel := make(chan error)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	if app.pprofFlag {
		go func() {
			log.Info().Msg("Starting pprof server on :6060")
			if err := http.ListenAndServe(":6060", nil); err != nil {
				log.Error().Err(err).Msg("Profiling server failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")
	}
}
