// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/qrr/internal/cache"
	"github.com/autobrr/qrr/internal/config"
	"github.com/autobrr/qrr/internal/database"
	"github.com/autobrr/qrr/internal/feedpreview"
	"github.com/autobrr/qrr/internal/models"
	"github.com/autobrr/qrr/internal/qbittorrent"
	"github.com/autobrr/qrr/internal/rules"
	"github.com/autobrr/qrr/internal/session"
	"github.com/autobrr/qrr/internal/subsplease"
)

const remoteTimeout = 2 * time.Minute

func newRemote(cfg *config.AppConfig) (*qbittorrent.Remote, error) {
	qcfg, err := qbittorrentConfig(cfg)
	if err != nil {
		return nil, err
	}
	return qbittorrent.NewRemote(qcfg), nil
}

// refreshCache stores the remote categories and feeds for offline checks.
func refreshCache(ctx context.Context, remote *qbittorrent.Remote, store *cache.Store) error {
	snap, err := remote.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := store.SaveCategories(snap.Categories); err != nil {
		return errors.Wrap(err, "save categories")
	}
	if err := store.SaveFeeds(snap.Feeds); err != nil {
		return errors.Wrap(err, "save feeds")
	}
	return nil
}

func openHistory(ctx context.Context, cfg *config.AppConfig) (*database.DB, *models.PushHistoryStore, error) {
	db, err := database.Open(ctx, cfg.GetDatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, models.NewPushHistoryStore(db), nil
}

func RunTestConnectionCommand() *cobra.Command {
	var flags configFlags

	command := &cobra.Command{
		Use:   "test-connection",
		Short: "Log in to qBittorrent and print its version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			remote, err := newRemote(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), remoteTimeout)
			defer cancel()

			info, err := remote.Info(ctx)
			if err != nil {
				return fmt.Errorf("connection failed: %w", err)
			}

			cmd.Printf("Connected to %s\n", info.Host)
			cmd.Printf("qBittorrent %s (WebAPI %s)\n", info.AppVersion, info.WebAPIVersion)
			return nil
		},
	}

	flags.register(command)

	return command
}

func RunRefreshCommand() *cobra.Command {
	var flags configFlags

	command := &cobra.Command{
		Use:   "refresh",
		Short: "Cache qBittorrent categories and feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			remote, err := newRemote(cfg)
			if err != nil {
				return err
			}
			store := openCache(cfg)

			ctx, cancel := context.WithTimeout(cmd.Context(), remoteTimeout)
			defer cancel()

			if err := refreshCache(ctx, remote, store); err != nil {
				return err
			}

			names, err := store.CategoryNames()
			if err != nil {
				return err
			}
			cmd.Printf("Cached %d categories in %s\n", len(names), store.Path())
			return nil
		},
	}

	flags.register(command)

	return command
}

func RunFetchCommand() *cobra.Command {
	var (
		flags  configFlags
		output string
	)

	command := &cobra.Command{
		Use:   "fetch",
		Short: "Download the current qBittorrent rules as a title list",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			remote, err := newRemote(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), remoteTimeout)
			defer cancel()

			data, err := remote.FetchRules(ctx)
			if err != nil {
				return err
			}

			s := session.New(cfg.RuleOptions(time.Now()))
			defer s.Close()

			remoteEntries, err := rules.NewNormalizer(cfg.RuleOptions(time.Now())).NormalizeRemote(data)
			if err != nil {
				return errors.Wrap(err, "could not read qBittorrent rules")
			}
			if len(remoteEntries) == 0 {
				cmd.PrintErrln("No rules defined in qBittorrent")
				return nil
			}

			added, err := s.MergeRemote(ctx, remoteEntries)
			if err != nil {
				return err
			}
			cmd.PrintErrf("Fetched %d rules\n", len(added))

			titles, err := s.Titles(ctx)
			if err != nil {
				return err
			}
			if output == "" {
				return writeJSON(cmd.OutOrStdout(), titles)
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			return writeJSON(f, titles)
		},
	}

	flags.register(command)
	command.Flags().StringVarP(&output, "output", "o", "", "write the title list to this file (default stdout)")

	return command
}

func RunPushCommand() *cobra.Command {
	var (
		flags configFlags
		imp   importFlags
	)

	command := &cobra.Command{
		Use:   "push FILE...",
		Short: "Send the rules built from title files to qBittorrent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, s, store, err := newWorkingSession(&flags)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if err := loadFiles(ctx, cmd, s, store, args, imp.options(cmd, store)); err != nil {
				return err
			}

			known, err := store.CategoryNames()
			if err != nil {
				log.Warn().Err(err).Msg("failed to read cached categories")
			}
			issues, err := s.Check(ctx, known)
			if err != nil {
				return err
			}
			if len(issues) > 0 && !imp.force {
				printIssues(cmd, issues)
				return errIssuesFound
			}

			defs, _, err := s.Export(ctx)
			if err != nil {
				return err
			}
			if len(defs) == 0 {
				return errors.New("no rules to push")
			}

			remote, err := newRemote(cfg)
			if err != nil {
				return err
			}

			pushCtx, cancel := context.WithTimeout(ctx, remoteTimeout)
			defer cancel()

			run, err := remote.Push(pushCtx, defs)
			if err != nil {
				return err
			}

			db, history, err := openHistory(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := history.Create(ctx, run); err != nil {
				log.Error().Err(err).Msg("failed to record push history")
			}

			for _, res := range run.Results {
				if !res.Success {
					cmd.PrintErrf("FAILED %s: %s\n", res.Rule, res.Error)
				}
			}
			cmd.Printf("Pushed %d of %d rules to %s\n", run.Total-run.Failed, run.Total, run.Host)
			if run.Failed > 0 {
				return fmt.Errorf("%d rules failed", run.Failed)
			}
			return nil
		},
	}

	flags.register(command)
	imp.register(command)

	return command
}

func RunFeedsCommand() *cobra.Command {
	var (
		flags   configFlags
		addURL  string
		addPath string
		remove  string
		refresh string
	)

	command := &cobra.Command{
		Use:   "feeds",
		Short: "List or manage qBittorrent RSS feeds and rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			remote, err := newRemote(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), remoteTimeout)
			defer cancel()

			client, err := remote.Client(ctx)
			if err != nil {
				return err
			}
			rss := client.RSS()

			switch {
			case addURL != "":
				if err := rss.AddFeed(ctx, addURL, addPath); err != nil {
					return err
				}
				cmd.Printf("Added feed %s\n", addURL)
				return nil
			case remove != "":
				if err := rss.RemoveRule(ctx, remove); err != nil {
					return err
				}
				cmd.Printf("Removed rule %s\n", remove)
				return nil
			case refresh != "":
				if !client.SupportsRefreshItem() {
					return fmt.Errorf("qBittorrent WebAPI %s cannot refresh feeds", client.GetWebAPIVersion())
				}
				return rss.RefreshItem(ctx, refresh)
			}

			items, err := rss.Items(ctx, false)
			if err != nil {
				return err
			}
			for _, u := range qbittorrent.FeedURLs(items) {
				cmd.Println(u)
			}
			return nil
		},
	}

	flags.register(command)
	command.Flags().StringVar(&addURL, "add", "", "subscribe to a feed URL")
	command.Flags().StringVar(&addPath, "path", "", "folder path for --add")
	command.Flags().StringVar(&remove, "remove-rule", "", "delete the named download rule")
	command.Flags().StringVar(&refresh, "refresh", "", "refresh the feed or folder at this item path")
	command.MarkFlagsMutuallyExclusive("add", "remove-rule", "refresh")

	return command
}

func RunSubsPleaseCommand() *cobra.Command {
	var (
		flags   configFlags
		refresh bool
		match   string
	)

	command := &cobra.Command{
		Use:   "subsplease",
		Short: "Show the SubsPlease schedule or match a title against it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			svc := subsplease.NewService(subsplease.NewClient(cfg.Config.SubsPlease), openCache(cfg))

			ctx, cancel := context.WithTimeout(cmd.Context(), remoteTimeout)
			defer cancel()

			if match != "" {
				if refresh {
					if _, err := svc.Titles(ctx, true); err != nil {
						return err
					}
				}
				m, ok, err := svc.Match(ctx, match)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no SubsPlease title matches %q", match)
				}
				cmd.Printf("%s (%s)\n", m.Title, m.Method)
				return nil
			}

			titles, err := svc.Titles(ctx, refresh)
			if err != nil {
				return err
			}
			for _, t := range titles {
				cmd.Println(t)
			}
			return nil
		},
	}

	flags.register(command)
	command.Flags().BoolVar(&refresh, "refresh", false, "download the schedule even when cached")
	command.Flags().StringVar(&match, "match", "", "find the SubsPlease title closest to this one")

	return command
}

func RunPreviewCommand() *cobra.Command {
	var (
		flags       configFlags
		feedURL     string
		mustContain string
		mustNot     string
		useRegex    bool
		all         bool
	)

	command := &cobra.Command{
		Use:   "preview TITLE",
		Short: "Show which feed items a rule for TITLE would download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			opts := cfg.RuleOptions(time.Now())
			entry := rules.Complete(rules.Entry{
				Title:          args[0],
				MustContain:    mustContain,
				MustNotContain: mustNot,
				UseRegex:       useRegex,
			}, opts)
			if feedURL == "" && len(entry.AffectedFeeds) > 0 {
				feedURL = entry.AffectedFeeds[0]
			}
			if feedURL == "" {
				return errors.New("no feed URL given and no default feed configured")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), remoteTimeout)
			defer cancel()

			fetcher := feedpreview.NewFetcher(&http.Client{Timeout: 30 * time.Second})
			report, err := fetcher.Preview(ctx, entry, feedURL)
			if err != nil {
				return err
			}

			items := report.Matched()
			if all {
				items = report.Items
			}
			cmd.Printf("%s: %d of %d items match in %s\n", report.Rule, len(report.Matched()), len(report.Items), report.FeedTitle)
			for _, item := range items {
				mark := " "
				if item.Matched {
					mark = "+"
				}
				cmd.Printf("%s %s", mark, item.Title)
				if item.Release.Episode > 0 {
					cmd.Printf(" [E%02d]", item.Release.Episode)
				}
				cmd.Println()
			}
			return nil
		},
	}

	flags.register(command)
	command.Flags().StringVar(&feedURL, "feed", "", "feed URL (default the rule's first feed)")
	command.Flags().StringVar(&mustContain, "must-contain", "", "override mustContain (default the title)")
	command.Flags().StringVar(&mustNot, "must-not-contain", "", "mustNotContain expression")
	command.Flags().BoolVar(&useRegex, "regex", false, "treat expressions as regular expressions")
	command.Flags().BoolVar(&all, "all", false, "list items that do not match too")

	return command
}

func RunHistoryCommand() *cobra.Command {
	var (
		flags configFlags
		limit int
		runID string
	)

	command := &cobra.Command{
		Use:   "history",
		Short: "Show previous pushes to qBittorrent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, history, err := openHistory(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			layout := historyTimeLayout(openCache(cfg))

			if runID != "" {
				run, err := history.Get(ctx, runID)
				if err != nil {
					return err
				}
				cmd.Printf("%s  %s  %s\n", run.RunID, run.StartedAt.Local().Format(layout), run.Host)
				for _, res := range run.Results {
					status := "ok"
					if !res.Success {
						status = "failed: " + res.Error
					}
					cmd.Printf("  %s  %s\n", res.Rule, status)
				}
				return nil
			}

			runs, err := history.List(ctx, limit)
			if err != nil {
				return err
			}
			for _, run := range runs {
				cmd.Printf("%s  %s  %s  %d/%d ok\n", run.RunID, run.StartedAt.Local().Format(layout), run.Host, run.Total-run.Failed, run.Total)
			}
			return nil
		},
	}

	flags.register(command)
	command.Flags().IntVar(&limit, "limit", 20, "number of runs to list")
	command.Flags().StringVar(&runID, "id", "", "show the rule results of one run")

	return command
}

func historyTimeLayout(store *cache.Store) string {
	prefs, err := store.Prefs()
	if err != nil {
		prefs = cache.DefaultPrefs()
	}
	if prefs.Bool(cache.PrefTime24) {
		return "2006-01-02 15:04"
	}
	return "2006-01-02 3:04 PM"
}
