// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/qrr/internal/cache"
	"github.com/autobrr/qrr/internal/config"
	"github.com/autobrr/qrr/internal/foldername"
	"github.com/autobrr/qrr/internal/rules"
	"github.com/autobrr/qrr/internal/session"
)

var errIssuesFound = errors.New("validation issues found, rerun with --force to continue")

// importFlags control how title files are merged into the working collection.
type importFlags struct {
	prefix   bool
	sanitize bool
	force    bool
}

func (f *importFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.prefix, "prefix", true, "prefix titles with the configured season and year (default from prefs)")
	cmd.Flags().BoolVar(&f.sanitize, "sanitize", true, "sanitize titles and mustContain (default from prefs)")
	cmd.Flags().BoolVar(&f.force, "force", false, "continue even when validation issues are found")
}

// options resolves unset flags from the cached preferences.
func (f *importFlags) options(cmd *cobra.Command, store *cache.Store) session.ImportOptions {
	prefs, err := store.Prefs()
	if err != nil {
		log.Warn().Err(err).Msg("failed to read preferences, using defaults")
		prefs = cache.DefaultPrefs()
	}

	opts := session.ImportOptions{
		Prefix:   prefs.Bool(cache.PrefPrefixImports),
		Sanitize: prefs.Bool(cache.PrefAutoSanitizeImports),
		Force:    f.force,
	}
	if cmd.Flags().Changed("prefix") {
		opts.Prefix = f.prefix
	}
	if cmd.Flags().Changed("sanitize") {
		opts.Sanitize = f.sanitize
	}
	if names, err := store.CategoryNames(); err == nil {
		opts.KnownCategories = names
	}
	return opts
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// normalizeFile parses one title file, choosing YAML by extension.
func normalizeFile(n *rules.Normalizer, path string) (*rules.Result, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return n.NormalizeYAML(data)
	default:
		return n.NormalizeText(string(data))
	}
}

// loadFiles imports every file into s. Files are remembered in the recent list.
func loadFiles(ctx context.Context, cmd *cobra.Command, s *session.Session, store *cache.Store, files []string, opts session.ImportOptions) error {
	ruleOpts, err := s.Options(ctx)
	if err != nil {
		return err
	}
	n := rules.NewNormalizer(ruleOpts)

	for _, path := range files {
		res, err := normalizeFile(n, path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for _, issue := range res.Issues {
			cmd.PrintErrf("%s: skipped %s\n", path, issue)
		}

		report, err := s.Import(ctx, res.Titles, opts)
		if errors.Is(err, session.ErrNeedsConfirmation) {
			printIssues(cmd, report.Issues)
			return fmt.Errorf("%s: %w", path, errIssuesFound)
		}
		if errors.Is(err, session.ErrNothingToImport) {
			cmd.PrintErrf("%s: no titles found\n", path)
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		cmd.PrintErrf("%s: %s layout, %d added, %d duplicates, %d sanitized\n",
			path, res.Shape, report.Added, report.Duplicates, report.Sanitized)
		if len(report.Issues) > 0 {
			printIssues(cmd, report.Issues)
		}

		if path != "-" {
			if _, err := store.AddRecentFile(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to update recent files")
			}
		}
	}
	return nil
}

func printIssues(cmd *cobra.Command, issues []rules.Issue) {
	for _, issue := range issues {
		cmd.PrintErrf("  %s\n", issue)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}

// newWorkingSession loads the configuration and an empty working collection.
func newWorkingSession(flags *configFlags) (*config.AppConfig, *session.Session, *cache.Store, error) {
	cfg, err := flags.load()
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, session.New(cfg.RuleOptions(time.Now())), openCache(cfg), nil
}

func RunImportCommand() *cobra.Command {
	var (
		flags  configFlags
		imp    importFlags
		output string
	)

	command := &cobra.Command{
		Use:   "import FILE...",
		Short: "Normalize title files into a categorized title list",
		Long: `Normalize one or more title files into a categorized title list.

Accepted layouts: a plain list of titles, an object of categories, an
object of title to rule, a qBittorrent rules export, or one title per line.
Files ending in .yaml or .yml are read as YAML. Use - to read stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, store, err := newWorkingSession(&flags)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if err := loadFiles(ctx, cmd, s, store, args, imp.options(cmd, store)); err != nil {
				return err
			}

			titles, err := s.Titles(ctx)
			if err != nil {
				return err
			}
			for _, name := range titles.Names() {
				cmd.PrintErrf("%s: %d titles\n", name, len(titles.Entries(name)))
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
	imp.register(command)
	command.Flags().StringVarP(&output, "output", "o", "", "write the title list to this file (default stdout)")

	return command
}

func RunExportCommand() *cobra.Command {
	var (
		flags         configFlags
		imp           importFlags
		output        string
		sanitizeRules bool
	)

	command := &cobra.Command{
		Use:   "export FILE...",
		Short: "Build a qBittorrent rules file from title files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, store, err := newWorkingSession(&flags)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if err := loadFiles(ctx, cmd, s, store, args, imp.options(cmd, store)); err != nil {
				return err
			}

			if sanitizeRules {
				n, err := s.SanitizeRules(ctx)
				if err != nil {
					return err
				}
				cmd.PrintErrf("Sanitized %d rules\n", n)
			}

			defs, issues, err := s.Export(ctx)
			if err != nil {
				return err
			}
			printIssues(cmd, issues)

			if output == "" {
				return rules.EncodeExport(cmd.OutOrStdout(), defs)
			}
			if err := rules.WriteExport(output, defs); err != nil {
				return err
			}
			cmd.PrintErrf("Wrote %d rules to %s\n", len(defs), output)
			return nil
		},
	}

	flags.register(command)
	imp.register(command)
	command.Flags().StringVarP(&output, "output", "o", "", "rules file to write (default stdout)")
	command.Flags().BoolVar(&sanitizeRules, "sanitize-rules", false, "sanitize mustContain and save path folders before export")

	return command
}

func RunValidateCommand() *cobra.Command {
	var flags configFlags

	command := &cobra.Command{
		Use:     "validate FILE...",
		Aliases: []string{"check"},
		Short:   "Report titles that would produce invalid rules",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, store, err := newWorkingSession(&flags)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			opts := session.ImportOptions{Force: true}
			if err := loadFiles(ctx, cmd, s, store, args, opts); err != nil {
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
			if len(issues) == 0 {
				cmd.Println("No issues found")
				return nil
			}
			for _, issue := range issues {
				cmd.Println(issue.String())
			}
			return fmt.Errorf("%d issues found", len(issues))
		},
	}

	flags.register(command)

	return command
}

func RunSanitizeCommand() *cobra.Command {
	var replacement string

	command := &cobra.Command{
		Use:   "sanitize NAME...",
		Short: "Show the folder-safe form of each name",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			opts := foldername.Options{Replacement: foldername.ParseReplacement(replacement)}
			for _, name := range args {
				sanitized := foldername.SanitizeWith(name, opts)
				if ok, reason := foldername.Check(name); !ok {
					cmd.Printf("%s -> %s (%s)\n", name, sanitized, reason)
					continue
				}
				cmd.Printf("%s -> %s\n", name, sanitized)
			}
		},
	}

	command.Flags().StringVar(&replacement, "replacement", "", "replacement for illegal characters (default _)")

	return command
}

func RunRecentCommand() *cobra.Command {
	var (
		flags    configFlags
		clearAll bool
	)

	command := &cobra.Command{
		Use:   "recent",
		Short: "List recently imported files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			store := openCache(cfg)

			if clearAll {
				return store.ClearRecentFiles()
			}

			files, err := store.RecentFiles()
			if err != nil {
				return err
			}
			for _, f := range files {
				cmd.Println(f)
			}
			return nil
		},
	}

	flags.register(command)
	command.Flags().BoolVar(&clearAll, "clear", false, "forget all recent files")

	return command
}

func RunPrefsCommand() *cobra.Command {
	var flags configFlags

	command := &cobra.Command{
		Use:   "prefs [KEY VALUE]",
		Short: "Show or change stored preferences",
		Args:  cobra.MatchAll(cobra.MaximumNArgs(2), prefsArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			store := openCache(cfg)

			if len(args) == 2 {
				value, err := strconv.ParseBool(args[1])
				if err != nil {
					return fmt.Errorf("invalid value %q: %w", args[1], err)
				}
				return store.SetPref(args[0], value)
			}

			prefs, err := store.Prefs()
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(prefs))
			for k := range prefs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				cmd.Printf("%s = %v\n", k, prefs[k])
			}
			return nil
		},
	}

	flags.register(command)

	return command
}

func prefsArgs(_ *cobra.Command, args []string) error {
	if len(args) == 1 {
		return errors.New("a value is required when setting a preference")
	}
	return nil
}
