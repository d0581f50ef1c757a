// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package session owns the working title collection of a running server.
// A single goroutine holds the state; every read and write is a command sent
// to it, so callers never share the collection.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrr/internal/rules"
)

var (
	ErrClosed            = errors.New("session closed")
	ErrTrashItemNotFound = errors.New("trash item not found")
	ErrNeedsConfirmation = errors.New("import has validation issues")
	ErrNothingToImport   = errors.New("nothing to import")
)

// TrashItem is a deleted entry and where it came from.
type TrashItem struct {
	ID        string      `json:"id"`
	Category  string      `json:"category"`
	Index     int         `json:"index"`
	Entry     rules.Entry `json:"entry"`
	DeletedAt time.Time   `json:"deletedAt"`
}

type state struct {
	titles *rules.Collection
	trash  []TrashItem
	opts   rules.Options
}

type command struct {
	fn   func(*state)
	done chan struct{}
}

type Session struct {
	cmds    chan command
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
	now     func() time.Time
	log     zerolog.Logger
}

// New starts the session goroutine. Close stops it.
func New(opts rules.Options) *Session {
	s := &Session{
		cmds:    make(chan command),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		now:     time.Now,
		log:     log.With().Str("module", "session").Logger(),
	}
	go s.run(&state{titles: rules.NewCollection(), opts: opts})
	return s
}

func (s *Session) run(st *state) {
	defer close(s.stopped)
	for {
		select {
		case cmd := <-s.cmds:
			cmd.fn(st)
			close(cmd.done)
		case <-s.quit:
			return
		}
	}
}

// Close stops the goroutine and waits for it to exit.
func (s *Session) Close() {
	s.once.Do(func() { close(s.quit) })
	<-s.stopped
}

// do runs fn on the session goroutine and waits for it to finish.
func (s *Session) do(ctx context.Context, fn func(*state)) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrClosed
	}
	<-cmd.done
	return nil
}

// Options returns the rule options in effect.
func (s *Session) Options(ctx context.Context) (rules.Options, error) {
	var opts rules.Options
	err := s.do(ctx, func(st *state) { opts = st.opts })
	return opts, err
}

// SetOptions replaces the rule options, e.g. after a config reload.
func (s *Session) SetOptions(ctx context.Context, opts rules.Options) error {
	return s.do(ctx, func(st *state) { st.opts = opts })
}

// Titles returns a copy of the working collection.
func (s *Session) Titles(ctx context.Context) (*rules.Collection, error) {
	var c *rules.Collection
	err := s.do(ctx, func(st *state) { c = st.titles.Clone() })
	return c, err
}

// Replace swaps in a new working collection and empties the trash.
func (s *Session) Replace(ctx context.Context, c *rules.Collection) error {
	if c == nil {
		c = rules.NewCollection()
	}
	c = c.Clone()
	return s.do(ctx, func(st *state) {
		st.titles = c
		st.trash = nil
	})
}

// ImportOptions controls how an incoming collection is prepared.
type ImportOptions struct {
	Prefix   bool
	Sanitize bool
	// Force imports even when the prepared entries have issues.
	Force           bool
	KnownCategories []string
}

type ImportReport struct {
	rules.ImportResult
	Sanitized int           `json:"sanitized"`
	Issues    []rules.Issue `json:"issues,omitempty"`
	Applied   bool          `json:"applied"`
}

// Import prefixes and sanitizes incoming as requested, checks it and merges it
// into the working collection. With issues and no Force nothing is merged and
// ErrNeedsConfirmation is returned with the report.
func (s *Session) Import(ctx context.Context, incoming *rules.Collection, opts ImportOptions) (ImportReport, error) {
	var report ImportReport
	if incoming == nil || incoming.Len() == 0 {
		return report, ErrNothingToImport
	}
	incoming = incoming.Clone()

	var err error
	doErr := s.do(ctx, func(st *state) {
		if opts.Prefix {
			incoming.ApplyPrefix(st.opts.Season, st.opts.Year)
		}
		if opts.Sanitize {
			report.Sanitized = rules.AutoSanitize(incoming, st.opts)
		}

		report.Issues = rules.Check(incoming, rules.CheckOptions{Options: st.opts, KnownCategories: opts.KnownCategories})
		if len(report.Issues) > 0 && !opts.Force {
			err = ErrNeedsConfirmation
			return
		}

		report.ImportResult = st.titles.Import(incoming)
		report.Applied = true
	})
	if doErr != nil {
		return report, doErr
	}
	if err != nil {
		return report, err
	}

	s.log.Info().
		Int("added", report.Added).
		Int("duplicates", report.Duplicates).
		Int("sanitized", report.Sanitized).
		Int("issues", len(report.Issues)).
		Msg("Imported titles")
	return report, nil
}

// MergeRemote adds remote rules not yet present to the "existing" category.
func (s *Session) MergeRemote(ctx context.Context, remote []rules.Entry) ([]rules.Entry, error) {
	var added []rules.Entry
	err := s.do(ctx, func(st *state) {
		added = rules.MergeNew(st.titles, remote)
	})
	if err == nil {
		s.log.Info().Int("remote", len(remote)).Int("added", len(added)).Msg("Merged remote rules")
	}
	return added, err
}

// Update replaces one entry.
func (s *Session) Update(ctx context.Context, category string, index int, e rules.Entry) error {
	var err error
	doErr := s.do(ctx, func(st *state) {
		err = st.titles.Set(category, index, e.Clone())
	})
	return errors.Join(doErr, err)
}

// Delete moves an entry to the trash.
func (s *Session) Delete(ctx context.Context, category string, index int) (TrashItem, error) {
	var (
		item TrashItem
		err  error
	)
	doErr := s.do(ctx, func(st *state) {
		var e rules.Entry
		if e, err = st.titles.Remove(category, index); err != nil {
			return
		}
		item = TrashItem{
			ID:        uuid.NewString(),
			Category:  category,
			Index:     index,
			Entry:     e,
			DeletedAt: s.now(),
		}
		st.trash = append(st.trash, item)
	})
	if doErr != nil {
		return TrashItem{}, doErr
	}
	return item, err
}

// Trash lists deleted entries, newest last.
func (s *Session) Trash(ctx context.Context) ([]TrashItem, error) {
	var items []TrashItem
	err := s.do(ctx, func(st *state) {
		items = make([]TrashItem, len(st.trash))
		for i, it := range st.trash {
			it.Entry = it.Entry.Clone()
			items[i] = it
		}
	})
	return items, err
}

// Restore puts a trashed entry back at its old position, or as close to it
// as the category now allows.
func (s *Session) Restore(ctx context.Context, id string) (TrashItem, error) {
	var (
		item TrashItem
		err  error
	)
	doErr := s.do(ctx, func(st *state) {
		for i, it := range st.trash {
			if it.ID != id {
				continue
			}
			it.Index = st.titles.Insert(it.Category, it.Index, it.Entry)
			st.trash = append(st.trash[:i], st.trash[i+1:]...)
			item = it
			return
		}
		err = fmt.Errorf("%s: %w", id, ErrTrashItemNotFound)
	})
	if doErr != nil {
		return TrashItem{}, doErr
	}
	return item, err
}

// Purge empties the trash and returns how many entries were dropped.
func (s *Session) Purge(ctx context.Context) (int, error) {
	var n int
	err := s.do(ctx, func(st *state) {
		n = len(st.trash)
		st.trash = nil
	})
	return n, err
}

// ApplyPrefix prefixes every working title with "season year - ". Empty
// arguments fall back to the session options.
func (s *Session) ApplyPrefix(ctx context.Context, season, year string) error {
	return s.do(ctx, func(st *state) {
		if season == "" {
			season = st.opts.Season
		}
		if year == "" {
			year = st.opts.Year
		}
		st.titles.ApplyPrefix(season, year)
	})
}

// SanitizeRules sanitizes mustContain and every save path folder of the working
// titles. It returns how many entries changed.
func (s *Session) SanitizeRules(ctx context.Context) (int, error) {
	changed := 0
	err := s.do(ctx, func(st *state) {
		type edit struct {
			category string
			index    int
			entry    rules.Entry
		}
		var edits []edit
		st.titles.Each(func(category string, index int, e rules.Entry) bool {
			clean := rules.SanitizeEntries([]rules.Entry{e}, st.opts.Sanitize)[0]
			if clean.MustContain != e.MustContain || clean.SavePath != e.SavePath {
				edits = append(edits, edit{category, index, clean})
			}
			return true
		})
		for _, ed := range edits {
			if err := st.titles.Set(ed.category, ed.index, ed.entry); err == nil {
				changed++
			}
		}
	})
	return changed, err
}

// Entry returns a copy of one working entry.
func (s *Session) Entry(ctx context.Context, category string, index int) (rules.Entry, error) {
	var (
		e   rules.Entry
		err error
	)
	doErr := s.do(ctx, func(st *state) {
		e, err = st.titles.At(category, index)
	})
	return e.Clone(), errors.Join(doErr, err)
}

// Export builds the export map from the working collection.
func (s *Session) Export(ctx context.Context) (map[string]rules.Entry, []rules.Issue, error) {
	var (
		defs   map[string]rules.Entry
		issues []rules.Issue
	)
	err := s.do(ctx, func(st *state) {
		defs, issues = rules.BuildExport(st.titles, st.opts)
	})
	return defs, issues, err
}

// Check validates the working collection.
func (s *Session) Check(ctx context.Context, knownCategories []string) ([]rules.Issue, error) {
	var issues []rules.Issue
	err := s.do(ctx, func(st *state) {
		issues = rules.Check(st.titles, rules.CheckOptions{Options: st.opts, KnownCategories: knownCategories})
	})
	return issues, err
}
