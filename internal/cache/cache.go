// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package cache persists reference data between runs: recently imported
// files, qBittorrent categories and feeds, preferences and SubsPlease titles.
// The working title collection is deliberately not stored here.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	keyRecentFiles      = "recent_files"
	keyCategories       = "categories"
	keyFeeds            = "feeds"
	keyPrefs            = "prefs"
	keySubsPleaseTitles = "subsplease_titles"

	DefaultRecentLimit = 10
)

const (
	PrefPrefixImports       = "prefix_imports"
	PrefTime24              = "time_24"
	PrefAutoSanitizeImports = "auto_sanitize_imports"
)

// Store reads and writes the cache file. Every write replaces the file
// atomically; keys it does not know are carried over untouched.
type Store struct {
	path        string
	recentLimit int

	mu  sync.Mutex
	log zerolog.Logger
}

func New(path string, recentLimit int) *Store {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	return &Store{
		path:        path,
		recentLimit: recentLimit,
		log:         log.With().Str("module", "cache").Logger(),
	}
}

func (s *Store) Path() string {
	return s.path
}

// load returns the raw top-level object. A missing file is an empty cache.
func (s *Store) load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}

	doc := map[string]json.RawMessage{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode cache %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *Store) save(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	pendingFile, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending cache file: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			s.log.Debug().Err(err).Msg("cleanup pending cache file")
		}
	}()

	if _, err := pendingFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace cache: %w", err)
	}
	return nil
}

func (s *Store) get(key string, dst any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return false, err
	}
	raw, ok := doc[key]
	if !ok || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode cache key %q: %w", key, err)
	}
	return true, nil
}

// update reads the current value of key into cur, lets fn change it and
// writes it back.
func update[T any](s *Store, key string, fn func(cur T) T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	doc, err := s.load()
	if err != nil {
		return zero, err
	}

	var cur T
	if raw, ok := doc[key]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &cur); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Discarding unreadable cache entry")
			cur = zero
		}
	}

	next := fn(cur)
	raw, err := json.Marshal(next)
	if err != nil {
		return zero, fmt.Errorf("encode cache key %q: %w", key, err)
	}
	doc[key] = raw

	if err := s.save(doc); err != nil {
		return zero, err
	}
	return next, nil
}

// RecentFiles returns paths most recent first.
func (s *Store) RecentFiles() ([]string, error) {
	var files []string
	if _, err := s.get(keyRecentFiles, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// AddRecentFile moves path to the front, dropping duplicates and anything past
// the limit.
func (s *Store) AddRecentFile(path string) ([]string, error) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return update(s, keyRecentFiles, func(cur []string) []string {
		next := make([]string, 0, len(cur)+1)
		next = append(next, path)
		for _, p := range cur {
			if p != path {
				next = append(next, p)
			}
		}
		if len(next) > s.recentLimit {
			next = next[:s.recentLimit]
		}
		return next
	})
}

func (s *Store) ClearRecentFiles() error {
	_, err := update(s, keyRecentFiles, func([]string) []string { return []string{} })
	return err
}

// Categories returns the cached qBittorrent category map as stored.
func (s *Store) Categories() (map[string]json.RawMessage, error) {
	var cats map[string]json.RawMessage
	if _, err := s.get(keyCategories, &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

// CategoryNames returns the sorted cached category names.
func (s *Store) CategoryNames() ([]string, error) {
	cats, err := s.Categories()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cats))
	for name := range cats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// SaveCategories stores any JSON-encodable category map.
func (s *Store) SaveCategories(categories any) error {
	return s.saveOpaque(keyCategories, categories)
}

// Feeds returns the cached feed tree as stored.
func (s *Store) Feeds() (json.RawMessage, error) {
	var feeds json.RawMessage
	if _, err := s.get(keyFeeds, &feeds); err != nil {
		return nil, err
	}
	return feeds, nil
}

func (s *Store) SaveFeeds(feeds any) error {
	return s.saveOpaque(keyFeeds, feeds)
}

func (s *Store) saveOpaque(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = update(s, key, func(json.RawMessage) json.RawMessage { return raw })
	return err
}

// Prefs are flat named settings.
type Prefs map[string]any

// DefaultPrefs returns the values used when a preference was never set.
func DefaultPrefs() Prefs {
	return Prefs{
		PrefPrefixImports:       true,
		PrefTime24:              true,
		PrefAutoSanitizeImports: true,
	}
}

// Bool reads a boolean preference, falling back to its default.
func (p Prefs) Bool(key string) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	def, _ := DefaultPrefs()[key].(bool)
	return def
}

// Prefs returns stored preferences merged over the defaults.
func (s *Store) Prefs() (Prefs, error) {
	stored := Prefs{}
	if _, err := s.get(keyPrefs, &stored); err != nil {
		return nil, err
	}
	prefs := DefaultPrefs()
	for k, v := range stored {
		prefs[k] = v
	}
	return prefs, nil
}

func (s *Store) SetPref(key string, value any) error {
	_, err := update(s, keyPrefs, func(cur Prefs) Prefs {
		if cur == nil {
			cur = Prefs{}
		}
		cur[key] = value
		return cur
	})
	return err
}

// SubsPleaseTitle is one cached schedule entry.
type SubsPleaseTitle struct {
	Title       string    `json:"subsplease"`
	LastUpdated time.Time `json:"last_updated"`
	ExactMatch  bool      `json:"exact_match"`
}

// SubsPleaseTitles returns cached titles sorted by name.
func (s *Store) SubsPleaseTitles() ([]SubsPleaseTitle, error) {
	var m map[string]SubsPleaseTitle
	if _, err := s.get(keySubsPleaseTitles, &m); err != nil {
		return nil, err
	}
	out := make([]SubsPleaseTitle, 0, len(m))
	for name, t := range m {
		if t.Title == "" {
			t.Title = name
		}
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b SubsPleaseTitle) int {
		switch {
		case a.Title < b.Title:
			return -1
		case a.Title > b.Title:
			return 1
		}
		return 0
	})
	return out, nil
}

// SaveSubsPleaseTitles replaces the cached titles, stamping them with now.
func (s *Store) SaveSubsPleaseTitles(titles []string, now time.Time) error {
	_, err := update(s, keySubsPleaseTitles, func(map[string]SubsPleaseTitle) map[string]SubsPleaseTitle {
		next := make(map[string]SubsPleaseTitle, len(titles))
		for _, t := range titles {
			next[t] = SubsPleaseTitle{Title: t, LastUpdated: now.UTC(), ExactMatch: true}
		}
		return next
	})
	return err
}
