// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/autobrr/qrr/internal/foldername"
)

var seasonPrefixRe = regexp.MustCompile(`^(?:Winter|Spring|Summer|Fall) \d{4} - `)

// StripPrefix removes a "{season} {year} - " display prefix from title.
func StripPrefix(title string, opts Options) string {
	if p := opts.Prefix(); p != "" && strings.HasPrefix(title, p) {
		return strings.TrimSpace(title[len(p):])
	}
	return strings.TrimSpace(seasonPrefixRe.ReplaceAllString(title, ""))
}

// Complete returns a copy of e with every missing field filled from opts.
// Fields that are already set are never changed.
func Complete(e Entry, opts Options) Entry {
	out := e.Clone()

	if out.MustContain == "" {
		out.MustContain = StripPrefix(out.Title, opts)
	}
	if strings.TrimSpace(out.Title) == "" {
		out.Title = out.MustContain
	}

	// qBittorrent 5 may only report these inside torrentParams.
	if out.TorrentParams != nil {
		if out.SavePath == "" {
			out.SavePath = out.TorrentParams.SavePath
		}
		if out.Category == "" {
			out.Category = out.TorrentParams.Category
		}
	}

	if out.SavePath == "" && out.MustContain != "" {
		out.SavePath = BuildSavePath(out.MustContain, opts)
	}
	if out.Category == "" {
		out.Category = opts.DefaultCategory
	}
	if len(out.AffectedFeeds) == 0 {
		out.AffectedFeeds = []string{}
		if opts.DefaultFeedURL != "" {
			out.AffectedFeeds = []string{opts.DefaultFeedURL}
		}
	}
	if out.Enabled == nil {
		enabled := true
		out.Enabled = &enabled
	}
	if out.AddPaused == nil {
		paused := false
		out.AddPaused = &paused
	}
	if len(out.LastMatch) == 0 {
		out.LastMatch = json.RawMessage(`""`)
	}
	if out.PreviouslyMatched == nil {
		out.PreviouslyMatched = []string{}
	}

	tp := DefaultTorrentParams()
	if out.TorrentParams != nil {
		tp = out.TorrentParams.Clone()
	}
	if tp.Tags == nil {
		tp.Tags = []string{}
	}
	if out.SavePath != "" {
		tp.SavePath = out.SavePath
	}
	if out.Category != "" {
		tp.Category = out.Category
	}
	out.TorrentParams = &tp

	return out
}

// BuildSavePath joins the configured prefix, the season folder and the
// sanitized name with forward slashes. Without a prefix only the name is
// returned, which qBittorrent resolves against its default save path.
func BuildSavePath(name string, opts Options) string {
	folder := foldername.SanitizeWith(name, opts.Sanitize)
	if folder == "" {
		return ""
	}

	prefix := strings.TrimSpace(opts.SavePrefix)
	if prefix == "" {
		return folder
	}

	var season string
	if opts.Season != "" && opts.Year != "" {
		season = foldername.SanitizeWith(opts.Season+" "+opts.Year, opts.Sanitize)
	}
	return joinPath(prefix, season, folder)
}

func joinPath(prefix string, parts ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(ToSlash(prefix), "/"))
	for _, part := range parts {
		if part == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(part)
	}
	return b.String()
}

// ToSlash converts backslash separators to forward slashes.
func ToSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// DisplayPath renders a stored path with backslash separators for editing.
func DisplayPath(p string) string {
	return strings.ReplaceAll(p, "/", `\`)
}

// ParseDisplayPath turns an edited path, which may use backslashes, into the
// stored form.
func ParseDisplayPath(p string) string {
	return ToSlash(strings.TrimSpace(p))
}
