// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"strings"

	"github.com/autobrr/qrr/internal/foldername"
)

// AutoSanitize rewrites mustContain and the unprefixed part of each title into
// folder-safe text. It returns how many entries changed.
func AutoSanitize(c *Collection, opts Options) int {
	changed := 0
	c.update(func(_ string, e *Entry) {
		before := e.Title + "\x00" + e.MustContain

		if e.MustContain != "" {
			e.MustContain = foldername.SanitizeWith(e.MustContain, opts.Sanitize)
		}
		if title := strings.TrimSpace(e.Title); title != "" {
			raw := StripPrefix(title, opts)
			prefix := strings.TrimSuffix(title, raw)
			if s := foldername.SanitizeWith(raw, opts.Sanitize); s != "" {
				e.Title = prefix + s
			}
		}

		if e.Title+"\x00"+e.MustContain != before {
			changed++
		}
	})
	return changed
}

// SanitizeEntries returns copies with mustContain and every save path folder
// sanitized. Path roots and drive letters are kept.
func SanitizeEntries(entries []Entry, opts foldername.Options) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		c := e.Clone()
		if c.MustContain != "" {
			c.MustContain = foldername.SanitizeWith(c.MustContain, opts)
		}
		if c.SavePath != "" {
			c.SavePath = sanitizePath(c.SavePath, opts)
			if c.TorrentParams != nil {
				c.TorrentParams.SavePath = c.SavePath
			}
		}
		out = append(out, c)
	}
	return out
}

func sanitizePath(p string, opts foldername.Options) string {
	parts := strings.Split(ToSlash(p), "/")
	out := make([]string, 0, len(parts))
	for i, seg := range parts {
		switch {
		case seg == "" && (i == 0 || (i == 1 && parts[0] == "")):
			// root or UNC prefix
			out = append(out, seg)
		case seg == "":
		case i == 0 && driveRe.MatchString(seg):
			out = append(out, seg)
		default:
			if s := foldername.SanitizeWith(seg, opts); s != "" {
				out = append(out, s)
			}
		}
	}
	return strings.Join(out, "/")
}
