// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import "strings"

// ApplyPrefix prepends "{season} {year} - " to each title that lacks it and
// backfills an unset mustContain with the original title. Running it twice is
// the same as running it once.
func ApplyPrefix(entries []Entry, season, year string) {
	prefix := Prefix(season, year)
	if prefix == "" {
		return
	}
	for i := range entries {
		applyPrefix(&entries[i], prefix)
	}
}

func applyPrefix(e *Entry, prefix string) {
	title := strings.TrimSpace(e.Title)
	if title == "" || strings.HasPrefix(title, prefix) {
		return
	}
	if e.MustContain == "" {
		e.MustContain = title
	}
	e.Title = prefix + title
}

// ApplyPrefix prefixes every entry in every category.
func (c *Collection) ApplyPrefix(season, year string) {
	prefix := Prefix(season, year)
	if prefix == "" {
		return
	}
	c.update(func(_ string, e *Entry) {
		applyPrefix(e, prefix)
	})
}
