// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package foldername turns arbitrary titles into folder segments that are safe on the
// strictest common target filesystem, and reports why a name is not.
package foldername

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultReplacement = '_'
	DefaultMaxLength   = 255
)

const illegalChars = `<>:"/\|?*`

var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {}, "COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {}, "LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// Options tunes Sanitize. Zero values select the defaults.
type Options struct {
	// Replacement substitutes every illegal character. Values that are themselves
	// unusable in a folder name fall back to '_'.
	Replacement rune
	MaxLength   int
}

func (o Options) replacement() rune {
	r := o.Replacement
	if r == 0 || r == utf8.RuneError || r == '.' || unicode.IsSpace(r) || unicode.IsControl(r) || isIllegal(r) {
		return DefaultReplacement
	}
	return r
}

func (o Options) maxLength() int {
	if o.MaxLength <= 0 {
		return DefaultMaxLength
	}
	return o.MaxLength
}

// ParseReplacement maps a configured replacement string to a rune. Anything other
// than exactly one usable character yields the default.
func ParseReplacement(s string) rune {
	if utf8.RuneCountInString(s) != 1 {
		return DefaultReplacement
	}
	r, _ := utf8.DecodeRuneInString(s)
	return Options{Replacement: r}.replacement()
}

// Sanitize applies SanitizeWith using the default options.
func Sanitize(name string) string {
	return SanitizeWith(name, Options{})
}

// SanitizeWith maps name to a folder-safe segment. The result is stable:
// SanitizeWith(SanitizeWith(x, o), o) == SanitizeWith(x, o).
func SanitizeWith(name string, opts Options) string {
	rep := opts.replacement()
	maxLen := opts.maxLength()

	s := strings.TrimSpace(strings.ToValidUTF8(name, string(rep)))
	if s == "" {
		return ""
	}

	// "Show: Subtitle" reads better as "Show - Subtitle" than "Show_ Subtitle".
	s = strings.ReplaceAll(s, ":", " -")
	s = strings.Map(func(r rune) rune {
		if isIllegal(r) {
			return rep
		}
		return r
	}, s)
	s = collapse(s, rep)
	s = trimTrailing(s)

	s = truncate(s, maxLen)
	s = trimTrailing(s)
	if isReserved(s) {
		s = disambiguate(s, rep)
		s = trimTrailing(truncate(s, maxLen))
	}

	return strings.TrimLeftFunc(s, unicode.IsSpace)
}

func isIllegal(r rune) bool {
	return strings.ContainsRune(illegalChars, r)
}

func collapse(s string, rep rune) string {
	var b strings.Builder
	b.Grow(len(s))
	prev := false
	for _, r := range s {
		if r == rep {
			if prev {
				continue
			}
			prev = true
		} else {
			prev = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func trimTrailing(s string) string {
	return strings.TrimRightFunc(s, func(r rune) bool {
		return r == '.' || unicode.IsSpace(r)
	})
}

func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen])
}

func baseName(s string) string {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

func isReserved(s string) bool {
	_, ok := reservedNames[strings.ToUpper(strings.TrimSpace(baseName(s)))]
	return ok
}

// disambiguate appends rep to the base so "con.txt" becomes "con_.txt".
func disambiguate(s string, rep rune) string {
	base := baseName(s)
	return base + string(rep) + s[len(base):]
}
