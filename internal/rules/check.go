// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/autobrr/qrr/internal/foldername"
)

// Issue is a non-fatal problem the user should confirm before continuing.
type Issue struct {
	Category string `json:"category,omitempty"`
	Index    int    `json:"index"`
	Title    string `json:"title,omitempty"`
	Field    string `json:"field,omitempty"`
	Reason   string `json:"reason"`
}

func (i Issue) String() string {
	var b strings.Builder
	if i.Category != "" {
		fmt.Fprintf(&b, "%s[%d] ", i.Category, i.Index)
	}
	if i.Title != "" {
		fmt.Fprintf(&b, "%q ", i.Title)
	}
	if i.Field != "" {
		b.WriteString(i.Field)
		b.WriteString(": ")
	}
	b.WriteString(i.Reason)
	return b.String()
}

// CheckOptions configures Check.
type CheckOptions struct {
	Options
	// KnownCategories, when non-empty, is the set assignedCategory must belong to.
	KnownCategories []string
}

// Check reports entries that would produce bad folders or rules. It never
// modifies c.
func Check(c *Collection, opts CheckOptions) []Issue {
	var issues []Issue
	c.Each(func(category string, index int, e Entry) bool {
		add := func(field, reason string) {
			issues = append(issues, Issue{Category: category, Index: index, Title: e.DisplayTitle(), Field: field, Reason: reason})
		}

		raw := StripPrefix(e.DisplayTitle(), opts.Options)
		if foldername.SanitizeWith(raw, opts.Sanitize) == "" {
			add("title", "title is empty after sanitization")
		} else if err := foldername.Validate(raw); err != nil {
			add("title", err.Error())
		}

		if len(e.LastMatch) > 0 && !json.Valid(e.LastMatch) {
			add("lastMatch", ErrLastMatchInvalidJSON.Error())
		}

		if e.SavePath != "" {
			for _, err := range validateSavePath(e.SavePath) {
				add("savePath", err.Error())
			}
		}

		if len(opts.KnownCategories) > 0 && e.Category != "" && !slices.Contains(opts.KnownCategories, e.Category) {
			add("assignedCategory", fmt.Sprintf("category %q does not exist", e.Category))
		}

		if len(e.AffectedFeeds) == 0 && opts.DefaultFeedURL == "" {
			add("affectedFeeds", ErrMissingFeed.Error())
		}
		return true
	})
	return issues
}

var (
	ErrMissingMustContain = errors.New("mustContain is required")
	ErrMissingFeed        = errors.New("at least one feed is required")
)

// ValidateRule checks a completed rule before it is sent to qBittorrent.
func ValidateRule(e Entry) error {
	var errs []error
	if strings.TrimSpace(e.MustContain) == "" {
		errs = append(errs, ErrMissingMustContain)
	}
	if len(e.AffectedFeeds) == 0 {
		errs = append(errs, ErrMissingFeed)
	}
	errs = append(errs, validateSavePath(e.SavePath)...)
	return errors.Join(errs...)
}

var driveRe = regexp.MustCompile(`^[A-Za-z]:$`)

// pathSegments splits a save path into its folder segments, skipping the root
// and a leading drive letter.
func pathSegments(p string) []string {
	var segs []string
	for i, seg := range strings.Split(ToSlash(p), "/") {
		if seg == "" || (i == 0 && driveRe.MatchString(seg)) {
			continue
		}
		segs = append(segs, seg)
	}
	return segs
}

func validateSavePath(p string) []error {
	var errs []error
	for _, seg := range pathSegments(p) {
		if err := foldername.Validate(seg); err != nil {
			errs = append(errs, fmt.Errorf("save path segment: %w", err))
		}
	}
	return errs
}
