// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package feedpreview

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/autobrr/qrr/internal/rules"
)

// Matcher applies a rule's mustContain and mustNotContain to article titles
// the way qBittorrent does. In wildcard mode "|" separates alternatives,
// whitespace separates terms that must all match, and "*" and "?" are
// wildcards. Matching is case-insensitive in both modes.
type Matcher struct {
	must    []alternative
	mustNot []alternative
	regex   bool
}

// alternative holds terms that must all match.
type alternative []*regexp.Regexp

func Compile(e rules.Entry) (*Matcher, error) {
	m := &Matcher{regex: e.UseRegex}

	var err error
	if m.must, err = compileExpr(e.MustContain, e.UseRegex); err != nil {
		return nil, fmt.Errorf("mustContain: %w", err)
	}
	if m.mustNot, err = compileExpr(e.MustNotContain, e.UseRegex); err != nil {
		return nil, fmt.Errorf("mustNotContain: %w", err)
	}
	return m, nil
}

func compileExpr(expr string, useRegex bool) ([]alternative, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	if useRegex {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, err
		}
		return []alternative{{re}}, nil
	}

	var alts []alternative
	for part := range strings.SplitSeq(expr, "|") {
		terms := strings.Fields(part)
		if len(terms) == 0 {
			continue
		}
		alt := make(alternative, 0, len(terms))
		for _, term := range terms {
			re, err := regexp.Compile("(?i)" + wildcardPattern(term))
			if err != nil {
				return nil, err
			}
			alt = append(alt, re)
		}
		alts = append(alts, alt)
	}
	return alts, nil
}

func wildcardPattern(term string) string {
	var b strings.Builder
	for _, r := range term {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

func (a alternative) matches(title string) bool {
	for _, re := range a {
		if !re.MatchString(title) {
			return false
		}
	}
	return true
}

func anyMatches(alts []alternative, title string) bool {
	for _, a := range alts {
		if a.matches(title) {
			return true
		}
	}
	return false
}

// Match reports whether title passes both expressions. An empty mustContain
// accepts everything.
func (m *Matcher) Match(title string) bool {
	if len(m.must) > 0 && !anyMatches(m.must, title) {
		return false
	}
	return !anyMatches(m.mustNot, title)
}
