// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package subsplease

import (
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/cases"
)

// MatchMethod says how a title was matched.
type MatchMethod string

const (
	MatchExact    MatchMethod = "exact"
	MatchFolded   MatchMethod = "case-insensitive"
	MatchContains MatchMethod = "contains"
	MatchFuzzy    MatchMethod = "fuzzy"
)

const maxFuzzyDistance = 10

type Match struct {
	Title  string      `json:"title"`
	Method MatchMethod `json:"method"`
	Score  int         `json:"score"`
}

// FindMatch looks title up in candidates: exact, then case-folded, then the
// longest containment either way, then a fuzzy rank.
func FindMatch(title string, candidates []string) (Match, bool) {
	title = strings.TrimSpace(title)
	if title == "" || len(candidates) == 0 {
		return Match{}, false
	}

	for _, c := range candidates {
		if c == title {
			return Match{Title: c, Method: MatchExact}, true
		}
	}

	folder := cases.Fold()
	needle := folder.String(title)
	folded := make([]string, len(candidates))
	for i, c := range candidates {
		folded[i] = folder.String(c)
		if folded[i] == needle {
			return Match{Title: c, Method: MatchFolded, Score: 1}, true
		}
	}

	best, bestLen := -1, 0
	for i, c := range folded {
		if c == "" {
			continue
		}
		if strings.Contains(c, needle) || strings.Contains(needle, c) {
			if n := min(len(c), len(needle)); n > bestLen {
				best, bestLen = i, n
			}
		}
	}
	if best >= 0 {
		return Match{Title: candidates[best], Method: MatchContains, Score: 2}, true
	}

	ranks := fuzzy.RankFindNormalizedFold(title, candidates)
	if len(ranks) == 0 {
		return Match{}, false
	}
	top := ranks[0]
	for _, r := range ranks[1:] {
		if r.Distance < top.Distance {
			top = r
		}
	}
	if top.Distance >= maxFuzzyDistance {
		return Match{}, false
	}
	return Match{Title: top.Target, Method: MatchFuzzy, Score: 3 + top.Distance}, true
}
