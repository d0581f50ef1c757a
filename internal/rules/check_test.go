// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	c := NewCollection()
	c.Append(CategoryAnime,
		Entry{Title: "Winter 2024 - Frieren"},
		Entry{Title: "CON"},
		Entry{Title: "Show: Part Two"},
		Entry{Title: "Broken", LastMatch: json.RawMessage(`{"bad`)},
		Entry{Title: "Forced", LastMatch: RawLastMatch(`{"bad`)},
		Entry{Title: "Elsewhere", Category: "movies"},
		Entry{Title: "Pathy", SavePath: "/dl/bad?/Pathy"},
	)

	issues := Check(c, CheckOptions{
		Options:         testOptions(),
		KnownCategories: []string{"anime", "tv"},
	})

	byTitle := map[string][]Issue{}
	for _, issue := range issues {
		byTitle[issue.Title] = append(byTitle[issue.Title], issue)
	}

	assert.Empty(t, byTitle["Winter 2024 - Frieren"])
	require.Len(t, byTitle["CON"], 1)
	assert.Contains(t, byTitle["CON"][0].Reason, "reserved")
	require.Len(t, byTitle["Show: Part Two"], 1)
	assert.Contains(t, byTitle["Show: Part Two"][0].Reason, "illegal")
	require.Len(t, byTitle["Broken"], 1)
	assert.Equal(t, "lastMatch", byTitle["Broken"][0].Field)
	assert.Empty(t, byTitle["Forced"], "a lastMatch kept as a string is valid")
	require.Len(t, byTitle["Elsewhere"], 1)
	assert.Equal(t, "assignedCategory", byTitle["Elsewhere"][0].Field)
	require.Len(t, byTitle["Pathy"], 1)
	assert.Equal(t, "savePath", byTitle["Pathy"][0].Field)

	assert.Equal(t, 7, c.Len(), "Check never modifies the collection")
}

func TestCheckFeedsAndEmptyTitles(t *testing.T) {
	c := NewCollection()
	c.Append(CategoryAnime, Entry{Title: "Foo"}, Entry{Title: "..."}, Entry{Title: "Bar", AffectedFeeds: []string{"http://f"}})

	opts := CheckOptions{Options: Options{Season: "Winter", Year: "2024"}}
	issues := Check(c, opts)

	var fields []string
	for _, issue := range issues {
		fields = append(fields, issue.Title+"/"+issue.Field)
	}
	assert.ElementsMatch(t, []string{
		"Foo/affectedFeeds",
		".../title",
		".../affectedFeeds",
	}, fields)

	opts.DefaultFeedURL = "http://x"
	for _, issue := range Check(c, opts) {
		assert.NotEqual(t, "affectedFeeds", issue.Field)
	}
}

func TestValidateRule(t *testing.T) {
	err := ValidateRule(Entry{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingMustContain)
	assert.ErrorIs(t, err, ErrMissingFeed)

	ok := Entry{MustContain: "Foo", AffectedFeeds: []string{"http://x"}, SavePath: "D:/Anime/Winter 2024/Foo"}
	assert.NoError(t, ValidateRule(ok))

	ok.SavePath = "//nas/share/Foo"
	assert.NoError(t, ValidateRule(ok))

	bad := ok
	bad.SavePath = "/dl/Foo?"
	assert.Error(t, ValidateRule(bad))
}

func TestIssueString(t *testing.T) {
	issue := Issue{Category: "anime", Index: 2, Title: "CON", Field: "title", Reason: "reserved"}
	assert.Equal(t, `anime[2] "CON" title: reserved`, issue.String())
	assert.Equal(t, "no title", Issue{Reason: "no title"}.String())
}
