// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestApplyPrefix(t *testing.T) {
	entries := []Entry{
		{Title: "Foo"},
		{Title: "Bar", MustContain: "bar 1080p"},
		{Title: "Winter 2024 - Baz"},
		{MustContain: "only-match"},
	}

	ApplyPrefix(entries, "Winter", "2024")

	want := []Entry{
		{Title: "Winter 2024 - Foo", MustContain: "Foo"},
		{Title: "Winter 2024 - Bar", MustContain: "bar 1080p"},
		{Title: "Winter 2024 - Baz"},
		{MustContain: "only-match"},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("ApplyPrefix mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyPrefixIdempotent(t *testing.T) {
	once := []Entry{{Title: "Foo"}, {Title: "Bar"}}
	ApplyPrefix(once, "Spring", "2025")

	twice := make([]Entry, len(once))
	for i, e := range once {
		twice[i] = e.Clone()
	}
	ApplyPrefix(twice, "Spring", "2025")

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second ApplyPrefix changed entries (-once +twice):\n%s", diff)
	}
}

func TestApplyPrefixNeedsSeasonAndYear(t *testing.T) {
	entries := []Entry{{Title: "Foo"}}
	ApplyPrefix(entries, "", "2024")
	ApplyPrefix(entries, "Winter", "")
	assert.Equal(t, []Entry{{Title: "Foo"}}, entries)
}

func TestCollectionApplyPrefix(t *testing.T) {
	c := NewCollection()
	c.Append("a", Entry{Title: "Foo"})
	c.Append("b", Entry{Title: "Bar"})

	c.ApplyPrefix("Fall", "2024")
	c.ApplyPrefix("Fall", "2024")

	assert.Equal(t, "Fall 2024 - Foo", c.Entries("a")[0].Title)
	assert.Equal(t, "Fall 2024 - Bar", c.Entries("b")[0].Title)
	assert.Equal(t, "Bar", c.Entries("b")[0].MustContain)
}
