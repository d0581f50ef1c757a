// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		Season:         "Winter",
		Year:           "2024",
		SavePrefix:     "/downloads/Anime/",
		DefaultFeedURL: "http://x",
	}
}

func titlesOf(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Title)
	}
	return out
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  Shape
	}{
		{name: "nil", input: nil, want: Unrecognized},
		{name: "scalar", input: "Frieren", want: Unrecognized},
		{name: "empty list", input: []any{}, want: Unrecognized},
		{name: "empty map", input: map[string]any{}, want: Unrecognized},
		{name: "list", input: []any{"A", "B"}, want: ListOfTitles},
		{name: "title to entry", input: map[string]any{"A": map[string]any{}}, want: TitleToEntryMap},
		{name: "title to string", input: map[string]any{"a": "A", "b": "B"}, want: TitleToStringMap},
		{name: "category to list", input: map[string]any{"anime": []any{"A"}, "x": "y"}, want: CategoryToListMap},
		{name: "mixed objects and lists", input: map[string]any{"a": map[string]any{}, "b": []any{}}, want: CategoryToListMap},
		{name: "flat keys", input: map[string]any{"A": 1, "B": true}, want: FlatKeySet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.input))
		})
	}
}

func TestNormalizeListOfTitles(t *testing.T) {
	n := NewNormalizer(testOptions())

	res, err := n.Normalize([]any{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, ListOfTitles, res.Shape)
	assert.Equal(t, []string{CategoryAnime}, res.Titles.Names())

	want := []Entry{{Title: "A"}, {Title: "B"}}
	if diff := cmp.Diff(want, res.Titles.Entries(CategoryAnime)); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeListOfObjects(t *testing.T) {
	n := NewNormalizer(testOptions())

	res, err := n.NormalizeJSON([]byte(`[
		{"node": {"title": "Shown"}, "mustContain": "m"},
		{"name": "Named"},
		{"priority": 1},
		42,
		null,
		"  "
	]`))
	require.NoError(t, err)

	entries := res.Titles.Entries(CategoryAnime)
	require.Len(t, entries, 3)
	assert.Equal(t, "Shown", entries[0].Title)
	assert.Equal(t, "m", entries[0].MustContain)
	assert.Equal(t, "Named", entries[1].Title)
	assert.Equal(t, "42", entries[2].Title)

	// object without title, null item and blank string are reported
	assert.Len(t, res.Issues, 3)
}

func TestNormalizeTitleToEntryMap(t *testing.T) {
	n := NewNormalizer(testOptions())

	res, err := n.NormalizeJSON([]byte(`{"A": {"mustContain": "A"}, "B": {"mustContain": "B"}}`))
	require.NoError(t, err)
	assert.Equal(t, TitleToEntryMap, res.Shape)

	entries := res.Titles.Entries(CategoryAnime)
	require.Len(t, entries, 2)
	for i, title := range []string{"A", "B"} {
		e := entries[i]
		assert.Equal(t, title, e.Title)
		assert.Equal(t, title, e.MustContain)
		assert.Equal(t, "/downloads/Anime/Winter 2024/"+title, e.SavePath)
		assert.Equal(t, []string{"http://x"}, e.AffectedFeeds)
		require.NotNil(t, e.TorrentParams)
		assert.Equal(t, e.SavePath, e.TorrentParams.SavePath)
		assert.True(t, e.IsEnabled())
	}
}

func TestNormalizeKeepsDocumentOrder(t *testing.T) {
	n := NewNormalizer(Options{})

	res, err := n.NormalizeJSON([]byte(`{"Zeta": {}, "Alpha": {}, "Mid": {"title": "Middle"}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Zeta", "Alpha", "Middle"}, titlesOf(res.Titles.Entries(CategoryAnime)))
}

func TestNormalizeTitleToStringMap(t *testing.T) {
	n := NewNormalizer(Options{})

	res, err := n.NormalizeJSON([]byte(`{"x": "Foo", "y": "  "}`))
	require.NoError(t, err)
	assert.Equal(t, TitleToStringMap, res.Shape)
	assert.Equal(t, []string{"Foo", "y"}, titlesOf(res.Titles.Entries(CategoryAnime)))
}

func TestNormalizeCategoryToListMap(t *testing.T) {
	n := NewNormalizer(Options{})

	res, err := n.NormalizeJSON([]byte(`{
		"winter": ["A", {"title": "B", "mustContain": "b"}],
		"note": 3,
		"spring": ["C"]
	}`))
	require.NoError(t, err)
	assert.Equal(t, CategoryToListMap, res.Shape)
	assert.Equal(t, []string{"winter", "spring"}, res.Titles.Names())

	winter := res.Titles.Entries("winter")
	require.Len(t, winter, 2)
	assert.Equal(t, Entry{Title: "A"}, winter[0])
	assert.Equal(t, "B", winter[1].Title)
	assert.Equal(t, "b", winter[1].MustContain)

	require.Len(t, res.Issues, 1)
	assert.Equal(t, "note", res.Issues[0].Category)
}

func TestNormalizeFlatKeySet(t *testing.T) {
	n := NewNormalizer(Options{})

	res, err := n.NormalizeJSON([]byte(`{"A": 1, "B": true}`))
	require.NoError(t, err)
	assert.Equal(t, FlatKeySet, res.Shape)
	assert.Equal(t, []string{"A", "B"}, titlesOf(res.Titles.Entries(CategoryAnime)))
}

func TestNormalizeUnrecognized(t *testing.T) {
	n := NewNormalizer(Options{})

	for _, input := range []string{``, `[]`, `{}`, `null`, `"x"`, `12`, `[null, false]`, `{"a": `} {
		t.Run(input, func(t *testing.T) {
			res, err := n.NormalizeJSON([]byte(input))
			require.ErrorIs(t, err, ErrUnrecognized)
			assert.Nil(t, res)
		})
	}
}

func TestNormalizeRemote(t *testing.T) {
	n := NewNormalizer(testOptions())

	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{name: "empty rules object", input: `{}`},
		{name: "empty with bom", input: "\ufeff{}"},
		{name: "rules", input: `{"A": {"mustContain": "A"}, "B": {}}`, want: []string{"A", "B"}},
		{name: "html error page", input: `<html><body>Forbidden</body></html>`, wantErr: true},
		{name: "truncated", input: `{"A": {"mustCon`, wantErr: true},
		{name: "empty body", input: ``, wantErr: true},
		{name: "empty list", input: `[]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := n.NormalizeRemote([]byte(tt.input))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnrecognized)
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, entries)
				return
			}
			assert.Equal(t, tt.want, titlesOf(entries))
		})
	}
}

func TestNormalizeText(t *testing.T) {
	n := NewNormalizer(Options{})

	tests := []struct {
		name  string
		input string
		shape Shape
		want  []string
	}{
		{name: "lines", input: "Foo\n\n  Bar \r\nBaz", shape: ListOfTitles, want: []string{"Foo", "Bar", "Baz"}},
		{name: "json list", input: `["A", "B"]`, shape: ListOfTitles, want: []string{"A", "B"}},
		{name: "json map", input: `{"A": {}}`, shape: TitleToEntryMap, want: []string{"A"}},
		{name: "json scalar is a line", input: `"quoted"`, shape: ListOfTitles, want: []string{`"quoted"`}},
		{name: "broken json is lines", input: "[\"A\",\nB", shape: ListOfTitles, want: []string{`["A",`, "B"}},
		{name: "bom", input: "\ufeffFoo", shape: ListOfTitles, want: []string{"Foo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := n.NormalizeText(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.shape, res.Shape)

			var got []string
			for _, cat := range res.Titles.Categories() {
				got = append(got, titlesOf(cat.Entries)...)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := n.NormalizeText(" \n\t ")
	assert.ErrorIs(t, err, ErrUnrecognized)
}

func TestNormalizeYAML(t *testing.T) {
	n := NewNormalizer(Options{})

	res, err := n.NormalizeYAML([]byte("- A\n- B\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, titlesOf(res.Titles.Entries(CategoryAnime)))

	res, err = n.NormalizeYAML([]byte("winter:\n  - A\n  - title: B\n    mustContain: b\nspring:\n  - C\n"))
	require.NoError(t, err)
	assert.Equal(t, CategoryToListMap, res.Shape)
	assert.Equal(t, []string{"winter", "spring"}, res.Titles.Names())
	assert.Equal(t, "b", res.Titles.Entries("winter")[1].MustContain)

	res, err = n.NormalizeYAML([]byte("Frieren"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Frieren"}, titlesOf(res.Titles.Entries(CategoryAnime)))

	_, err = n.NormalizeYAML([]byte("a: [b"))
	assert.ErrorIs(t, err, ErrUnrecognized)
}

func TestNormalizeReportsMistypedFields(t *testing.T) {
	n := NewNormalizer(Options{})

	res, err := n.NormalizeJSON([]byte(`[{"title": "A", "priority": "high", "enabled": "yes", "affectedFeeds": ["f", 1, {}]}]`))
	require.NoError(t, err)

	entries := res.Titles.Entries(CategoryAnime)
	require.Len(t, entries, 1)
	assert.Equal(t, "A", entries[0].Title)
	assert.Zero(t, entries[0].Priority)
	assert.Nil(t, entries[0].Enabled)
	assert.Equal(t, []string{"f", "1"}, entries[0].AffectedFeeds)

	reasons := make([]string, 0, len(res.Issues))
	for _, issue := range res.Issues {
		reasons = append(reasons, issue.Reason)
	}
	assert.Len(t, reasons, 3)
	assert.Contains(t, reasons[0], "priority")
	assert.Contains(t, reasons[1], "enabled")
	assert.Contains(t, reasons[2], "affectedFeeds")
}
