// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/qrr/internal/foldername"
)

func TestCompleteDefaults(t *testing.T) {
	got := Complete(Entry{MustContain: "Foo"}, testOptions())

	assert.Equal(t, "Foo", got.Title)
	assert.Equal(t, "Foo", got.MustContain)
	assert.Equal(t, "/downloads/Anime/Winter 2024/Foo", got.SavePath)
	assert.Equal(t, []string{"http://x"}, got.AffectedFeeds)
	assert.True(t, got.IsEnabled())
	require.NotNil(t, got.AddPaused)
	assert.False(t, *got.AddPaused)
	assert.JSONEq(t, `""`, string(got.LastMatch))
	assert.Equal(t, []string{}, got.PreviouslyMatched)

	require.NotNil(t, got.TorrentParams)
	want := DefaultTorrentParams()
	want.SavePath = got.SavePath
	if diff := cmp.Diff(want, *got.TorrentParams); diff != "" {
		t.Errorf("torrentParams mismatch (-want +got):\n%s", diff)
	}
}

func TestCompletePreservesPresentFields(t *testing.T) {
	disabled := false
	in := Entry{
		Title:          "Winter 2024 - Foo",
		MustContain:    "foo 1080p",
		MustNotContain: "720p",
		SavePath:       `D:\Custom\Foo`,
		Category:       "tv",
		Enabled:        &disabled,
		AffectedFeeds:  []string{"http://feed"},
		LastMatch:      json.RawMessage(`"05 Jan 2024 10:00:00 +0000"`),
		Priority:       3,
		UseRegex:       true,
		TorrentParams: &TorrentParams{
			RatioLimit: 1.5,
			Tags:       []string{"anime"},
		},
		Extra: map[string]json.RawMessage{"custom": json.RawMessage(`{"a":1}`)},
	}

	got := Complete(in, testOptions())

	assert.Equal(t, in.Title, got.Title)
	assert.Equal(t, in.MustContain, got.MustContain)
	assert.Equal(t, in.MustNotContain, got.MustNotContain)
	assert.Equal(t, in.SavePath, got.SavePath)
	assert.Equal(t, "tv", got.Category)
	assert.False(t, got.IsEnabled())
	assert.Equal(t, in.AffectedFeeds, got.AffectedFeeds)
	assert.Equal(t, in.LastMatch, got.LastMatch)
	assert.Equal(t, 3, got.Priority)
	assert.True(t, got.UseRegex)
	assert.Equal(t, in.Extra, got.Extra)

	require.NotNil(t, got.TorrentParams)
	assert.Equal(t, 1.5, got.TorrentParams.RatioLimit)
	assert.Equal(t, []string{"anime"}, got.TorrentParams.Tags)
	assert.Equal(t, in.SavePath, got.TorrentParams.SavePath, "save path is mirrored")
	assert.Equal(t, "tv", got.TorrentParams.Category, "category is mirrored")

	// the input is left untouched
	assert.Empty(t, in.TorrentParams.SavePath)
	assert.Nil(t, in.AddPaused)
}

func TestCompleteStripsSeasonPrefix(t *testing.T) {
	tests := []struct {
		name      string
		title     string
		wantMatch string
		wantPath  string
	}{
		{name: "configured prefix", title: "Winter 2024 - Foo: Bar", wantMatch: "Foo: Bar", wantPath: "/downloads/Anime/Winter 2024/Foo - Bar"},
		{name: "other season prefix", title: "Fall 2023 - Foo", wantMatch: "Foo", wantPath: "/downloads/Anime/Winter 2024/Foo"},
		{name: "no prefix", title: "Foo?", wantMatch: "Foo?", wantPath: "/downloads/Anime/Winter 2024/Foo_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Complete(Entry{Title: tt.title}, testOptions())
			assert.Equal(t, tt.title, got.Title)
			assert.Equal(t, tt.wantMatch, got.MustContain)
			assert.Equal(t, tt.wantPath, got.SavePath)
		})
	}
}

func TestCompleteBackfillsFromTorrentParams(t *testing.T) {
	tp := DefaultTorrentParams()
	tp.SavePath = "/srv/anime/Foo"
	tp.Category = "anime"

	got := Complete(Entry{Title: "Foo", TorrentParams: &tp}, testOptions())
	assert.Equal(t, "/srv/anime/Foo", got.SavePath)
	assert.Equal(t, "anime", got.Category)
}

func TestCompleteWithoutDefaults(t *testing.T) {
	got := Complete(Entry{Title: "Foo"}, Options{})
	assert.Equal(t, "Foo", got.SavePath)
	assert.Equal(t, []string{}, got.AffectedFeeds)
	assert.Empty(t, got.Category)

	got = Complete(Entry{Title: "Foo"}, Options{DefaultCategory: "anime", SavePrefix: "/dl"})
	assert.Equal(t, "/dl/Foo", got.SavePath, "no season folder without season and year")
	assert.Equal(t, "anime", got.Category)
}

func TestCompleteIsIdempotent(t *testing.T) {
	opts := testOptions()
	for _, e := range []Entry{
		{Title: "Foo"},
		{MustContain: "Bar"},
		{Title: "Winter 2024 - Baz", Category: "x"},
	} {
		once := Complete(e, opts)
		twice := Complete(once, opts)
		if diff := cmp.Diff(once, twice); diff != "" {
			t.Errorf("Complete not idempotent for %q (-once +twice):\n%s", e.DisplayTitle(), diff)
		}
	}
}

func TestCompleteSavePathIsSanitized(t *testing.T) {
	got := Complete(Entry{Title: `Re:Zero / Starting Life?`}, testOptions())
	for _, seg := range pathSegments(got.SavePath) {
		assert.NoError(t, foldername.Validate(seg), seg)
		assert.Equal(t, seg, foldername.Sanitize(seg))
	}
}

func TestBuildSavePath(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		want   string
	}{
		{name: "trailing slash", prefix: "/downloads/Anime/", want: "/downloads/Anime/Winter 2024/Foo"},
		{name: "windows", prefix: `D:\Anime\`, want: "D:/Anime/Winter 2024/Foo"},
		{name: "unc", prefix: `\\nas\media`, want: "//nas/media/Winter 2024/Foo"},
		{name: "root", prefix: "/", want: "/Winter 2024/Foo"},
		{name: "empty", prefix: "", want: "Foo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			opts.SavePrefix = tt.prefix
			assert.Equal(t, tt.want, BuildSavePath("Foo", opts))
		})
	}

	assert.Empty(t, BuildSavePath("  ", testOptions()), "blank names produce no folder")
}

func TestDisplayPath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "unix", path: "/downloads/Anime/Winter 2024/Foo", want: `\downloads\Anime\Winter 2024\Foo`},
		{name: "drive", path: "D:/Anime", want: `D:\Anime`},
		{name: "empty", path: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DisplayPath(tt.path)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.path, ParseDisplayPath(got))
		})
	}
}

func TestParseDisplayPath(t *testing.T) {
	assert.Equal(t, "/downloads/Anime/Foo", ParseDisplayPath(` \downloads\Anime\Foo `))
	assert.Equal(t, "D:/Anime", ParseDisplayPath(`D:\Anime`))
}
