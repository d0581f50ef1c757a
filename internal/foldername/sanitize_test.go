// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package foldername

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "whitespace only", input: "   \t ", want: ""},
		{name: "plain title", input: "Frieren", want: "Frieren"},
		{name: "surrounding whitespace", input: "  Frieren  ", want: "Frieren"},
		{name: "colon becomes dash", input: "Show: Part Two", want: "Show - Part Two"},
		{name: "illegal characters", input: `a<b>c"d/e\f|g?h*i`, want: "a_b_c_d_e_f_g_h_i"},
		{name: "runs collapse", input: "a??**b", want: "a_b"},
		{name: "trailing dots and spaces", input: "Title. . .", want: "Title"},
		{name: "reserved name", input: "CON", want: "CON_"},
		{name: "reserved name lowercase with extension", input: "con.txt", want: "con_.txt"},
		{name: "reserved com port", input: "com1", want: "com1_"},
		{name: "reserved lpt with suffix", input: "LPT9.tar.gz", want: "LPT9_.tar.gz"},
		{name: "not reserved", input: "CONSOLE", want: "CONSOLE"},
		{name: "leading colon", input: ":Re Zero", want: "-Re Zero"},
		{name: "only illegal", input: "???", want: "_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.input))
		})
	}
}

func TestSanitizeShowPartTwo(t *testing.T) {
	got := Sanitize("Show: Part Two")
	assert.True(t, strings.HasPrefix(got, "Show -"))
	assert.NotContains(t, got, ":")
	assert.False(t, strings.ContainsAny(got, illegalChars))
	require.NoError(t, Validate(got))
}

func TestSanitizeTruncates(t *testing.T) {
	long := strings.Repeat("あ", 300)
	got := Sanitize(long)
	assert.Equal(t, DefaultMaxLength, len([]rune(got)))

	got = SanitizeWith("abcdef   ghi", Options{MaxLength: 8})
	assert.Equal(t, "abcdef", got, "trailing space exposed by truncation is stripped")
}

func TestSanitizeWithReplacement(t *testing.T) {
	tests := []struct {
		name string
		rep  rune
		want string
	}{
		{name: "dash", rep: '-', want: "a-b"},
		{name: "illegal replacement falls back", rep: '*', want: "a_b"},
		{name: "space falls back", rep: ' ', want: "a_b"},
		{name: "dot falls back", rep: '.', want: "a_b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeWith("a?b", Options{Replacement: tt.rep}))
		})
	}
}

func TestParseReplacement(t *testing.T) {
	assert.Equal(t, '-', ParseReplacement("-"))
	assert.Equal(t, DefaultReplacement, ParseReplacement(""))
	assert.Equal(t, DefaultReplacement, ParseReplacement("ab"))
	assert.Equal(t, DefaultReplacement, ParseReplacement("|"))
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"Show: Part Two",
		"CON",
		"con.txt",
		"  nul . ",
		"a::b",
		"a: :b",
		"??..??",
		"Title...",
		":",
		" : ",
		"CON .txt",
		"\x00\xffbroken",
		"Oshi no Ko: Season 2 / Part 1?",
		strings.Repeat("x", 254) + ". y",
		strings.Repeat("ab:", 120),
	}

	opts := []Options{{}, {Replacement: '-'}, {MaxLength: 4}, {MaxLength: 3}}

	for _, o := range opts {
		for _, in := range inputs {
			once := SanitizeWith(in, o)
			twice := SanitizeWith(once, o)
			assert.Equal(t, once, twice, "input %q options %+v", in, o)
		}
	}
}

func FuzzSanitizeIdempotent(f *testing.F) {
	for _, seed := range []string{"Show: Part Two", "CON", "con.txt", "a??b", " . "} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		once := Sanitize(in)
		if twice := Sanitize(once); once != twice {
			t.Fatalf("Sanitize not idempotent for %q: %q != %q", in, once, twice)
		}
		if strings.ContainsAny(once, illegalChars) {
			t.Fatalf("Sanitize(%q) = %q keeps illegal characters", in, once)
		}
	})
}
