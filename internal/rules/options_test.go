// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCurrentSeason(t *testing.T) {
	tests := []struct {
		month time.Month
		want  string
	}{
		{time.January, "Winter"},
		{time.March, "Winter"},
		{time.April, "Spring"},
		{time.June, "Spring"},
		{time.July, "Summer"},
		{time.September, "Summer"},
		{time.October, "Fall"},
		{time.December, "Fall"},
	}

	for _, tt := range tests {
		t.Run(tt.month.String(), func(t *testing.T) {
			season, year := CurrentSeason(time.Date(2025, tt.month, 15, 0, 0, 0, 0, time.UTC))
			assert.Equal(t, tt.want, season)
			assert.Equal(t, "2025", year)
		})
	}
}

func TestWithCurrentSeason(t *testing.T) {
	now := time.Date(2026, time.October, 19, 0, 0, 0, 0, time.UTC)

	opts := Options{}.WithCurrentSeason(now)
	assert.Equal(t, "Fall", opts.Season)
	assert.Equal(t, "2026", opts.Year)

	opts = Options{Season: "Spring"}.WithCurrentSeason(now)
	assert.Equal(t, "Spring", opts.Season)
	assert.Equal(t, "2026", opts.Year)
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "Winter 2024 - ", Prefix("Winter", "2024"))
	assert.Empty(t, Prefix("", "2024"))
	assert.Equal(t, "Fall 2023 - ", Options{Season: "Fall", Year: "2023"}.Prefix())
}
