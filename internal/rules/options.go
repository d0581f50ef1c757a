// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"strconv"
	"time"

	"github.com/autobrr/qrr/internal/foldername"
)

var Seasons = []string{"Winter", "Spring", "Summer", "Fall"}

// Options carries the reference data the pipeline needs. It is built by the
// caller from configuration and cache; nothing here reads global state.
type Options struct {
	Season          string
	Year            string
	SavePrefix      string
	DefaultFeedURL  string
	DefaultCategory string
	Sanitize        foldername.Options
}

// Prefix returns "{season} {year} - ", or "" when either part is missing.
func (o Options) Prefix() string {
	return Prefix(o.Season, o.Year)
}

func Prefix(season, year string) string {
	if season == "" || year == "" {
		return ""
	}
	return season + " " + year + " - "
}

// CurrentSeason returns the anime broadcast season containing t.
func CurrentSeason(t time.Time) (season string, year string) {
	return Seasons[(int(t.Month())-1)/3], strconv.Itoa(t.Year())
}

// WithCurrentSeason fills an empty season or year from t.
func (o Options) WithCurrentSeason(t time.Time) Options {
	season, year := CurrentSeason(t)
	if o.Season == "" {
		o.Season = season
	}
	if o.Year == "" {
		o.Year = year
	}
	return o
}
