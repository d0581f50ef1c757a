// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrr/internal/feedpreview"
	"github.com/autobrr/qrr/internal/metrics"
	"github.com/autobrr/qrr/internal/rules"
	"github.com/autobrr/qrr/internal/session"
	"github.com/autobrr/qrr/internal/subsplease"
)

// Schedule serves SubsPlease titles and matches.
type Schedule interface {
	Titles(ctx context.Context, refresh bool) ([]string, error)
	Match(ctx context.Context, title string) (subsplease.Match, bool, error)
}

// FeedPreviewer evaluates a rule against a live feed.
type FeedPreviewer interface {
	Preview(ctx context.Context, e rules.Entry, feedURL string) (*feedpreview.Report, error)
}

type LookupHandler struct {
	session  *session.Session
	schedule Schedule
	preview  FeedPreviewer
	metrics  *metrics.Metrics
}

func NewLookupHandler(s *session.Session, schedule Schedule, preview FeedPreviewer, m *metrics.Metrics) *LookupHandler {
	return &LookupHandler{session: s, schedule: schedule, preview: preview, metrics: m}
}

func (h *LookupHandler) SubsPleaseTitles(w http.ResponseWriter, r *http.Request) {
	refresh := queryBool(r, "refresh", false)
	titles, err := h.schedule.Titles(r.Context(), refresh)
	h.metrics.ObserveRemote("subsplease_schedule", err)
	if err != nil {
		log.Error().Err(err).Msg("failed to load SubsPlease schedule")
		RespondError(w, http.StatusBadGateway, "Failed to load SubsPlease schedule")
		return
	}
	if refresh && h.metrics != nil {
		h.metrics.SubsPleaseRefreshes.Inc()
	}
	RespondJSON(w, http.StatusOK, titles)
}

func (h *LookupHandler) SubsPleaseMatch(w http.ResponseWriter, r *http.Request) {
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		RespondError(w, http.StatusBadRequest, "title is required")
		return
	}

	m, ok, err := h.schedule.Match(r.Context(), title)
	if err != nil {
		log.Error().Err(err).Msg("failed to match SubsPlease title")
		RespondError(w, http.StatusBadGateway, "Failed to load SubsPlease schedule")
		return
	}
	if !ok {
		RespondError(w, http.StatusNotFound, "No matching title")
		return
	}
	RespondJSON(w, http.StatusOK, m)
}

type previewRequest struct {
	Category string `json:"category"`
	Index    int    `json:"index"`
	FeedURL  string `json:"feedUrl"`
}

var errNoFeed = errors.New("rule has no feed and no feedUrl was given")

// Preview completes the selected working entry and reports which articles of
// its feed it would download.
func (h *LookupHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	ctx := r.Context()
	opts, err := h.session.Options(ctx)
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}

	e, err := h.session.Entry(ctx, req.Category, req.Index)
	if errors.Is(err, rules.ErrEntryNotFound) {
		RespondError(w, http.StatusNotFound, "Title not found")
		return
	}
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}
	e = rules.Complete(e, opts)

	feedURL := strings.TrimSpace(req.FeedURL)
	if feedURL == "" && len(e.AffectedFeeds) > 0 {
		feedURL = e.AffectedFeeds[0]
	}
	if feedURL == "" {
		RespondError(w, http.StatusBadRequest, errNoFeed.Error())
		return
	}

	report, err := h.preview.Preview(ctx, e, feedURL)
	h.metrics.ObserveRemote("feed_preview", err)
	if err != nil {
		log.Warn().Err(err).Str("feed", feedURL).Msg("feed preview failed")
		RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, report)
}
