// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrr/internal/cache"
	"github.com/autobrr/qrr/internal/metrics"
	"github.com/autobrr/qrr/internal/models"
	"github.com/autobrr/qrr/internal/rules"
	"github.com/autobrr/qrr/internal/session"
)

const maxImportBytes = 16 << 20

// RemoteRules is the qBittorrent side of fetch and push.
type RemoteRules interface {
	FetchRules(ctx context.Context) ([]byte, error)
	Push(ctx context.Context, defs map[string]rules.Entry) (*models.PushRun, error)
}

type TitlesHandler struct {
	session *session.Session
	cache   *cache.Store
	remote  RemoteRules
	metrics *metrics.Metrics
}

func NewTitlesHandler(s *session.Session, store *cache.Store, remote RemoteRules, m *metrics.Metrics) *TitlesHandler {
	return &TitlesHandler{session: s, cache: store, remote: remote, metrics: m}
}

func (h *TitlesHandler) List(w http.ResponseWriter, r *http.Request) {
	titles, err := h.session.Titles(r.Context())
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}
	RespondJSON(w, http.StatusOK, titles)
}

type importResponse struct {
	session.ImportReport
	Shape       rules.Shape   `json:"shape"`
	ParseIssues []rules.Issue `json:"parseIssues,omitempty"`
}

// Import reads titles in any supported layout from the request body.
// Query: prefix, sanitize, force, format=yaml.
func (h *TitlesHandler) Import(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		RespondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}

	opts, err := h.session.Options(ctx)
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}
	prefs, err := h.cache.Prefs()
	if err != nil {
		log.Warn().Err(err).Msg("failed to read preferences, using defaults")
		prefs = cache.DefaultPrefs()
	}

	n := rules.NewNormalizer(opts)
	var res *rules.Result
	if r.URL.Query().Get("format") == "yaml" {
		res, err = n.NormalizeYAML(body)
	} else {
		res, err = n.NormalizeText(string(body))
	}
	if err != nil {
		h.metrics.ObserveImport(rules.Unrecognized.String(), 0, 0, err)
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	known, err := h.cache.CategoryNames()
	if err != nil {
		log.Warn().Err(err).Msg("failed to read cached categories")
	}

	report, err := h.session.Import(ctx, res.Titles, session.ImportOptions{
		Prefix:          queryBool(r, "prefix", prefs.Bool(cache.PrefPrefixImports)),
		Sanitize:        queryBool(r, "sanitize", prefs.Bool(cache.PrefAutoSanitizeImports)),
		Force:           queryBool(r, "force", false),
		KnownCategories: known,
	})
	resp := importResponse{ImportReport: report, Shape: res.Shape, ParseIssues: res.Issues}

	h.metrics.ObserveImport(res.Shape.String(), report.Added, report.Duplicates, err)
	h.observeIssues(report.Issues)

	switch {
	case errors.Is(err, session.ErrNeedsConfirmation):
		RespondJSON(w, http.StatusConflict, resp)
		return
	case errors.Is(err, session.ErrNothingToImport):
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}

	h.refreshGauges(ctx)
	RespondJSON(w, http.StatusOK, resp)
}

// Fetch pulls the remote rules and merges new ones into "existing".
func (h *TitlesHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, err := h.remote.FetchRules(ctx)
	h.metrics.ObserveRemote("fetch_rules", err)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch rules from qBittorrent")
		RespondError(w, http.StatusBadGateway, "Failed to fetch rules from qBittorrent")
		return
	}

	remote, err := remoteEntries(ctx, h.session, data)
	if err != nil {
		RespondError(w, http.StatusBadGateway, err.Error())
		return
	}

	added, err := h.session.MergeRemote(ctx, remote)
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}

	h.refreshGauges(ctx)
	RespondJSON(w, http.StatusOK, map[string]any{
		"remote": len(remote),
		"added":  len(added),
	})
}

// remoteEntries normalizes a rules response. An empty rule set is not an error.
func remoteEntries(ctx context.Context, s *session.Session, data []byte) ([]rules.Entry, error) {
	opts, err := s.Options(ctx)
	if err != nil {
		return nil, err
	}
	return rules.NewNormalizer(opts).NormalizeRemote(data)
}

type prefixRequest struct {
	Season string `json:"season"`
	Year   string `json:"year"`
}

func (h *TitlesHandler) ApplyPrefix(w http.ResponseWriter, r *http.Request) {
	var req prefixRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondError(w, http.StatusBadRequest, "Invalid request payload")
			return
		}
	}
	if err := h.session.ApplyPrefix(r.Context(), req.Season, req.Year); err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}
	h.List(w, r)
}

func (h *TitlesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid index")
		return
	}

	item, err := h.session.Delete(r.Context(), category, index)
	if errors.Is(err, rules.ErrEntryNotFound) {
		RespondError(w, http.StatusNotFound, "Title not found")
		return
	}
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}

	h.refreshGauges(r.Context())
	RespondJSON(w, http.StatusOK, item)
}

func (h *TitlesHandler) Trash(w http.ResponseWriter, r *http.Request) {
	items, err := h.session.Trash(r.Context())
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}
	RespondJSON(w, http.StatusOK, items)
}

func (h *TitlesHandler) Restore(w http.ResponseWriter, r *http.Request) {
	item, err := h.session.Restore(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, session.ErrTrashItemNotFound) {
		RespondError(w, http.StatusNotFound, "Trash item not found")
		return
	}
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}

	h.refreshGauges(r.Context())
	RespondJSON(w, http.StatusOK, item)
}

func (h *TitlesHandler) Purge(w http.ResponseWriter, r *http.Request) {
	n, err := h.session.Purge(r.Context())
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}

	h.refreshGauges(r.Context())
	RespondJSON(w, http.StatusOK, map[string]int{"purged": n})
}

func (h *TitlesHandler) observeIssues(issues []rules.Issue) {
	fields := make([]string, len(issues))
	for i, is := range issues {
		fields[i] = is.Field
	}
	h.metrics.ObserveIssues(fields...)
}

func (h *TitlesHandler) refreshGauges(ctx context.Context) {
	if h.metrics == nil {
		return
	}
	titles, err := h.session.Titles(ctx)
	if err != nil {
		return
	}
	trash, err := h.session.Trash(ctx)
	if err != nil {
		return
	}
	h.metrics.SetCollectionSize(titles.Len(), len(trash))
}

type entryView struct {
	Entry           rules.Entry `json:"entry"`
	SavePathDisplay string      `json:"savePathDisplay"`
	LastMatchText   string      `json:"lastMatchText"`
}

// Get returns one entry for editing, with its save path in display form.
func (h *TitlesHandler) Get(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid index")
		return
	}

	e, err := h.session.Entry(r.Context(), chi.URLParam(r, "category"), index)
	if errors.Is(err, rules.ErrEntryNotFound) {
		RespondError(w, http.StatusNotFound, "Title not found")
		return
	}
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}
	RespondJSON(w, http.StatusOK, entryView{
		Entry:           e,
		SavePathDisplay: rules.DisplayPath(e.SavePath),
		LastMatchText:   rules.LastMatchText(e.LastMatch),
	})
}

// updateRequest carries the edited fields of one entry. Absent fields are kept.
type updateRequest struct {
	Title          *string  `json:"title"`
	MustContain    *string  `json:"mustContain"`
	MustNotContain *string  `json:"mustNotContain"`
	SavePath       *string  `json:"savePath"`
	Category       *string  `json:"assignedCategory"`
	EpisodeFilter  *string  `json:"episodeFilter"`
	Enabled        *bool    `json:"enabled"`
	UseRegex       *bool    `json:"useRegex"`
	AffectedFeeds  []string `json:"affectedFeeds"`
	// LastMatch is the edited text form; see rules.ParseLastMatch.
	LastMatch *string `json:"lastMatch"`
}

// Update edits one entry. lastMatch text that looks like JSON but does not
// parse is rejected with 409 unless force is set, in which case it is kept as
// a plain string.
func (h *TitlesHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	category := chi.URLParam(r, "category")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid index")
		return
	}

	var req updateRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	e, err := h.session.Entry(ctx, category, index)
	if errors.Is(err, rules.ErrEntryNotFound) {
		RespondError(w, http.StatusNotFound, "Title not found")
		return
	}
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}

	if req.LastMatch != nil {
		raw, err := rules.ParseLastMatch(*req.LastMatch)
		if err != nil {
			if !queryBool(r, "force", false) {
				RespondError(w, http.StatusConflict, err.Error())
				return
			}
			raw = rules.RawLastMatch(*req.LastMatch)
		}
		e.LastMatch = raw
	}
	if req.Title != nil {
		e.Title = *req.Title
	}
	if req.MustContain != nil {
		e.MustContain = *req.MustContain
	}
	if req.MustNotContain != nil {
		e.MustNotContain = *req.MustNotContain
	}
	if req.SavePath != nil {
		e.SavePath = rules.ParseDisplayPath(*req.SavePath)
		if e.TorrentParams != nil {
			e.TorrentParams.SavePath = e.SavePath
		}
	}
	if req.Category != nil {
		e.Category = *req.Category
		if e.TorrentParams != nil {
			e.TorrentParams.Category = e.Category
		}
	}
	if req.EpisodeFilter != nil {
		e.EpisodeFilter = *req.EpisodeFilter
	}
	if req.Enabled != nil {
		e.Enabled = req.Enabled
	}
	if req.UseRegex != nil {
		e.UseRegex = *req.UseRegex
	}
	if req.AffectedFeeds != nil {
		e.AffectedFeeds = req.AffectedFeeds
	}

	err = h.session.Update(ctx, category, index, e)
	if errors.Is(err, rules.ErrEntryNotFound) {
		RespondError(w, http.StatusNotFound, "Title not found")
		return
	}
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}
	RespondJSON(w, http.StatusOK, e)
}

// SanitizeRules sanitizes mustContain and save paths of every working title.
func (h *TitlesHandler) SanitizeRules(w http.ResponseWriter, r *http.Request) {
	n, err := h.session.SanitizeRules(r.Context())
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]int{"sanitized": n})
}
