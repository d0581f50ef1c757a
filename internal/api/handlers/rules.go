// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrr/internal/cache"
	"github.com/autobrr/qrr/internal/foldername"
	"github.com/autobrr/qrr/internal/metrics"
	"github.com/autobrr/qrr/internal/models"
	"github.com/autobrr/qrr/internal/rules"
	"github.com/autobrr/qrr/internal/session"
)

// HistoryStore records pushes.
type HistoryStore interface {
	Create(ctx context.Context, run *models.PushRun) error
	List(ctx context.Context, limit int) ([]*models.PushRun, error)
	Get(ctx context.Context, runID string) (*models.PushRun, error)
}

type RulesHandler struct {
	session *session.Session
	cache   *cache.Store
	remote  RemoteRules
	history HistoryStore
	metrics *metrics.Metrics
}

func NewRulesHandler(s *session.Session, store *cache.Store, remote RemoteRules, history HistoryStore, m *metrics.Metrics) *RulesHandler {
	return &RulesHandler{session: s, cache: store, remote: remote, history: history, metrics: m}
}

func (h *RulesHandler) knownCategories() []string {
	names, err := h.cache.CategoryNames()
	if err != nil {
		log.Warn().Err(err).Msg("failed to read cached categories")
	}
	return names
}

// Export writes the qBittorrent rules file for the working collection.
func (h *RulesHandler) Export(w http.ResponseWriter, r *http.Request) {
	defs, issues, err := h.session.Export(r.Context())
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if queryBool(r, "download", false) {
		w.Header().Set("Content-Disposition", `attachment; filename="rss_rules.json"`)
	}
	w.Header().Set("X-Export-Issues", strconv.Itoa(len(issues)))
	w.WriteHeader(http.StatusOK)
	if err := rules.EncodeExport(w, defs); err != nil {
		log.Error().Err(err).Msg("failed to encode export")
	}
}

func (h *RulesHandler) Check(w http.ResponseWriter, r *http.Request) {
	issues, err := h.session.Check(r.Context(), h.knownCategories())
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}
	if issues == nil {
		issues = []rules.Issue{}
	}
	RespondJSON(w, http.StatusOK, issues)
}

type pushBlocked struct {
	Error  string        `json:"error"`
	Issues []rules.Issue `json:"issues"`
}

// Push sends the export set to qBittorrent. Validation issues block the push
// unless force is set.
func (h *RulesHandler) Push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	issues, err := h.session.Check(ctx, h.knownCategories())
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}
	if len(issues) > 0 && !queryBool(r, "force", false) {
		RespondJSON(w, http.StatusConflict, pushBlocked{Error: "validation issues found", Issues: issues})
		return
	}

	defs, _, err := h.session.Export(ctx)
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}
	if len(defs) == 0 {
		RespondError(w, http.StatusBadRequest, "No rules to push")
		return
	}

	run, err := h.remote.Push(ctx, defs)
	h.metrics.ObserveRemote("push_rules", err)
	if err != nil {
		log.Error().Err(err).Msg("failed to push rules")
		RespondError(w, http.StatusBadGateway, "Failed to connect to qBittorrent")
		return
	}
	h.metrics.ObservePush(run.Total-run.Failed, run.Failed)

	if h.history != nil {
		if err := h.history.Create(ctx, run); err != nil {
			log.Error().Err(err).Msg("failed to record push history")
		}
	}

	status := http.StatusOK
	if run.Failed > 0 {
		status = http.StatusMultiStatus
	}
	RespondJSON(w, status, run)
}

func (h *RulesHandler) History(w http.ResponseWriter, r *http.Request) {
	runs, err := h.history.List(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		log.Error().Err(err).Msg("failed to list push history")
		RespondError(w, http.StatusInternalServerError, "Failed to load push history")
		return
	}
	if runs == nil {
		runs = []*models.PushRun{}
	}
	RespondJSON(w, http.StatusOK, runs)
}

func (h *RulesHandler) HistoryRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.history.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, models.ErrPushRunNotFound) {
		RespondError(w, http.StatusNotFound, "Push run not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load push run")
		RespondError(w, http.StatusInternalServerError, "Failed to load push run")
		return
	}
	RespondJSON(w, http.StatusOK, run)
}

type sanitizeRequest struct {
	Name        string `json:"name"`
	Replacement string `json:"replacement"`
}

type sanitizeResponse struct {
	Sanitized string `json:"sanitized"`
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
}

// Sanitize reports whether name is a valid folder name and what it sanitizes to.
func (h *RulesHandler) Sanitize(w http.ResponseWriter, r *http.Request) {
	var req sanitizeRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	opts, err := h.session.Options(r.Context())
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}
	sopts := opts.Sanitize
	if req.Replacement != "" {
		sopts.Replacement = foldername.ParseReplacement(req.Replacement)
	}

	valid, reason := foldername.Check(req.Name)
	RespondJSON(w, http.StatusOK, sanitizeResponse{
		Sanitized: foldername.SanitizeWith(req.Name, sopts),
		Valid:     valid,
		Reason:    reason,
	})
}
