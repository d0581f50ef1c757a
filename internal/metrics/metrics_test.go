// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New()

	m.ObserveImport("list_of_titles", 3, 1, nil)
	m.ObserveImport("unrecognized", 0, 0, errors.New("bad"))
	m.ObservePush(4, 1)
	m.ObserveRemote("rss_rules", nil)
	m.ObserveIssues("title", "title", "savePath")
	m.SetCollectionSize(12, 2)

	assert.InDelta(t, 1, testutil.ToFloat64(m.ImportsTotal.WithLabelValues("list_of_titles", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ImportsTotal.WithLabelValues("unrecognized", "failure")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.ImportedTitles), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.RulesPushedTotal.WithLabelValues("success")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.ValidationIssues.WithLabelValues("title")), 0)
	assert.InDelta(t, 12, testutil.ToFloat64(m.WorkingTitles), 0)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveImport("x", 1, 1, nil)
	m.ObservePush(1, 1)
	m.ObserveRemote("x", nil)
	m.ObserveIssues("x")
	m.SetCollectionSize(1, 1)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObservePush(1, 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `qrr_rules_pushed_total{outcome="success"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
