// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes Prometheus counters for imports, pushes and remote
// calls.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qrr"

type Metrics struct {
	registry *prometheus.Registry

	ImportsTotal        *prometheus.CounterVec
	ImportedTitles      prometheus.Counter
	DuplicateTitles     prometheus.Counter
	ValidationIssues    *prometheus.CounterVec
	RulesPushedTotal    *prometheus.CounterVec
	RemoteRequests      *prometheus.CounterVec
	WorkingTitles       prometheus.Gauge
	TrashedTitles       prometheus.Gauge
	SubsPleaseRefreshes prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ImportsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Title imports by detected input shape and outcome",
		}, []string{"shape", "outcome"}),
		ImportedTitles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imported_titles_total",
			Help:      "Titles added to the working collection",
		}),
		DuplicateTitles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_titles_total",
			Help:      "Titles skipped because they were already present",
		}),
		ValidationIssues: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_issues_total",
			Help:      "Validation issues found, by field",
		}, []string{"field"}),
		RulesPushedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_pushed_total",
			Help:      "Rules sent to qBittorrent by outcome",
		}, []string{"outcome"}),
		RemoteRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Requests to qBittorrent and SubsPlease by operation and outcome",
		}, []string{"operation", "outcome"}),
		WorkingTitles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "working_titles",
			Help:      "Entries in the working collection",
		}),
		TrashedTitles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trashed_titles",
			Help:      "Entries waiting in the trash",
		}),
		SubsPleaseRefreshes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subsplease_refreshes_total",
			Help:      "SubsPlease schedule refreshes",
		}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// ObserveRemote counts one remote call.
func (m *Metrics) ObserveRemote(operation string, err error) {
	if m == nil {
		return
	}
	m.RemoteRequests.WithLabelValues(operation, outcome(err)).Inc()
}

// ObserveImport counts an import attempt and what it did.
func (m *Metrics) ObserveImport(shape string, added, duplicates int, err error) {
	if m == nil {
		return
	}
	m.ImportsTotal.WithLabelValues(shape, outcome(err)).Inc()
	m.ImportedTitles.Add(float64(added))
	m.DuplicateTitles.Add(float64(duplicates))
}

// ObserveIssues counts issues by field.
func (m *Metrics) ObserveIssues(fields ...string) {
	if m == nil {
		return
	}
	for _, f := range fields {
		m.ValidationIssues.WithLabelValues(f).Inc()
	}
}

func (m *Metrics) ObservePush(pushed, failed int) {
	if m == nil {
		return
	}
	m.RulesPushedTotal.WithLabelValues("success").Add(float64(pushed))
	m.RulesPushedTotal.WithLabelValues("failure").Add(float64(failed))
}

// SetCollectionSize updates the working and trash gauges.
func (m *Metrics) SetCollectionSize(working, trashed int) {
	if m == nil {
		return
	}
	m.WorkingTitles.Set(float64(working))
	m.TrashedTitles.Set(float64(trashed))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
