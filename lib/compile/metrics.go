// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package compile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects compile pipeline telemetry on its own registry.
// All recording methods are safe to call on a nil receiver, so a
// service wired without metrics pays nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	buildsInFlight prometheus.Gauge
	buildDuration  prometheus.Histogram
	admissionWait  prometheus.Histogram
	backfillsTotal prometheus.Counter
}

// NewMetrics creates the compile metric set on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiln",
			Subsystem: "compile",
			Name:      "requests_total",
			Help:      "Compile requests by outcome (built, attached, cached, backfilled, failed, abandoned)",
		},
		[]string{"outcome"},
	)

	m.buildsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kiln",
			Subsystem: "compile",
			Name:      "builds_in_flight",
			Help:      "Toolchain processes currently holding a build slot",
		},
	)

	m.buildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kiln",
			Subsystem: "compile",
			Name:      "build_duration_seconds",
			Help:      "Wall-clock time of successful toolchain runs",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		},
	)

	m.admissionWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kiln",
			Subsystem: "compile",
			Name:      "admission_wait_seconds",
			Help:      "Time builds spent queued for a build slot",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	m.backfillsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kiln",
			Subsystem: "compile",
			Name:      "abi_backfills_total",
			Help:      "Cache hits whose interface side-car had to be regenerated",
		},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.buildsInFlight,
		m.buildDuration,
		m.admissionWait,
		m.backfillsTotal,
	)

	return m
}

// Registry returns the underlying registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) recordRequest(outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordBackfill() {
	if m == nil {
		return
	}
	m.backfillsTotal.Inc()
}

func (m *Metrics) recordAdmissionWait(wait time.Duration) {
	if m == nil {
		return
	}
	m.admissionWait.Observe(wait.Seconds())
}

func (m *Metrics) recordBuildDuration(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.buildDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) buildStarted() {
	if m == nil {
		return
	}
	m.buildsInFlight.Inc()
}

func (m *Metrics) buildFinished() {
	if m == nil {
		return
	}
	m.buildsInFlight.Dec()
}
