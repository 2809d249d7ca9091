// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics exposes Prometheus instrumentation for the playback engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionTransitions tracks controller state machine transitions.
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dracinbox_session_transitions_total",
		Help: "Playback session state transitions by provider and edge",
	}, []string{"provider", "from", "to"})

	// PlaybackRetries tracks transient-error retries that force a metadata refetch.
	PlaybackRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dracinbox_playback_retries_total",
		Help: "Transient playback retries by provider",
	}, []string{"provider"})

	// PlaybackFailures tracks episodes that reached the terminal Failed state.
	PlaybackFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dracinbox_playback_failures_total",
		Help: "Episodes terminally failed after the retry budget",
	}, []string{"provider"})

	// AutoAdvance tracks seamless end-of-episode transitions.
	AutoAdvance = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dracinbox_auto_advance_total",
		Help: "Auto-advance transitions between episodes",
	}, []string{"provider"})

	// StartupLatency tracks time from session open to Playing.
	StartupLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dracinbox_playback_startup_latency_seconds",
		Help:    "Time from episode request to Playing state",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13, 20},
	}, []string{"provider", "warmed"})
)

// IncSessionTransition records one state machine edge.
func IncSessionTransition(provider, from, to string) {
	SessionTransitions.WithLabelValues(provider, from, to).Inc()
}

// IncPlaybackRetry records a transient-error retry.
func IncPlaybackRetry(provider string) {
	PlaybackRetries.WithLabelValues(provider).Inc()
}

// IncPlaybackFailure records a terminal episode failure.
func IncPlaybackFailure(provider string) {
	PlaybackFailures.WithLabelValues(provider).Inc()
}

// IncAutoAdvance records a seamless episode transition.
func IncAutoAdvance(provider string) {
	AutoAdvance.WithLabelValues(provider).Inc()
}

// ObserveStartupLatency records the time to reach Playing.
func ObserveStartupLatency(provider string, warmed bool, d time.Duration) {
	StartupLatency.WithLabelValues(provider, strconv.FormatBool(warmed)).Observe(d.Seconds())
}
