// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransportRetries counts manifest/segment fetch retries before fatal classification.
	TransportRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dracinbox_transport_retries_total",
		Help: "Streaming transport fetch retries by stage",
	}, []string{"stage"})

	// TransportFatal counts fatal transport errors by kind.
	TransportFatal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dracinbox_transport_fatal_total",
		Help: "Fatal streaming transport errors by kind",
	}, []string{"kind"})

	// SubtitleReasserts counts visibility re-assertions by trigger.
	SubtitleReasserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dracinbox_subtitle_reasserts_total",
		Help: "Subtitle track visibility re-assertions by trigger",
	}, []string{"trigger"})
)

// IncTransportRetry records one fetch retry ("manifest" or "segment").
func IncTransportRetry(stage string) {
	TransportRetries.WithLabelValues(stage).Inc()
}

// IncTransportFatal records a fatal transport error.
func IncTransportFatal(kind string) {
	TransportFatal.WithLabelValues(kind).Inc()
}

// IncSubtitleReassert records a subtitle visibility re-assertion.
func IncSubtitleReassert(trigger string) {
	SubtitleReasserts.WithLabelValues(trigger).Inc()
}
