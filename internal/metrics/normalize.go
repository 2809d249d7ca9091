// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NormalizeTotal tracks per-provider normalization outcomes.
	NormalizeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dracinbox_normalize_total",
		Help: "Normalization attempts by provider and result",
	}, []string{"provider", "result"})

	// NormalizeEpisodes tracks the episode count of successful normalizations.
	NormalizeEpisodes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dracinbox_normalize_episodes",
		Help:    "Episodes per normalized title",
		Buckets: []float64{1, 5, 10, 20, 40, 80, 120, 200},
	}, []string{"provider"})

	// EnvelopeDecrypts tracks encrypted envelope handling.
	EnvelopeDecrypts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dracinbox_envelope_decrypts_total",
		Help: "Encrypted metadata envelope decryptions by result",
	}, []string{"result"})
)

// IncNormalize records one normalization outcome. On failure, result carries
// the NormalizationError reason.
func IncNormalize(provider, result string) {
	NormalizeTotal.WithLabelValues(provider, result).Inc()
}

// ObserveNormalizedEpisodes records a successful normalization's episode count.
func ObserveNormalizedEpisodes(provider string, count int) {
	NormalizeEpisodes.WithLabelValues(provider).Observe(float64(count))
}

// IncEnvelopeDecrypt records an envelope decrypt attempt.
func IncEnvelopeDecrypt(result string) {
	EnvelopeDecrypts.WithLabelValues(result).Inc()
}
