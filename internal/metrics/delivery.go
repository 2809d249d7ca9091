// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeliveryEscalations counts direct-to-relay escalations.
	DeliveryEscalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dracinbox_delivery_escalations_total",
		Help: "Direct to relayed delivery escalations by provider",
	}, []string{"provider"})

	// DeliveryExhausted counts episodes where both delivery modes failed.
	DeliveryExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dracinbox_delivery_exhausted_total",
		Help: "Episodes where both delivery modes failed",
	}, []string{"provider"})

	// WarmupDuration tracks relay warm-up probe latency by outcome.
	WarmupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dracinbox_warmup_duration_seconds",
		Help:    "Relay warm-up probe latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8},
	}, []string{"outcome"})
)

// IncDeliveryEscalation records one direct-to-relay escalation.
func IncDeliveryEscalation(provider string) {
	DeliveryEscalations.WithLabelValues(provider).Inc()
}

// IncDeliveryExhausted records an episode with no delivery mode left.
func IncDeliveryExhausted(provider string) {
	DeliveryExhausted.WithLabelValues(provider).Inc()
}

// ObserveWarmup records a warm-up probe outcome ("ok", "degraded", "cancelled").
func ObserveWarmup(outcome string, d time.Duration) {
	WarmupDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
