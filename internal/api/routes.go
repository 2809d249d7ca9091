// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes builds the control-surface handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Use(rateLimit(s.opts.RateLimit, s.opts.RateLimitWindow))

		r.Post("/", s.handleOpenSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleSessionStatus)
			r.Delete("/", s.handleCloseSession)
			r.Post("/next", s.handleNext)
			r.Post("/prev", s.handlePrev)
			r.Post("/jump", s.handleJump)
			r.Post("/quality", s.handleSetQuality)
		})
	})

	return r
}
