// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the playback engine over HTTP for its host client.
package api

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yutupremsatu/dracinbox/internal/log"
	"github.com/yutupremsatu/dracinbox/internal/playback"
)

// ErrNoSessionFactory is returned by New when Options.NewSession is nil.
var ErrNoSessionFactory = errors.New("api: session factory is required")

// ErrSessionNotFound is mapped to a 404 by the handlers.
var ErrSessionNotFound = errors.New("api: no such session")

// Options configures the control surface.
type Options struct {
	// NewSession builds a fresh playback session with its sink bound.
	// Each open request gets its own session.
	NewSession func() (*playback.Session, error)

	// RateLimit is requests per minute per client IP; <= 0 uses a default.
	RateLimit int
	// RateLimitWindow overrides the one-minute window, mainly for tests.
	RateLimitWindow time.Duration
}

// Server owns the HTTP control surface and the live sessions behind it.
type Server struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*playback.Session
}

// New creates the control surface server.
func New(opts Options) (*Server, error) {
	if opts.NewSession == nil {
		return nil, ErrNoSessionFactory
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 600
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}
	return &Server{
		opts:     opts,
		logger:   log.WithComponent("api"),
		sessions: make(map[string]*playback.Session),
	}, nil
}

// Shutdown closes every live session. Safe to call more than once.
func (s *Server) Shutdown() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*playback.Session)
	s.mu.Unlock()

	for id, sess := range sessions {
		sess.Close()
		s.logger.Info().Str(log.FieldSessionID, id).Msg("session closed on shutdown")
	}
}

func (s *Server) addSession(sess *playback.Session) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	return id
}

func (s *Server) session(id string) (*playback.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *Server) removeSession(id string) (*playback.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	delete(s.sessions, id)
	return sess, nil
}
