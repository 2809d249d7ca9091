// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yutupremsatu/dracinbox/internal/canonical"
	"github.com/yutupremsatu/dracinbox/internal/log"
	"github.com/yutupremsatu/dracinbox/internal/playback"
	"github.com/yutupremsatu/dracinbox/internal/selector"
)

const maxRequestBody = 64 << 10

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	live := len(s.sessions)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": live,
	})
}

type openSessionRequest struct {
	Provider     string `json:"provider"`
	TitleID      string `json:"titleId"`
	EpisodeIndex int    `json:"episodeIndex"`
}

type openSessionResponse struct {
	SessionID string          `json:"sessionId"`
	Status    playback.Status `json:"status"`
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := canonical.ParseProvider(req.Provider)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.TitleID == "" {
		writeError(w, errors.New("titleId is required"))
		return
	}
	if req.EpisodeIndex < 0 {
		writeError(w, errors.New("episodeIndex must be >= 0"))
		return
	}

	sess, err := s.opts.NewSession()
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err := sess.Open(p, req.TitleID, req.EpisodeIndex); err != nil {
		sess.Close()
		writeError(w, err)
		return
	}

	id := s.addSession(sess)
	s.logger.Info().
		Str(log.FieldSessionID, id).
		Str(log.FieldProvider, string(p)).
		Str(log.FieldTitleID, req.TitleID).
		Int(log.FieldEpisodeIndex, req.EpisodeIndex).
		Msg("session opened")

	st, err := sess.Status()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, openSessionResponse{SessionID: id, Status: st})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := sess.Status()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, err := s.removeSession(id)
	if err != nil {
		writeError(w, err)
		return
	}
	sess.Close()
	s.logger.Info().Str(log.FieldSessionID, id).Msg("session closed")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *playback.Session) error { return sess.Next() })
}

func (s *Server) handlePrev(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *playback.Session) error { return sess.Prev() })
}

type jumpRequest struct {
	Index int `json:"index"`
}

func (s *Server) handleJump(w http.ResponseWriter, r *http.Request) {
	var req jumpRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.withSession(w, r, func(sess *playback.Session) error { return sess.JumpTo(req.Index) })
}

type qualityRequest struct {
	// Codec prefers a codec ("H264"/"H265"); Quality pins an exact rank.
	// Both empty selects automatic variant choice.
	Codec   string `json:"codec,omitempty"`
	Quality int    `json:"quality,omitempty"`
}

func (r *qualityRequest) preference() (selector.Preference, error) {
	switch {
	case r.Codec != "" && r.Quality != 0:
		return selector.Preference{}, errors.New("codec and quality are mutually exclusive")
	case r.Codec != "":
		switch canonical.Codec(r.Codec) {
		case canonical.CodecH264, canonical.CodecH265:
			return selector.PreferCodec(canonical.Codec(r.Codec)), nil
		default:
			return selector.Preference{}, fmt.Errorf("unknown codec %q", r.Codec)
		}
	case r.Quality != 0:
		if r.Quality < 0 {
			return selector.Preference{}, errors.New("quality must be > 0")
		}
		return selector.ExactQuality(r.Quality), nil
	default:
		return selector.Auto(), nil
	}
}

func (s *Server) handleSetQuality(w http.ResponseWriter, r *http.Request) {
	var req qualityRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	pref, err := req.preference()
	if err != nil {
		writeError(w, err)
		return
	}
	s.withSession(w, r, func(sess *playback.Session) error { return sess.SetQuality(pref) })
}

// withSession runs op on the addressed session and answers with its status.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, op func(*playback.Session) error) {
	sess, err := s.session(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := op(sess); err != nil {
		writeError(w, err)
		return
	}
	st, err := sess.Status()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
