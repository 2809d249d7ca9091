// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/yutupremsatu/dracinbox/internal/playback"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, playback.ErrSessionClosed):
		writeJSONError(w, http.StatusGone, err.Error())
	case errors.Is(err, playback.ErrSessionActive):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, playback.ErrNoSuchEpisode):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeJSONError(w, http.StatusBadRequest, err.Error())
	}
}
