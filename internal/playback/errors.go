// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import "errors"

var (
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("playback session closed")

	// ErrSessionActive is returned by Open on an already-opened session.
	ErrSessionActive = errors.New("playback session already open")

	// ErrNoSuchEpisode is returned for out-of-range navigation.
	ErrNoSuchEpisode = errors.New("no such episode")

	// ErrNoPlayableVariant means the episode carries no variants at all.
	ErrNoPlayableVariant = errors.New("episode has no playable variant")
)
