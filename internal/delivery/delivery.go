// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package delivery decides how a selected video variant reaches the media
// sink: directly from its origin, or through the same-origin relay when the
// origin blocks cross-origin playback or demands a spoofed referer.
package delivery

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/yutupremsatu/dracinbox/internal/canonical"
)

// Mode is the delivery path for a playback target.
type Mode string

const (
	ModeDirect  Mode = "direct"
	ModeRelayed Mode = "relayed"
)

// ErrDeliveryExhausted signals that both delivery modes failed for an episode.
var ErrDeliveryExhausted = errors.New("delivery exhausted: relayed mode already failed")

// Policy is a provider's delivery posture, fixed per adapter.
type Policy struct {
	// InitialMode is the first delivery mode tried for the provider.
	InitialMode Mode
	// Referer is sent to the relay so it can satisfy origin checks.
	Referer string
	// RequiresWarmup gates first playback of an episode on a relay probe.
	RequiresWarmup bool
}

// Target is the ephemeral, fully resolved playback input. Targets are
// recomputed rather than mutated whenever episode, quality or mode changes.
type Target struct {
	EpisodeID   string
	Variant     canonical.VideoVariant
	Mode        Mode
	ResolvedURL string
	Headers     map[string]string
	Attempt     int
}

// Resolver builds playback targets against a relay base URL.
type Resolver struct {
	relayBase string
}

// NewResolver creates a resolver. relayBase is the same-origin relay root,
// e.g. "http://127.0.0.1:8088".
func NewResolver(relayBase string) *Resolver {
	return &Resolver{relayBase: trimSlash(relayBase)}
}

// Resolve computes the initial target for a variant under the provider policy.
// attempt feeds the relay cache-bust so a retry never replays a cached failure.
func (r *Resolver) Resolve(episodeID string, variant canonical.VideoVariant, policy Policy, attempt int) Target {
	t := Target{
		EpisodeID: episodeID,
		Variant:   variant,
		Mode:      policy.InitialMode,
		Attempt:   attempt,
	}
	if t.Mode == "" {
		t.Mode = ModeDirect
	}
	r.fill(&t, policy)
	return t
}

// Escalate transitions a failed target from direct to relayed delivery,
// exactly once. Escalating a relayed target returns ErrDeliveryExhausted.
func (r *Resolver) Escalate(t Target, policy Policy) (Target, error) {
	if t.Mode == ModeRelayed {
		return Target{}, ErrDeliveryExhausted
	}
	next := Target{
		EpisodeID: t.EpisodeID,
		Variant:   t.Variant,
		Mode:      ModeRelayed,
		Attempt:   t.Attempt,
	}
	r.fill(&next, policy)
	return next, nil
}

func (r *Resolver) fill(t *Target, policy Policy) {
	switch t.Mode {
	case ModeRelayed:
		t.ResolvedURL = r.VideoURL(t.Variant.URL, policy.Referer, t.EpisodeID, t.Attempt)
	default:
		t.ResolvedURL = t.Variant.URL
		if policy.Referer != "" {
			t.Headers = map[string]string{"Referer": policy.Referer}
		}
	}
}

// VideoURL builds the relay video URL with a cache-bust tied to the
// (episode, attempt) pair, so a fresh attempt bypasses stale relay caches.
func (r *Resolver) VideoURL(raw, referer, episodeID string, attempt int) string {
	q := url.Values{}
	q.Set("url", raw)
	if referer != "" {
		q.Set("referer", referer)
	}
	q.Set("t", fmt.Sprintf("%s-%s", episodeID, strconv.Itoa(attempt)))
	return r.relayBase + "/relay/video?" + q.Encode()
}

// SubtitleURL builds the relay URL for an external text track. Subtitles are
// always relayed: track fetches are CORS-checked by every host sink.
func (r *Resolver) SubtitleURL(raw string) string {
	q := url.Values{}
	q.Set("url", raw)
	return r.relayBase + "/relay/video?" + q.Encode()
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
