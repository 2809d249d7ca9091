// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package canonical defines the provider-independent episode and variant model
// every upstream payload is normalized into.
package canonical

import (
	"fmt"
	"strings"
)

// Provider identifies one upstream drama-content source.
type Provider string

const (
	ProviderDramaBox   Provider = "dramabox"
	ProviderNetShort   Provider = "netshort"
	ProviderReelShort  Provider = "reelshort"
	ProviderMelolo     Provider = "melolo"
	ProviderFreeReels  Provider = "freereels"
	ProviderFlickReels Provider = "flickreels"
	ProviderUnknown    Provider = ""
)

// Providers lists every supported upstream in stable order.
func Providers() []Provider {
	return []Provider{
		ProviderDramaBox,
		ProviderNetShort,
		ProviderReelShort,
		ProviderMelolo,
		ProviderFreeReels,
		ProviderFlickReels,
	}
}

// ParseProvider maps a route/context string onto a Provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Providers() {
		if p == known {
			return p, nil
		}
	}
	return ProviderUnknown, fmt.Errorf("unknown provider %q", s)
}

// Codec identifies the video encoding of a variant.
type Codec string

const (
	CodecH264    Codec = "H264"
	CodecH265    Codec = "H265"
	CodecUnknown Codec = "unknown"
)

// VideoVariant is one encoded rendition of an episode's video.
// QualityRank is higher-is-better; 0 is reserved for "unspecified/auto".
type VideoVariant struct {
	URL         string `json:"url"`
	Codec       Codec  `json:"codec"`
	QualityRank int    `json:"qualityRank"`
	IsDefault   bool   `json:"isDefault"`
}

// Episode is the canonical per-episode model. Index is 0-based and contiguous
// within a title; Variants are sorted by QualityRank descending.
type Episode struct {
	ID               string         `json:"id"`
	Index            int            `json:"index"`
	Title            string         `json:"title,omitempty"`
	PosterURL        string         `json:"posterUrl,omitempty"`
	Variants         []VideoVariant `json:"variants"`
	SubtitleURL      string         `json:"subtitleUrl,omitempty"`
	SubtitleLanguage string         `json:"subtitleLanguage,omitempty"`
	AudioLanguage    string         `json:"audioLanguage,omitempty"`
}

// Title is a normalized detail response: immutable for the session lifetime.
type Title struct {
	Provider Provider  `json:"provider"`
	TitleID  string    `json:"titleId"`
	Name     string    `json:"name"`
	CoverURL string    `json:"coverUrl,omitempty"`
	Episodes []Episode `json:"episodes"`
}

// Playable reports whether the episode has at least one variant.
func (e *Episode) Playable() bool {
	return len(e.Variants) > 0
}

// DisplayTitle returns the episode title or a generated "Episode N" label.
func (e *Episode) DisplayTitle() string {
	if e.Title != "" {
		return e.Title
	}
	return fmt.Sprintf("Episode %d", e.Index+1)
}

// DefaultVariant returns the provider-signalled default, or the first variant.
// Callers must check Playable first; on an empty list the zero value is returned.
func (e *Episode) DefaultVariant() VideoVariant {
	for _, v := range e.Variants {
		if v.IsDefault {
			return v
		}
	}
	if len(e.Variants) > 0 {
		return e.Variants[0]
	}
	return VideoVariant{}
}

// Validate checks the canonical invariants: contiguous 0-based indices,
// non-empty IDs, rank-descending variants, at most one default per episode.
func (t *Title) Validate() error {
	for i, ep := range t.Episodes {
		if ep.Index != i {
			return fmt.Errorf("episode %q: index %d, want %d", ep.ID, ep.Index, i)
		}
		if ep.ID == "" {
			return fmt.Errorf("episode at index %d has empty id", i)
		}
		defaults := 0
		for j, v := range ep.Variants {
			if v.IsDefault {
				defaults++
			}
			if j > 0 && ep.Variants[j-1].QualityRank < v.QualityRank {
				return fmt.Errorf("episode %q: variants not sorted by rank desc", ep.ID)
			}
		}
		if defaults > 1 {
			return fmt.Errorf("episode %q: %d default variants", ep.ID, defaults)
		}
	}
	return nil
}
