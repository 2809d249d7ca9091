// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package provider normalizes the six upstream drama APIs into the canonical
// episode model. Each upstream has its own undocumented payload shape; one
// adapter per provider owns the field mapping, the legacy-shape fallbacks and
// the delivery posture for that upstream.
package provider

import (
	"github.com/yutupremsatu/dracinbox/internal/canonical"
	"github.com/yutupremsatu/dracinbox/internal/delivery"
)

// Adapter converts raw provider payloads into the canonical model.
// Implementations are pure: no I/O, no side effects.
type Adapter interface {
	// Provider identifies the upstream this adapter serves.
	Provider() canonical.Provider

	// NormalizeDetail parses a detail payload into a Title. Episodes may be
	// empty when the upstream splits episode data into a separate endpoint.
	NormalizeDetail(raw []byte) (*canonical.Title, error)

	// NormalizeEpisodes parses an episode payload into canonical episodes
	// with contiguous 0-based indices and rank-descending variants. selector
	// is the 1-based episode number for upstreams that serve one episode per
	// request; adapters serving full lists ignore it.
	NormalizeEpisodes(raw []byte, selector int) ([]canonical.Episode, error)

	// DeliveryPolicy is the fixed delivery posture for this upstream.
	DeliveryPolicy() delivery.Policy
}

// Registry holds one adapter per provider, keyed on the enum.
type Registry struct {
	adapters map[canonical.Provider]Adapter
}

// NewRegistry builds the registry with all six adapters.
func NewRegistry(defaultSubtitleLanguage string) *Registry {
	r := &Registry{adapters: make(map[canonical.Provider]Adapter)}
	for _, a := range []Adapter{
		&dramaBoxAdapter{},
		&netShortAdapter{subtitleLanguage: defaultSubtitleLanguage},
		&reelShortAdapter{},
		&meloloAdapter{},
		&freeReelsAdapter{subtitleLanguage: defaultSubtitleLanguage},
		&flickReelsAdapter{},
	} {
		r.adapters[a.Provider()] = a
	}
	return r
}

// ForProvider returns the adapter for p.
func (r *Registry) ForProvider(p canonical.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, &NormalizationError{Provider: p, Reason: ReasonUnrecognizedShape, Detail: "no adapter registered"}
	}
	return a, nil
}
