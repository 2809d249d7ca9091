// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import "github.com/yutupremsatu/dracinbox/internal/canonical"

// Navigator mirrors the active episode into the host's addressable location.
// Replace is the non-recording update used for auto-advance and background
// transitions; Push records a history entry for explicit user navigation.
type Navigator interface {
	Replace(provider canonical.Provider, titleID string, episodeIndex int)
	Push(provider canonical.Provider, titleID string, episodeIndex int)
}

// NopNavigator is the default when the host has no navigation surface.
type NopNavigator struct{}

func (NopNavigator) Replace(canonical.Provider, string, int) {}
func (NopNavigator) Push(canonical.Provider, string, int)    {}
