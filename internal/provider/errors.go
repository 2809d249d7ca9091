// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package provider

import (
	"errors"
	"fmt"

	"github.com/yutupremsatu/dracinbox/internal/canonical"
)

// Reason classifies why a payload could not be normalized.
type Reason string

const (
	ReasonMissingField      Reason = "missing_field"
	ReasonUnrecognizedShape Reason = "unrecognized_shape"
	ReasonEmptyEpisodeList  Reason = "empty_episode_list"
)

// NormalizationError means the payload carries no usable episode data.
// Callers treat the title as unavailable; it is never retried.
type NormalizationError struct {
	Provider canonical.Provider
	Reason   Reason
	Detail   string
}

func (e *NormalizationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: normalization failed: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s: normalization failed: %s: %s", e.Provider, e.Reason, e.Detail)
}

// IsNormalizationError reports whether err is a NormalizationError and
// returns it when so.
func IsNormalizationError(err error) (*NormalizationError, bool) {
	var ne *NormalizationError
	if errors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}
