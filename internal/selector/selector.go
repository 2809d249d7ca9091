// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package selector picks a video variant for playback. Selection is total
// for any episode with at least one variant: a preference that matches
// nothing degrades to the episode default rather than failing.
package selector

import (
	"fmt"

	"github.com/yutupremsatu/dracinbox/internal/canonical"
)

// Kind discriminates the preference variants.
type Kind string

const (
	KindAuto         Kind = "auto"
	KindPreferCodec  Kind = "codec"
	KindExactQuality Kind = "quality"
)

// Preference expresses what the viewer asked for. The zero value is Auto.
type Preference struct {
	Kind  Kind
	Codec canonical.Codec
	Rank  int
}

// Auto lets the episode's own default win.
func Auto() Preference { return Preference{Kind: KindAuto} }

// PreferCodec filters to a codec first, then applies the auto rules within
// the survivors.
func PreferCodec(c canonical.Codec) Preference {
	return Preference{Kind: KindPreferCodec, Codec: c}
}

// ExactQuality asks for a specific rank.
func ExactQuality(rank int) Preference {
	return Preference{Kind: KindExactQuality, Rank: rank}
}

func (p Preference) String() string {
	switch p.Kind {
	case KindPreferCodec:
		return fmt.Sprintf("codec=%s", p.Codec)
	case KindExactQuality:
		return fmt.Sprintf("quality=%d", p.Rank)
	default:
		return "auto"
	}
}

// Select returns the variant to play. The fallback chain is: filter by the
// preference, then the upstream default, then the highest rank, with H264
// beating H265 on equal rank. The second return is false only when the
// episode has no variants at all.
func Select(ep *canonical.Episode, pref Preference) (canonical.VideoVariant, bool) {
	if ep == nil || len(ep.Variants) == 0 {
		return canonical.VideoVariant{}, false
	}

	pool := filter(ep.Variants, pref)
	if len(pool) == 0 {
		pool = ep.Variants
	}

	// The upstream default wins when it survived the filter.
	for _, v := range pool {
		if v.IsDefault {
			return v, true
		}
	}

	best := pool[0]
	for _, v := range pool[1:] {
		if v.QualityRank > best.QualityRank {
			best = v
			continue
		}
		if v.QualityRank == best.QualityRank && codecTiebreak(v.Codec) < codecTiebreak(best.Codec) {
			best = v
		}
	}
	return best, true
}

func filter(variants []canonical.VideoVariant, pref Preference) []canonical.VideoVariant {
	var keep func(canonical.VideoVariant) bool
	switch pref.Kind {
	case KindPreferCodec:
		keep = func(v canonical.VideoVariant) bool { return v.Codec == pref.Codec }
	case KindExactQuality:
		keep = func(v canonical.VideoVariant) bool { return v.QualityRank == pref.Rank }
	default:
		return variants
	}
	out := make([]canonical.VideoVariant, 0, len(variants))
	for _, v := range variants {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// codecTiebreak ranks H264 first for device compatibility.
func codecTiebreak(c canonical.Codec) int {
	switch c {
	case canonical.CodecH264:
		return 0
	case canonical.CodecH265:
		return 1
	default:
		return 2
	}
}
