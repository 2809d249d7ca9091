// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package provider

import (
	"encoding/base64"
	"sort"
	"strings"

	"github.com/yutupremsatu/dracinbox/internal/canonical"
)

// decodeMaybeBase64URL decodes s as base64 when the result is a URL, and
// returns s unchanged otherwise. Some upstreams (Melolo) base64-wrap their CDN
// URLs; the fallback keeps us playable when they stop doing that.
func decodeMaybeBase64URL(s string) string {
	if s == "" {
		return s
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	d := string(decoded)
	if strings.HasPrefix(d, "http://") || strings.HasPrefix(d, "https://") {
		return d
	}
	return s
}

// firstString returns the first non-empty value. Field precedence follows
// what the upstream payloads were observed to carry; the order is pinned by
// the adapter contract tests.
func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func codecOrder(c canonical.Codec) int {
	switch c {
	case canonical.CodecH264:
		return 0
	case canonical.CodecH265:
		return 1
	default:
		return 2
	}
}

// finishVariants deduplicates by (codec, rank) keeping the first entry, then
// stable-sorts by rank descending (H264 first on ties) so default selection
// is deterministic.
func finishVariants(in []canonical.VideoVariant) []canonical.VideoVariant {
	type key struct {
		codec canonical.Codec
		rank  int
	}
	seen := make(map[key]struct{}, len(in))
	out := make([]canonical.VideoVariant, 0, len(in))
	for _, v := range in {
		if v.URL == "" {
			continue
		}
		k := key{v.Codec, v.QualityRank}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].QualityRank != out[j].QualityRank {
			return out[i].QualityRank > out[j].QualityRank
		}
		return codecOrder(out[i].Codec) < codecOrder(out[j].Codec)
	})
	// Keep at most one default after dedupe.
	sawDefault := false
	for i := range out {
		if out[i].IsDefault {
			if sawDefault {
				out[i].IsDefault = false
			}
			sawDefault = true
		}
	}
	return out
}
