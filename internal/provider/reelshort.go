// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package provider

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/yutupremsatu/dracinbox/internal/canonical"
	"github.com/yutupremsatu/dracinbox/internal/delivery"
)

// reelShortAdapter handles the ReelShort API. The watch endpoint serves one
// episode per request with a videoList of codec/quality renditions; quality 0
// is the upstream's sentinel for its top H265 rendition (1080p).
type reelShortAdapter struct{}

func (a *reelShortAdapter) Provider() canonical.Provider { return canonical.ProviderReelShort }

func (a *reelShortAdapter) DeliveryPolicy() delivery.Policy {
	return delivery.Policy{InitialMode: delivery.ModeDirect}
}

type reelShortDetail struct {
	Success       bool   `json:"success"`
	BookID        string `json:"bookId"`
	Title         string `json:"title"`
	Cover         string `json:"cover"`
	TotalEpisodes int    `json:"totalEpisodes"`
}

func (a *reelShortAdapter) NormalizeDetail(raw []byte) (*canonical.Title, error) {
	var d reelShortDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonUnrecognizedShape, Detail: err.Error()}
	}
	if d.BookID == "" {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonMissingField, Detail: "detail without bookId"}
	}

	// Episode URLs live behind the per-episode watch endpoint and are
	// token-gated; detail yields navigable placeholders only.
	episodes := make([]canonical.Episode, 0, d.TotalEpisodes)
	for i := 0; i < d.TotalEpisodes; i++ {
		episodes = append(episodes, canonical.Episode{
			ID:    d.BookID + "-" + strconv.Itoa(i+1),
			Index: i,
		})
	}
	return &canonical.Title{
		Provider: a.Provider(),
		TitleID:  d.BookID,
		Name:     d.Title,
		CoverURL: d.Cover,
		Episodes: episodes,
	}, nil
}

type reelShortVideo struct {
	URL     string `json:"url"`
	Encode  string `json:"encode"`
	Quality int    `json:"quality"`
	Bitrate string `json:"bitrate"`
}

type reelShortEpisode struct {
	Success   bool             `json:"success"`
	IsLocked  bool             `json:"isLocked"`
	VideoList []reelShortVideo `json:"videoList"`
}

func (a *reelShortAdapter) NormalizeEpisodes(raw []byte, selector int) ([]canonical.Episode, error) {
	var ep reelShortEpisode
	if err := json.Unmarshal(raw, &ep); err != nil {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonUnrecognizedShape, Detail: err.Error()}
	}
	if len(ep.VideoList) == 0 {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonEmptyEpisodeList}
	}
	if selector < 1 {
		selector = 1
	}

	variants := make([]canonical.VideoVariant, 0, len(ep.VideoList))
	for _, v := range ep.VideoList {
		rank := v.Quality
		codec := parseReelShortCodec(v.Encode)
		// quality 0 with H265 means the unlabelled 1080p rendition.
		if rank == 0 {
			rank = 1080
		}
		variants = append(variants, canonical.VideoVariant{
			URL:         v.URL,
			Codec:       codec,
			QualityRank: rank,
			IsDefault:   false,
		})
	}

	// The upstream player's Auto entry resolves to the H264 rendition for
	// device compatibility; mirror that as the default.
	def := -1
	for i, v := range variants {
		if v.Codec == canonical.CodecH264 && v.URL != "" {
			def = i
			break
		}
	}
	if def == -1 {
		for i, v := range variants {
			if v.URL != "" {
				def = i
				break
			}
		}
	}
	if def >= 0 {
		variants[def].IsDefault = true
	}

	return []canonical.Episode{{
		ID:       fmt.Sprintf("ep-%d", selector),
		Index:    selector - 1,
		Variants: finishVariants(variants),
	}}, nil
}

func parseReelShortCodec(encode string) canonical.Codec {
	switch encode {
	case "H264", "h264":
		return canonical.CodecH264
	case "H265", "h265":
		return canonical.CodecH265
	default:
		return canonical.CodecUnknown
	}
}
