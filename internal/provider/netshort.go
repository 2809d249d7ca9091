// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package provider

import (
	"encoding/json"
	"sort"

	"github.com/yutupremsatu/dracinbox/internal/canonical"
	"github.com/yutupremsatu/dracinbox/internal/delivery"
)

// netShortAdapter handles the NetShort API. Detail and episodes arrive in one
// payload; episodes are keyed by a 1-based episodeNo and carry a single
// stream URL (HLS or MP4) plus an optional external subtitle.
type netShortAdapter struct {
	subtitleLanguage string
}

func (a *netShortAdapter) Provider() canonical.Provider { return canonical.ProviderNetShort }

func (a *netShortAdapter) DeliveryPolicy() delivery.Policy {
	return delivery.Policy{InitialMode: delivery.ModeDirect}
}

type netShortEpisode struct {
	EpisodeID   string `json:"episodeId"`
	EpisodeNo   int    `json:"episodeNo"`
	VideoURL    string `json:"videoUrl"`
	SubtitleURL string `json:"subtitleUrl"`
	Cover       string `json:"cover"`
}

type netShortDetail struct {
	// Title precedence: flat title, then shortPlayName, then nested shortPlay.
	Title         string `json:"title"`
	ShortPlayName string `json:"shortPlayName"`
	ShortPlay     struct {
		ShortPlayID string `json:"shortPlayId"`
		Title       string `json:"title"`
		Cover       string `json:"cover"`
	} `json:"shortPlay"`
	ShortPlayID   string            `json:"shortPlayId"`
	Cover         string            `json:"cover"`
	TotalEpisodes int               `json:"totalEpisodes"`
	Episodes      []netShortEpisode `json:"episodes"`
}

func (a *netShortAdapter) NormalizeDetail(raw []byte) (*canonical.Title, error) {
	var d netShortDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonUnrecognizedShape, Detail: err.Error()}
	}

	id := firstString(d.ShortPlayID, d.ShortPlay.ShortPlayID)
	name := firstString(d.Title, d.ShortPlayName, d.ShortPlay.Title)
	if id == "" && name == "" && len(d.Episodes) == 0 {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonUnrecognizedShape, Detail: "no shortplay fields in payload"}
	}

	episodes, err := a.episodes(d.Episodes)
	if err != nil {
		return nil, err
	}
	return &canonical.Title{
		Provider: a.Provider(),
		TitleID:  id,
		Name:     name,
		CoverURL: firstString(d.Cover, d.ShortPlay.Cover),
		Episodes: episodes,
	}, nil
}

func (a *netShortAdapter) NormalizeEpisodes(raw []byte, _ int) ([]canonical.Episode, error) {
	var d netShortDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonUnrecognizedShape, Detail: err.Error()}
	}
	if len(d.Episodes) == 0 {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonEmptyEpisodeList}
	}
	return a.episodes(d.Episodes)
}

func (a *netShortAdapter) episodes(in []netShortEpisode) ([]canonical.Episode, error) {
	if len(in) == 0 {
		return nil, nil
	}
	// Order by episodeNo; the upstream list order is not trustworthy.
	sorted := make([]netShortEpisode, len(in))
	copy(sorted, in)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].EpisodeNo < sorted[j].EpisodeNo })

	out := make([]canonical.Episode, 0, len(sorted))
	for i, ep := range sorted {
		if ep.VideoURL == "" {
			return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonMissingField, Detail: "episode without videoUrl"}
		}
		id := ep.EpisodeID
		if id == "" {
			return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonMissingField, Detail: "episode without episodeId"}
		}
		subLang := ""
		if ep.SubtitleURL != "" {
			subLang = a.subtitleLanguage
		}
		out = append(out, canonical.Episode{
			ID:        id,
			Index:     i,
			PosterURL: ep.Cover,
			Variants: []canonical.VideoVariant{
				{URL: ep.VideoURL, Codec: canonical.CodecUnknown, QualityRank: 0, IsDefault: true},
			},
			SubtitleURL:      ep.SubtitleURL,
			SubtitleLanguage: subLang,
		})
	}
	return out, nil
}
