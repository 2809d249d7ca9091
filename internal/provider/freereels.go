// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package provider

import (
	"encoding/json"

	"github.com/yutupremsatu/dracinbox/internal/canonical"
	"github.com/yutupremsatu/dracinbox/internal/delivery"
)

// freeReelsAdapter handles the FreeReels API. Episodes carry separate H264
// and H265 HLS manifests plus a progressive fallback URL; H264 is the
// compatibility default. Direct playback is attempted first and escalates to
// the relay on failure.
type freeReelsAdapter struct {
	subtitleLanguage string
}

func (a *freeReelsAdapter) Provider() canonical.Provider { return canonical.ProviderFreeReels }

func (a *freeReelsAdapter) DeliveryPolicy() delivery.Policy {
	return delivery.Policy{InitialMode: delivery.ModeDirect}
}

type freeReelsEpisode struct {
	ID        string `json:"id"`
	EpisodeID string `json:"episode_id"`
	Title     string `json:"title"`
	Cover     string `json:"cover"`
	H264M3U8  string `json:"external_audio_h264_m3u8"`
	H265M3U8  string `json:"external_audio_h265_m3u8"`
	VideoURL  string `json:"videoUrl"`
	Subtitle  string `json:"subtitleUrl"`
}

type freeReelsDetail struct {
	BookID      string             `json:"bookId"`
	BookName    string             `json:"bookName"`
	Cover       string             `json:"cover"`
	ChapterList []freeReelsEpisode `json:"chapterList"`
	Episodes    []freeReelsEpisode `json:"episodes"`
}

func (a *freeReelsAdapter) NormalizeDetail(raw []byte) (*canonical.Title, error) {
	var d freeReelsDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonUnrecognizedShape, Detail: err.Error()}
	}
	if d.BookID == "" && len(d.ChapterList) == 0 && len(d.Episodes) == 0 {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonUnrecognizedShape, Detail: "no book fields in detail payload"}
	}
	episodes, err := a.episodes(d)
	if err != nil {
		return nil, err
	}
	return &canonical.Title{
		Provider: a.Provider(),
		TitleID:  d.BookID,
		Name:     d.BookName,
		CoverURL: d.Cover,
		Episodes: episodes,
	}, nil
}

func (a *freeReelsAdapter) NormalizeEpisodes(raw []byte, _ int) ([]canonical.Episode, error) {
	var d freeReelsDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonUnrecognizedShape, Detail: err.Error()}
	}
	eps, err := a.episodes(d)
	if err != nil {
		return nil, err
	}
	if len(eps) == 0 {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonEmptyEpisodeList}
	}
	return eps, nil
}

func (a *freeReelsAdapter) episodes(d freeReelsDetail) ([]canonical.Episode, error) {
	list := d.ChapterList
	if len(list) == 0 {
		list = d.Episodes
	}
	out := make([]canonical.Episode, 0, len(list))
	for i, ep := range list {
		id := firstString(ep.ID, ep.EpisodeID)
		if id == "" {
			return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonMissingField, Detail: "episode without id"}
		}

		var variants []canonical.VideoVariant
		if ep.H264M3U8 != "" {
			variants = append(variants, canonical.VideoVariant{
				URL: ep.H264M3U8, Codec: canonical.CodecH264, QualityRank: 0, IsDefault: true,
			})
		}
		if ep.H265M3U8 != "" {
			variants = append(variants, canonical.VideoVariant{
				URL: ep.H265M3U8, Codec: canonical.CodecH265, QualityRank: 0,
			})
		}
		if ep.VideoURL != "" {
			variants = append(variants, canonical.VideoVariant{
				URL: ep.VideoURL, Codec: canonical.CodecUnknown, QualityRank: 0,
			})
		}
		if len(variants) == 0 {
			return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonMissingField, Detail: "episode without any stream url"}
		}

		subLang := ""
		if ep.Subtitle != "" {
			subLang = a.subtitleLanguage
		}
		out = append(out, canonical.Episode{
			ID:               id,
			Index:            i,
			Title:            ep.Title,
			PosterURL:        ep.Cover,
			Variants:         finishVariants(variants),
			SubtitleURL:      ep.Subtitle,
			SubtitleLanguage: subLang,
		})
	}
	return out, nil
}
