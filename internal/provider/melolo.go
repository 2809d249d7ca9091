// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package provider

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/yutupremsatu/dracinbox/internal/canonical"
	"github.com/yutupremsatu/dracinbox/internal/delivery"
)

// meloloAdapter handles the Melolo API. The stream endpoint wraps a JSON
// string ("video_model") whose video_list maps slot keys (video_1..video_5)
// to base64-encoded CDN URLs. Slot keys map to resolutions; unknown keys are
// carried through with rank 0 rather than dropped.
type meloloAdapter struct{}

func (a *meloloAdapter) Provider() canonical.Provider { return canonical.ProviderMelolo }

func (a *meloloAdapter) DeliveryPolicy() delivery.Policy {
	return delivery.Policy{InitialMode: delivery.ModeDirect}
}

// meloloSlotRanks maps the upstream's slot keys to quality ranks.
var meloloSlotRanks = map[string]int{
	"video_1": 240,
	"video_2": 360,
	"video_3": 480,
	"video_4": 540,
	"video_5": 720,
}

type meloloEpisodeRef struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
	Cover   string `json:"cover"`
}

type meloloDetail struct {
	Data struct {
		VideoData struct {
			BookID      string             `json:"book_id"`
			AlbumID     string             `json:"album_id"`
			BookName    string             `json:"book_name"`
			Title       string             `json:"title"`
			Cover       string             `json:"cover"`
			EpisodeList []meloloEpisodeRef `json:"episode_list"`
		} `json:"video_data"`
	} `json:"data"`
}

func (a *meloloAdapter) NormalizeDetail(raw []byte) (*canonical.Title, error) {
	var d meloloDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonUnrecognizedShape, Detail: err.Error()}
	}
	vd := d.Data.VideoData
	id := firstString(vd.BookID, vd.AlbumID)
	if id == "" {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonUnrecognizedShape, Detail: "no video_data in detail payload"}
	}

	episodes := make([]canonical.Episode, 0, len(vd.EpisodeList))
	for i, ref := range vd.EpisodeList {
		if ref.VideoID == "" {
			return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonMissingField, Detail: "episode without video_id"}
		}
		episodes = append(episodes, canonical.Episode{
			ID:        ref.VideoID,
			Index:     i,
			Title:     ref.Title,
			PosterURL: ref.Cover,
		})
	}
	return &canonical.Title{
		Provider: a.Provider(),
		TitleID:  id,
		Name:     firstString(vd.BookName, vd.Title),
		CoverURL: vd.Cover,
		Episodes: episodes,
	}, nil
}

type meloloStream struct {
	Data struct {
		VideoModel string `json:"video_model"`
	} `json:"data"`
}

type meloloSlot struct {
	MainURL string `json:"main_url"`
}

func (a *meloloAdapter) NormalizeEpisodes(raw []byte, selector int) ([]canonical.Episode, error) {
	var s meloloStream
	if err := json.Unmarshal(raw, &s); err != nil || s.Data.VideoModel == "" {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonUnrecognizedShape, Detail: "no video_model in stream payload"}
	}

	var model struct {
		VideoList map[string]meloloSlot `json:"video_list"`
	}
	if err := json.Unmarshal([]byte(s.Data.VideoModel), &model); err != nil {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonUnrecognizedShape, Detail: "video_model is not JSON"}
	}
	if len(model.VideoList) == 0 {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonEmptyEpisodeList}
	}

	variants := make([]canonical.VideoVariant, 0, len(model.VideoList))
	for key, slot := range model.VideoList {
		if slot.MainURL == "" {
			continue
		}
		variants = append(variants, canonical.VideoVariant{
			URL:         decodeMaybeBase64URL(slot.MainURL),
			Codec:       canonical.CodecUnknown,
			QualityRank: meloloSlotRanks[key],
		})
	}
	if len(variants) == 0 {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonEmptyEpisodeList}
	}

	// Map iteration is unordered; sort before marking the default so the
	// result is deterministic across calls.
	sort.SliceStable(variants, func(i, j int) bool {
		if variants[i].QualityRank != variants[j].QualityRank {
			return variants[i].QualityRank > variants[j].QualityRank
		}
		return variants[i].URL < variants[j].URL
	})
	markMeloloDefault(variants)

	if selector < 1 {
		selector = 1
	}
	return []canonical.Episode{{
		ID:       "video-" + strconv.Itoa(selector),
		Index:    selector - 1,
		Variants: finishVariants(variants),
	}}, nil
}

// markMeloloDefault applies the upstream UI's preference order: 720p, then
// 540p, then 480p, else the best available.
func markMeloloDefault(variants []canonical.VideoVariant) {
	for _, want := range []int{720, 540, 480} {
		for i := range variants {
			if variants[i].QualityRank == want {
				variants[i].IsDefault = true
				return
			}
		}
	}
	if len(variants) > 0 {
		variants[0].IsDefault = true
	}
}
