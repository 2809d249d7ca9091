// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package provider

import (
	"encoding/json"

	"github.com/yutupremsatu/dracinbox/internal/canonical"
	"github.com/yutupremsatu/dracinbox/internal/delivery"
)

// flickReelsReferer is required by the FlickReels CDN; the origin rejects
// requests without it, which is why this provider always plays relayed.
const flickReelsReferer = "https://www.flickreels.com/"

// flickReelsAdapter handles the FlickReels API. Streams are short-lived
// token-gated MP4s that must be relayed with a spoofed referer; first playback
// of an episode is gated on a relay warm-up probe.
type flickReelsAdapter struct{}

func (a *flickReelsAdapter) Provider() canonical.Provider { return canonical.ProviderFlickReels }

func (a *flickReelsAdapter) DeliveryPolicy() delivery.Policy {
	return delivery.Policy{
		InitialMode:    delivery.ModeRelayed,
		Referer:        flickReelsReferer,
		RequiresWarmup: true,
	}
}

type flickReelsVideo struct {
	VideoID      string `json:"videoId"`
	VideoIDSnake string `json:"video_id"`
	VideoURL     string `json:"videoUrl"`
	VideoURLAlt  string `json:"video_url"`
	Title        string `json:"title"`
	Cover        string `json:"cover"`
}

type flickReelsDetail struct {
	BookID    string            `json:"bookId"`
	BookName  string            `json:"bookName"`
	Cover     string            `json:"cover"`
	VideoList []flickReelsVideo `json:"videoList"`
	Data      struct {
		Book *struct {
			BookID   string `json:"book_id"`
			Title    string `json:"book_title"`
			Cover    string `json:"cover"`
		} `json:"book"`
		VideoList []flickReelsVideo `json:"videoList"`
	} `json:"data"`
}

func (a *flickReelsAdapter) NormalizeDetail(raw []byte) (*canonical.Title, error) {
	var d flickReelsDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonUnrecognizedShape, Detail: err.Error()}
	}

	id := d.BookID
	name := d.BookName
	cover := d.Cover
	if id == "" && d.Data.Book != nil {
		id = d.Data.Book.BookID
		name = d.Data.Book.Title
		cover = d.Data.Book.Cover
	}
	videos := d.VideoList
	if len(videos) == 0 {
		videos = d.Data.VideoList
	}
	if id == "" && len(videos) == 0 {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonUnrecognizedShape, Detail: "no book or video list in payload"}
	}

	episodes, err := a.episodes(videos)
	if err != nil {
		return nil, err
	}
	return &canonical.Title{
		Provider: a.Provider(),
		TitleID:  id,
		Name:     name,
		CoverURL: cover,
		Episodes: episodes,
	}, nil
}

func (a *flickReelsAdapter) NormalizeEpisodes(raw []byte, _ int) ([]canonical.Episode, error) {
	t, err := a.NormalizeDetail(raw)
	if err != nil {
		return nil, err
	}
	if len(t.Episodes) == 0 {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonEmptyEpisodeList}
	}
	return t.Episodes, nil
}

func (a *flickReelsAdapter) episodes(videos []flickReelsVideo) ([]canonical.Episode, error) {
	out := make([]canonical.Episode, 0, len(videos))
	for i, v := range videos {
		id := firstString(v.VideoID, v.VideoIDSnake)
		url := firstString(v.VideoURL, v.VideoURLAlt)
		if id == "" || url == "" {
			return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonMissingField, Detail: "video without id or url"}
		}
		out = append(out, canonical.Episode{
			ID:        id,
			Index:     i,
			Title:     v.Title,
			PosterURL: v.Cover,
			Variants: []canonical.VideoVariant{
				{URL: url, Codec: canonical.CodecUnknown, QualityRank: 0, IsDefault: true},
			},
		})
	}
	return out, nil
}
