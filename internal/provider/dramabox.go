// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package provider

import (
	"encoding/json"
	"fmt"

	"github.com/yutupremsatu/dracinbox/internal/canonical"
	"github.com/yutupremsatu/dracinbox/internal/delivery"
)

// dramaBoxAdapter handles the DramaBox API. The detail endpoint has two
// observed shapes: a direct book object and a legacy {data:{book:{...}}}
// wrapper. Episodes come as chapters, each carrying one or more CDN entries
// with a per-quality path list.
type dramaBoxAdapter struct{}

func (a *dramaBoxAdapter) Provider() canonical.Provider { return canonical.ProviderDramaBox }

func (a *dramaBoxAdapter) DeliveryPolicy() delivery.Policy {
	return delivery.Policy{InitialMode: delivery.ModeDirect}
}

type dramaBoxBook struct {
	BookID   string `json:"bookId"`
	BookName string `json:"bookName"`
	CoverWap string `json:"coverWap"`
	Cover    string `json:"cover"`
}

type dramaBoxDetailLegacy struct {
	Data struct {
		Book *dramaBoxBook `json:"book"`
	} `json:"data"`
}

func (a *dramaBoxAdapter) NormalizeDetail(raw []byte) (*canonical.Title, error) {
	// New shape: the book object at top level, recognized by bookId+coverWap.
	var direct dramaBoxBook
	if err := json.Unmarshal(raw, &direct); err == nil && direct.BookID != "" && direct.CoverWap != "" {
		return a.title(&direct), nil
	}

	var legacy dramaBoxDetailLegacy
	if err := json.Unmarshal(raw, &legacy); err == nil && legacy.Data.Book != nil && legacy.Data.Book.BookID != "" {
		return a.title(legacy.Data.Book), nil
	}

	return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonUnrecognizedShape, Detail: "no book object in detail payload"}
}

func (a *dramaBoxAdapter) title(b *dramaBoxBook) *canonical.Title {
	return &canonical.Title{
		Provider: a.Provider(),
		TitleID:  b.BookID,
		Name:     b.BookName,
		CoverURL: firstString(b.CoverWap, b.Cover),
	}
}

type dramaBoxVideoPath struct {
	Quality   int    `json:"quality"`
	IsDefault int    `json:"isDefault"`
	VideoPath string `json:"videoPath"`
}

type dramaBoxCDN struct {
	CDNDomain     string              `json:"cdnDomain"`
	IsDefault     int                 `json:"isDefault"`
	VideoPathList []dramaBoxVideoPath `json:"videoPathList"`
}

type dramaBoxChapter struct {
	ChapterID   string        `json:"chapterId"`
	ChapterName string        `json:"chapterName"`
	ChapterImg  string        `json:"chapterImg"`
	CDNList     []dramaBoxCDN `json:"cdnList"`
}

func (a *dramaBoxAdapter) NormalizeEpisodes(raw []byte, _ int) ([]canonical.Episode, error) {
	chapters, err := a.locateChapters(raw)
	if err != nil {
		return nil, err
	}
	if len(chapters) == 0 {
		return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonEmptyEpisodeList}
	}

	episodes := make([]canonical.Episode, 0, len(chapters))
	for i, ch := range chapters {
		if ch.ChapterID == "" {
			return nil, &NormalizationError{
				Provider: a.Provider(),
				Reason:   ReasonMissingField,
				Detail:   fmt.Sprintf("chapter %d has no chapterId", i),
			}
		}
		episodes = append(episodes, canonical.Episode{
			ID:        ch.ChapterID,
			Index:     i,
			Title:     ch.ChapterName,
			PosterURL: ch.ChapterImg,
			Variants:  a.variants(ch),
		})
	}
	return episodes, nil
}

// locateChapters finds the chapter collection across the observed nestings:
// {data:{chapterList:[...]}}, {chapterList:[...]}, or a bare array.
func (a *dramaBoxAdapter) locateChapters(raw []byte) ([]dramaBoxChapter, error) {
	var nested struct {
		Data struct {
			ChapterList []dramaBoxChapter `json:"chapterList"`
		} `json:"data"`
		ChapterList []dramaBoxChapter `json:"chapterList"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil {
		if len(nested.Data.ChapterList) > 0 {
			return nested.Data.ChapterList, nil
		}
		if len(nested.ChapterList) > 0 {
			return nested.ChapterList, nil
		}
	}

	var bare []dramaBoxChapter
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare, nil
	}

	return nil, &NormalizationError{Provider: a.Provider(), Reason: ReasonUnrecognizedShape, Detail: "no chapter collection found"}
}

// variants flattens every CDN's path list. The default CDN contributes first
// so (codec, rank) dedupe keeps its URLs; its default path carries IsDefault.
func (a *dramaBoxAdapter) variants(ch dramaBoxChapter) []canonical.VideoVariant {
	cdns := ch.CDNList
	defaultIdx := 0
	for i, cdn := range cdns {
		if cdn.IsDefault == 1 {
			defaultIdx = i
			break
		}
	}

	var out []canonical.VideoVariant
	appendCDN := func(cdn dramaBoxCDN, markDefault bool) {
		pathDefault := -1
		if markDefault {
			for i, p := range cdn.VideoPathList {
				if p.IsDefault == 1 {
					pathDefault = i
					break
				}
			}
			if pathDefault < 0 && len(cdn.VideoPathList) > 0 {
				pathDefault = 0
			}
		}
		for i, p := range cdn.VideoPathList {
			out = append(out, canonical.VideoVariant{
				URL:         p.VideoPath,
				Codec:       canonical.CodecUnknown,
				QualityRank: p.Quality,
				IsDefault:   markDefault && i == pathDefault,
			})
		}
	}

	if len(cdns) > 0 {
		appendCDN(cdns[defaultIdx], true)
		for i, cdn := range cdns {
			if i != defaultIdx {
				appendCDN(cdn, false)
			}
		}
	}
	return finishVariants(out)
}
