// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VariantStream is one entry of a master playlist.
type VariantStream struct {
	URI        string
	Bandwidth  int
	Resolution string
	Codecs     string
}

// Segment is one media segment of a media playlist.
type Segment struct {
	URI      string
	Duration time.Duration
}

// Manifest is a parsed HLS playlist, master or media.
type Manifest struct {
	IsMaster       bool
	Variants       []VariantStream
	Segments       []Segment
	TargetDuration time.Duration
	TotalDuration  time.Duration
	Ended          bool
}

// ParseManifest parses an HLS playlist. It handles the subset the upstream
// CDNs actually serve: master playlists with STREAM-INF attributes and VOD
// media playlists with EXTINF durations and an optional ENDLIST.
func ParseManifest(playlist string) (*Manifest, error) {
	scanner := bufio.NewScanner(strings.NewReader(playlist))
	m := &Manifest{}

	var (
		sawHeader    bool
		nextDuration time.Duration
		nextVariant  *VariantStream
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if line == "#EXTM3U" {
			sawHeader = true
			continue
		}
		if line == "#EXT-X-ENDLIST" {
			m.Ended = true
			continue
		}

		if strings.HasPrefix(line, "#EXT-X-TARGETDURATION:") {
			secs, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
			if err != nil {
				return nil, fmt.Errorf("invalid TARGETDURATION: %s", line)
			}
			m.TargetDuration = time.Duration(secs) * time.Second
			continue
		}

		if strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			v := VariantStream{}
			for _, attr := range splitAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:")) {
				key, val, ok := strings.Cut(attr, "=")
				if !ok {
					continue
				}
				switch key {
				case "BANDWIDTH":
					v.Bandwidth, _ = strconv.Atoi(val)
				case "RESOLUTION":
					v.Resolution = val
				case "CODECS":
					v.Codecs = strings.Trim(val, `"`)
				}
			}
			nextVariant = &v
			m.IsMaster = true
			continue
		}

		if strings.HasPrefix(line, "#EXTINF:") {
			durPart := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(durPart, ","); idx != -1 {
				durPart = durPart[:idx]
			}
			secs, err := strconv.ParseFloat(durPart, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid EXTINF duration: %s", durPart)
			}
			nextDuration = time.Duration(secs * float64(time.Second))
			continue
		}

		// URI line: closes the preceding STREAM-INF or EXTINF tag.
		if !strings.HasPrefix(line, "#") {
			if nextVariant != nil {
				nextVariant.URI = line
				m.Variants = append(m.Variants, *nextVariant)
				nextVariant = nil
				continue
			}
			m.Segments = append(m.Segments, Segment{URI: line, Duration: nextDuration})
			m.TotalDuration += nextDuration
			nextDuration = 0
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawHeader {
		return nil, fmt.Errorf("not an HLS playlist: missing #EXTM3U header")
	}
	if m.IsMaster && len(m.Variants) == 0 {
		return nil, fmt.Errorf("master playlist without variant URIs")
	}
	if !m.IsMaster && len(m.Segments) == 0 {
		return nil, fmt.Errorf("media playlist without segments")
	}
	return m, nil
}

// BestVariant picks the highest-bandwidth entry of a master playlist.
func (m *Manifest) BestVariant() (VariantStream, bool) {
	if len(m.Variants) == 0 {
		return VariantStream{}, false
	}
	best := m.Variants[0]
	for _, v := range m.Variants[1:] {
		if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best, true
}

// splitAttributes splits a STREAM-INF attribute list on commas outside
// quotes; CODECS values carry embedded commas.
func splitAttributes(s string) []string {
	var (
		out    []string
		start  int
		quoted bool
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}
