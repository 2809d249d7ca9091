// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mediasink abstracts the host's media surface. The engine never
// touches a concrete player; it drives whatever the embedder registers
// through this interface, which keeps the playback controller testable
// against the in-memory sink.
package mediasink

// EventKind enumerates the sink lifecycle events the engine reacts to.
type EventKind string

const (
	EventLoadedData EventKind = "loadeddata"
	EventCanPlay    EventKind = "canplay"
	EventPlaying    EventKind = "playing"
	EventSeeked     EventKind = "seeked"
	EventEnded      EventKind = "ended"
	EventError      EventKind = "error"
)

// TrackMode is the visibility state of a text track.
type TrackMode string

const (
	ModeShowing  TrackMode = "showing"
	ModeHidden   TrackMode = "hidden"
	ModeDisabled TrackMode = "disabled"
)

// TextTrack is one subtitle track attached to the sink.
type TextTrack interface {
	URL() string
	Language() string
	Mode() TrackMode
	SetMode(TrackMode)
}

// TextTrackList manages the sink's attached subtitle tracks.
type TextTrackList interface {
	Add(url, language string) TextTrack
	Remove(TextTrack)
	List() []TextTrack
}

// MediaSink is the host media element. Implementations must deliver events
// on a single goroutine; the engine serializes all calls to the sink.
type MediaSink interface {
	// SetSource points the sink at a new stream URL. An empty URL detaches.
	SetSource(url string)
	Source() string

	Play() error
	Pause()

	// Subscribe registers a handler for one event kind; the returned func
	// unsubscribes. Handlers must not block.
	Subscribe(kind EventKind, fn func()) (unsubscribe func())

	Tracks() TextTrackList
}
