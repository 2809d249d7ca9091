// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mediasink

import "sync"

// Memory is the in-memory media element. The headless daemon binds sessions
// to it when no real element is attached; tests additionally use it to record
// engine calls, raise sink events and simulate the track-visibility resets
// that happen on manifest reloads and level switches.
type Memory struct {
	mu       sync.Mutex
	source   string
	playing  bool
	playErr  error
	handlers map[EventKind]map[int]func()
	nextSub  int
	tracks   *memoryTrackList

	PlayCalls  int
	PauseCalls int
}

// NewMemory returns an idle in-memory sink.
func NewMemory() *Memory {
	return &Memory{
		handlers: make(map[EventKind]map[int]func()),
		tracks:   &memoryTrackList{},
	}
}

func (m *Memory) SetSource(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = url
	m.playing = false
}

func (m *Memory) Source() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

// FailPlayWith makes subsequent Play calls return err.
func (m *Memory) FailPlayWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playErr = err
}

func (m *Memory) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PlayCalls++
	if m.playErr != nil {
		return m.playErr
	}
	m.playing = true
	return nil
}

func (m *Memory) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PauseCalls++
	m.playing = false
}

func (m *Memory) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

func (m *Memory) Subscribe(kind EventKind, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers[kind] == nil {
		m.handlers[kind] = make(map[int]func())
	}
	id := m.nextSub
	m.nextSub++
	m.handlers[kind][id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers[kind], id)
	}
}

// Emit raises a sink event synchronously on the caller's goroutine.
func (m *Memory) Emit(kind EventKind) {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.handlers[kind]))
	for _, fn := range m.handlers[kind] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// SubscriberCount reports how many handlers are registered for kind.
func (m *Memory) SubscriberCount(kind EventKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[kind])
}

func (m *Memory) Tracks() TextTrackList { return m.tracks }

// ResetTrackModes flips every attached track to hidden, simulating the
// visibility reset a manifest reload or level switch causes.
func (m *Memory) ResetTrackModes() {
	for _, tr := range m.tracks.List() {
		tr.SetMode(ModeHidden)
	}
}

type memoryTrack struct {
	mu   sync.Mutex
	url  string
	lang string
	mode TrackMode
}

func (t *memoryTrack) URL() string      { return t.url }
func (t *memoryTrack) Language() string { return t.lang }

func (t *memoryTrack) Mode() TrackMode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

func (t *memoryTrack) SetMode(m TrackMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = m
}

type memoryTrackList struct {
	mu     sync.Mutex
	tracks []*memoryTrack
}

func (l *memoryTrackList) Add(url, language string) TextTrack {
	l.mu.Lock()
	defer l.mu.Unlock()
	tr := &memoryTrack{url: url, lang: language, mode: ModeDisabled}
	l.tracks = append(l.tracks, tr)
	return tr
}

func (l *memoryTrackList) Remove(t TextTrack) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, tr := range l.tracks {
		if TextTrack(tr) == t {
			l.tracks = append(l.tracks[:i], l.tracks[i+1:]...)
			return
		}
	}
}

func (l *memoryTrackList) List() []TextTrack {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TextTrack, len(l.tracks))
	for i, tr := range l.tracks {
		out[i] = tr
	}
	return out
}
