// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package subtitle keeps the injected subtitle track visible. Stream
// reloads and quality switches reset track visibility on most sinks, so the
// reconciler re-asserts "showing" on every lifecycle event and runs a short
// bounded poll after each attach.
package subtitle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yutupremsatu/dracinbox/internal/log"
	"github.com/yutupremsatu/dracinbox/internal/mediasink"
)

const (
	defaultPollInterval = 200 * time.Millisecond
	defaultPollBudget   = 10
)

// reassertEvents are the sink events after which visibility may have reset.
var reassertEvents = []mediasink.EventKind{
	mediasink.EventLoadedData,
	mediasink.EventCanPlay,
	mediasink.EventPlaying,
	mediasink.EventSeeked,
}

// Reconciler owns at most one injected subtitle track on a sink.
type Reconciler struct {
	defaultLanguage string
	pollInterval    time.Duration
	pollBudget      int
	logger          zerolog.Logger
	reassert        func(trigger string) // metrics seam, overridable in tests

	mu       sync.Mutex
	track    mediasink.TextTrack
	unsubs   []func()
	stopPoll context.CancelFunc
}

// NewReconciler builds a reconciler. defaultLanguage is the UI language;
// episodes whose audio already is that language get no subtitle track.
func NewReconciler(defaultLanguage string, observe func(trigger string)) *Reconciler {
	return &Reconciler{
		defaultLanguage: defaultLanguage,
		pollInterval:    defaultPollInterval,
		pollBudget:      defaultPollBudget,
		logger:          log.WithComponent("subtitle"),
		reassert:        observe,
	}
}

// Attach injects url as the single subtitle track on sink and starts the
// enforcement machinery. A no-op when url is empty or the episode's audio
// language already matches the UI language. Any previous track is detached
// first. ctx bounds the poll; cancelling it stops enforcement.
func (r *Reconciler) Attach(ctx context.Context, sink mediasink.MediaSink, url, language, audioLanguage string) {
	r.Detach(sink)

	if url == "" {
		return
	}
	if audioLanguage != "" && audioLanguage == r.defaultLanguage {
		r.logger.Debug().
			Str(log.FieldSubtitleLang, language).
			Msg("skipping subtitle, audio already in UI language")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	track := sink.Tracks().Add(url, language)
	track.SetMode(mediasink.ModeShowing)
	r.track = track

	for _, ev := range reassertEvents {
		trigger := string(ev)
		r.unsubs = append(r.unsubs, sink.Subscribe(ev, func() {
			r.assertShowing(trigger)
		}))
	}

	pollCtx, cancel := context.WithCancel(ctx)
	r.stopPoll = cancel
	go r.poll(pollCtx)

	r.logger.Debug().
		Str(log.FieldSubtitleLang, language).
		Msg("subtitle track attached")
}

// NotifyStreamReload is called by the transport on manifest re-parse and
// quality-level switches, both of which reset track modes on most sinks.
func (r *Reconciler) NotifyStreamReload(trigger string) {
	r.assertShowing(trigger)
}

// Detach removes the injected track and stops enforcement.
func (r *Reconciler) Detach(sink mediasink.MediaSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopPoll != nil {
		r.stopPoll()
		r.stopPoll = nil
	}
	for _, off := range r.unsubs {
		off()
	}
	r.unsubs = nil
	if r.track != nil {
		sink.Tracks().Remove(r.track)
		r.track = nil
	}
}

// poll re-asserts visibility a bounded number of times after attach. Some
// sinks flip the mode back asynchronously right after the track loads; the
// poll wins that race without running forever.
func (r *Reconciler) poll(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for i := 0; i < r.pollBudget; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.assertShowing("poll")
		}
	}
}

func (r *Reconciler) assertShowing(trigger string) {
	r.mu.Lock()
	track := r.track
	r.mu.Unlock()
	if track == nil {
		return
	}
	if track.Mode() != mediasink.ModeShowing {
		track.SetMode(mediasink.ModeShowing)
		if r.reassert != nil {
			r.reassert(trigger)
		}
	}
}
