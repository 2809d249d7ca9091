// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transport fetches the selected stream: manifest parse plus a
// paced segment loop for HLS, a reachability probe for progressive MP4.
// It owns the bounded retry budget; anything past that budget surfaces as a
// classified fatal error for the session controller to act on.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yutupremsatu/dracinbox/internal/delivery"
	"github.com/yutupremsatu/dracinbox/internal/log"
	"github.com/yutupremsatu/dracinbox/internal/metrics"
)

const (
	// Retry tuning mirrors the player defaults the upstreams are served to.
	defaultMaxRetries   = 3
	defaultRetryBackoff = 2 * time.Second

	// defaultBufferAhead bounds how far the segment loop runs ahead of
	// playback; short vertical dramas do not benefit from deep buffers.
	defaultBufferAhead = 10 * time.Second

	maxManifestBody = 4 << 20
)

// Hooks are the loader's upward edges. OnReady fires once per Load when the
// stream is playable; OnFatal fires at most once per Load. OnReload fires on
// manifest re-parses so the subtitle reconciler can re-assert visibility.
// Hooks run on the loader goroutine and must not block.
type Hooks struct {
	OnReady  func()
	OnFatal  func(Kind, error)
	OnReload func(trigger string)
}

// Config tunes the loader; zero values take the defaults above.
type Config struct {
	HTTPClient   *http.Client
	MaxRetries   int
	RetryBackoff time.Duration
	BufferAhead  time.Duration
	// sleep is the backoff/pacing seam, replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Loader drives one stream at a time. Load tears down any in-flight work
// before starting; Teardown is idempotent.
type Loader struct {
	cfg    Config
	hooks  Hooks
	logger zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLoader builds a loader with the given hooks.
func NewLoader(cfg Config, hooks Hooks) *Loader {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.BufferAhead <= 0 {
		cfg.BufferAhead = defaultBufferAhead
	}
	if cfg.sleep == nil {
		cfg.sleep = sleepCtx
	}
	return &Loader{cfg: cfg, hooks: hooks, logger: log.WithComponent("transport")}
}

// Load starts streaming the target. Any previous load is torn down first so
// two segment loops never run concurrently.
func (l *Loader) Load(ctx context.Context, target delivery.Target) {
	l.Teardown()

	runCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		l.run(runCtx, target)
	}()
}

// Teardown aborts in-flight work and waits for the loader goroutine.
func (l *Loader) Teardown() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}

func (l *Loader) run(ctx context.Context, target delivery.Target) {
	if isHLS(target.ResolvedURL) {
		l.runHLS(ctx, target)
		return
	}
	l.runProgressive(ctx, target)
}

// runProgressive probes a progressive MP4 for reachability; the sink streams
// it directly once ready.
func (l *Loader) runProgressive(ctx context.Context, target delivery.Target) {
	body, err := l.fetchWithRetry(ctx, "manifest", target, target.ResolvedURL, 1<<10)
	if err != nil {
		l.fatal(ctx, "manifest", err)
		return
	}
	_ = body
	l.ready(target)
}

func (l *Loader) runHLS(ctx context.Context, target delivery.Target) {
	manifestURL := target.ResolvedURL
	raw, err := l.fetchWithRetry(ctx, "manifest", target, manifestURL, maxManifestBody)
	if err != nil {
		l.fatal(ctx, "manifest", err)
		return
	}
	manifest, err := ParseManifest(string(raw))
	if err != nil {
		l.fatal(ctx, "manifest", err)
		return
	}

	// One level of master indirection: pick the best variant stream.
	if manifest.IsMaster {
		variant, _ := manifest.BestVariant()
		manifestURL = resolveURL(manifestURL, variant.URI)
		raw, err = l.fetchWithRetry(ctx, "manifest", target, manifestURL, maxManifestBody)
		if err != nil {
			l.fatal(ctx, "manifest", err)
			return
		}
		manifest, err = ParseManifest(string(raw))
		if err != nil || manifest.IsMaster {
			if err == nil {
				err = fmt.Errorf("nested master playlist at %s", manifestURL)
			}
			l.fatal(ctx, "manifest", err)
			return
		}
	}

	l.ready(target)
	start := time.Now()

	var buffered time.Duration
	done := make(map[string]struct{})
	for {
		for _, seg := range manifest.Segments {
			if _, ok := done[seg.URI]; ok {
				continue
			}
			// Pace the loop: never run further ahead than the buffer bound.
			for buffered-time.Since(start) > l.cfg.BufferAhead {
				if err := l.cfg.sleep(ctx, seg.Duration/2+time.Millisecond); err != nil {
					return
				}
			}
			if _, err := l.fetchWithRetry(ctx, "segment", target, resolveURL(manifestURL, seg.URI), 0); err != nil {
				l.fatal(ctx, "segment", err)
				return
			}
			done[seg.URI] = struct{}{}
			buffered += seg.Duration
		}

		if manifest.Ended {
			return
		}

		// Live-style playlist: re-fetch after a target duration and
		// re-assert anything the reload reset.
		wait := manifest.TargetDuration
		if wait <= 0 {
			wait = 2 * time.Second
		}
		if err := l.cfg.sleep(ctx, wait); err != nil {
			return
		}
		raw, err := l.fetchWithRetry(ctx, "manifest", target, manifestURL, maxManifestBody)
		if err != nil {
			l.fatal(ctx, "manifest", err)
			return
		}
		manifest, err = ParseManifest(string(raw))
		if err != nil {
			l.fatal(ctx, "manifest", err)
			return
		}
		if l.hooks.OnReload != nil {
			l.hooks.OnReload("manifest_reloaded")
		}
	}
}

// fetchWithRetry fetches url with the stage's bounded retry budget. limit>0
// caps how much of the body is read; limit==0 drains and discards.
func (l *Loader) fetchWithRetry(ctx context.Context, stage string, target delivery.Target, u string, limit int64) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.IncTransportRetry(stage)
			l.logger.Debug().
				Str(log.FieldEpisodeID, target.EpisodeID).
				Str(log.FieldURL, u).
				Int(log.FieldAttempt, attempt).
				Msgf("%s fetch retry", stage)
			if err := l.cfg.sleep(ctx, l.cfg.RetryBackoff); err != nil {
				return nil, err
			}
		}
		body, err := l.fetchOnce(ctx, target, u, limit)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, lastErr
}

func (l *Loader) fetchOnce(ctx context.Context, target delivery.Target, u string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}
	res, err := l.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close() // #nosec G307
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &statusError{status: res.StatusCode}
	}
	if limit > 0 {
		return io.ReadAll(io.LimitReader(res.Body, limit))
	}
	_, err = io.Copy(io.Discard, res.Body)
	return nil, err
}

func (l *Loader) ready(target delivery.Target) {
	l.logger.Info().
		Str(log.FieldEpisodeID, target.EpisodeID).
		Str(log.FieldDeliveryMode, string(target.Mode)).
		Int(log.FieldQualityRank, target.Variant.QualityRank).
		Msg("stream ready")
	if l.hooks.OnReady != nil {
		l.hooks.OnReady()
	}
}

func (l *Loader) fatal(ctx context.Context, stage string, err error) {
	if ctx.Err() != nil {
		// Teardown, not a stream failure.
		return
	}
	kind := ClassifyError(err)
	metrics.IncTransportFatal(string(kind))
	l.logger.Warn().Err(err).Str("stage", stage).Str("kind", string(kind)).Msg("transport fatal")
	if l.hooks.OnFatal != nil {
		l.hooks.OnFatal(kind, &FatalError{Stage: stage, Kind: kind, Cause: err})
	}
}

func isHLS(u string) bool {
	trimmed := u
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if strings.HasSuffix(trimmed, ".m3u8") {
		return true
	}
	// Relayed URLs carry the upstream URL in the query.
	return strings.Contains(u, ".m3u8")
}

// resolveURL resolves a possibly-relative playlist URI against its manifest.
func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
