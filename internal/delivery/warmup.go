// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/yutupremsatu/dracinbox/internal/log"
	"github.com/yutupremsatu/dracinbox/internal/metrics"
)

// ErrWarmupDegraded signals a failed warm-up probe. Playback proceeds anyway;
// the session records the degraded flag for the UI.
var ErrWarmupDegraded = errors.New("relay warm-up failed, playback degraded")

// Prober performs the stateless relay readiness probe before first playback
// of an episode. The probe is an opaque readiness signal: whether it pre-warms
// a cache or validates a token upstream is not observable from here.
type Prober struct {
	relayBase string
	client    *http.Client
	attempts  int
	logger    zerolog.Logger
	sf        singleflight.Group
}

// NewProber creates a warm-up prober against the relay.
func NewProber(relayBase string, client *http.Client) *Prober {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Prober{
		relayBase: trimSlash(relayBase),
		client:    client,
		attempts:  probeAttempts,
		logger:    log.WithComponent("warmup"),
	}
}

// SetProbeBudget overrides how many probe attempts a warm-up gets before it
// degrades. Values <= 0 are ignored.
func (p *Prober) SetProbeBudget(n int) {
	if n > 0 {
		p.attempts = n
	}
}

// Warmup probes the relay for the given upstream URL. Concurrent probes for
// the same URL are deduplicated. A probe failure returns ErrWarmupDegraded;
// callers must treat it as non-fatal.
func (p *Prober) Warmup(ctx context.Context, rawURL string) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			outcome = "cancelled"
		case err != nil:
			outcome = "degraded"
		}
		metrics.ObserveWarmup(outcome, time.Since(start))
	}()

	// Decouple the shared probe from individual caller cancellation so one
	// navigating client cannot cancel the probe for a concurrent waiter.
	sharedCtx := context.WithoutCancel(ctx)
	if dl, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		sharedCtx, cancel = context.WithDeadline(sharedCtx, dl)
		defer cancel()
	}

	_, err, _ = p.sf.Do(rawURL, func() (interface{}, error) {
		return nil, p.probe(sharedCtx, rawURL)
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

const (
	probeAttempts = 2
	probeInterval = 500 * time.Millisecond
)

func (p *Prober) probe(ctx context.Context, rawURL string) error {
	q := url.Values{}
	q.Set("url", rawURL)
	probeURL := p.relayBase + "/relay/warmup?" + q.Encode()

	var lastErr error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(probeInterval):
			}
		}
		ok, err := p.probeOnce(ctx, probeURL)
		if err == nil && ok {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = ErrWarmupDegraded
		}
		p.logger.Debug().
			Err(lastErr).
			Int(log.FieldAttempt, attempt+1).
			Str(log.FieldURL, rawURL).
			Msg("warm-up probe attempt failed")
	}
	if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
		return lastErr
	}
	p.logger.Warn().Err(lastErr).Str(log.FieldURL, rawURL).Msg("warm-up failed, proceeding degraded")
	return ErrWarmupDegraded
}

func (p *Prober) probeOnce(ctx context.Context, probeURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close() // #nosec G307

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("warmup status %d", resp.StatusCode)
	}
	var body struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	return body.Success, nil
}
