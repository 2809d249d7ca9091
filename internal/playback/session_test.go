// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yutupremsatu/dracinbox/internal/canonical"
	"github.com/yutupremsatu/dracinbox/internal/delivery"
	"github.com/yutupremsatu/dracinbox/internal/mediasink"
	"github.com/yutupremsatu/dracinbox/internal/provider"
	"github.com/yutupremsatu/dracinbox/internal/selector"
	"github.com/yutupremsatu/dracinbox/internal/subtitle"
	"github.com/yutupremsatu/dracinbox/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeMetadata struct {
	mu           sync.Mutex
	title        *canonical.Title
	detailCalls  int
	episodeCalls []int
	detailErr    error
}

func (f *fakeMetadata) Detail(ctx context.Context, p canonical.Provider, titleID string) (*canonical.Title, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls++
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	cp := *f.title
	return &cp, nil
}

func (f *fakeMetadata) Episodes(ctx context.Context, p canonical.Provider, titleID string, selector int) ([]canonical.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.episodeCalls = append(f.episodeCalls, selector)
	idx := selector - 1
	if idx < 0 || idx >= len(f.title.Episodes) {
		return nil, ErrNoSuchEpisode
	}
	ep := f.title.Episodes[idx]
	if !ep.Playable() {
		ep.Variants = []canonical.VideoVariant{
			{URL: "https://cdn.example/late.mp4", Codec: canonical.CodecUnknown, IsDefault: true},
		}
	}
	return []canonical.Episode{ep}, nil
}

func (f *fakeMetadata) DetailCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detailCalls
}

type fakeTransport struct {
	mu        sync.Mutex
	loads     []delivery.Target
	teardowns int
	hooks     transport.Hooks
}

func (f *fakeTransport) Load(ctx context.Context, t delivery.Target) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, t)
}

func (f *fakeTransport) Teardown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
}

func (f *fakeTransport) Loads() []delivery.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]delivery.Target, len(f.loads))
	copy(out, f.loads)
	return out
}

func (f *fakeTransport) fatal(kind transport.Kind) {
	f.hooks.OnFatal(kind, &transport.FatalError{Stage: "segment", Kind: kind, Cause: errors.New("boom")})
}

type fakeWarmer struct {
	mu      sync.Mutex
	calls   []string
	err     error
	release chan struct{} // block Warmup until closed when non-nil
}

func (f *fakeWarmer) Warmup(ctx context.Context, rawURL string) error {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	release := f.release
	err := f.err
	f.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeWarmer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNavigator struct {
	mu       sync.Mutex
	pushes   []int
	replaces []int
}

func (f *fakeNavigator) Push(_ canonical.Provider, _ string, idx int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, idx)
}

func (f *fakeNavigator) Replace(_ canonical.Provider, _ string, idx int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaces = append(f.replaces, idx)
}

func (f *fakeNavigator) counts() (pushes, replaces []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.pushes...), append([]int(nil), f.replaces...)
}

func testTitle(p canonical.Provider) *canonical.Title {
	return &canonical.Title{
		Provider: p,
		TitleID:  "t-1",
		Name:     "Test Drama",
		Episodes: []canonical.Episode{
			{
				ID: "ep-1", Index: 0,
				Variants: []canonical.VideoVariant{
					{URL: "https://cdn.example/1.m3u8", Codec: canonical.CodecUnknown, IsDefault: true},
				},
			},
			{
				ID: "ep-2", Index: 1,
				Variants: []canonical.VideoVariant{
					{URL: "https://cdn.example/2-1080-h265.m3u8", Codec: canonical.CodecH265, QualityRank: 1080},
					{URL: "https://cdn.example/2-480-h264.m3u8", Codec: canonical.CodecH264, QualityRank: 480, IsDefault: true},
				},
			},
			{
				ID: "ep-3", Index: 2,
				Variants: []canonical.VideoVariant{
					{URL: "https://cdn.example/3.m3u8", Codec: canonical.CodecUnknown, IsDefault: true},
				},
			},
		},
	}
}

type harness struct {
	session   *Session
	sink      *mediasink.Memory
	meta      *fakeMetadata
	transport *fakeTransport
	warmer    *fakeWarmer
	nav       *fakeNavigator
}

func newHarness(t *testing.T, p canonical.Provider) *harness {
	t.Helper()
	h := &harness{
		sink:      mediasink.NewMemory(),
		meta:      &fakeMetadata{title: testTitle(p)},
		transport: &fakeTransport{},
		warmer:    &fakeWarmer{},
		nav:       &fakeNavigator{},
	}
	s, err := NewSession(Options{
		Registry:  provider.NewRegistry("id"),
		Metadata:  h.meta,
		Resolver:  delivery.NewResolver("http://127.0.0.1:8088"),
		Prober:    h.warmer,
		Sink:      h.sink,
		Subtitles: subtitle.NewReconciler("id", nil),
		Navigator: h.nav,
		NewTransport: func(hooks transport.Hooks) Transport {
			h.transport.hooks = hooks
			return h.transport
		},
	})
	require.NoError(t, err)
	s.BindSink()
	h.session = s
	t.Cleanup(s.Close)
	return h
}

func (h *harness) waitStatus(t *testing.T, cond func(Status) bool) Status {
	t.Helper()
	var st Status
	require.Eventually(t, func() bool {
		got, err := h.session.Status()
		if err != nil {
			return false
		}
		st = got
		return cond(got)
	}, 2*time.Second, 5*time.Millisecond, "condition never met (last %+v)", st)
	return st
}

func (h *harness) waitState(t *testing.T, want State) Status {
	t.Helper()
	var st Status
	require.Eventually(t, func() bool {
		got, err := h.session.Status()
		if err != nil {
			return false
		}
		st = got
		return got.State == want
	}, 2*time.Second, 5*time.Millisecond, "state never reached %s (last %+v)", want, st)
	return st
}

func TestOpenReachesPlaying(t *testing.T) {
	h := newHarness(t, canonical.ProviderNetShort)
	require.NoError(t, h.session.Open(canonical.ProviderNetShort, "t-1", 0))

	st := h.waitState(t, StatePlaying)
	assert.Equal(t, 0, st.ActiveIndex)
	assert.Equal(t, "ep-1", st.EpisodeID)
	assert.Equal(t, delivery.ModeDirect, st.DeliveryMode)
	assert.Equal(t, "https://cdn.example/1.m3u8", h.sink.Source())

	// Session open is a background transition: location mirrored without a
	// history entry.
	pushes, replaces := h.nav.counts()
	assert.Empty(t, pushes)
	assert.Equal(t, []int{0}, replaces)
}

func TestOpenTwiceFails(t *testing.T) {
	h := newHarness(t, canonical.ProviderNetShort)
	require.NoError(t, h.session.Open(canonical.ProviderNetShort, "t-1", 0))
	h.waitState(t, StatePlaying)
	assert.ErrorIs(t, h.session.Open(canonical.ProviderNetShort, "t-1", 0), ErrSessionActive)
}

func TestExplicitNavigationPushesHistory(t *testing.T) {
	h := newHarness(t, canonical.ProviderNetShort)
	require.NoError(t, h.session.Open(canonical.ProviderNetShort, "t-1", 0))
	h.waitState(t, StatePlaying)

	require.NoError(t, h.session.Next())
	st := h.waitState(t, StatePlaying)
	assert.Equal(t, 1, st.ActiveIndex)

	pushes, _ := h.nav.counts()
	assert.Equal(t, []int{1}, pushes)

	assert.ErrorIs(t, h.session.JumpTo(99), ErrNoSuchEpisode)
	require.NoError(t, h.session.Prev())
	st = h.waitState(t, StatePlaying)
	assert.Equal(t, 0, st.ActiveIndex)
}

func TestAutoAdvanceOnEnded(t *testing.T) {
	h := newHarness(t, canonical.ProviderNetShort)
	require.NoError(t, h.session.Open(canonical.ProviderNetShort, "t-1", 0))
	h.waitState(t, StatePlaying)

	h.sink.Emit(mediasink.EventEnded)
	st := h.waitStatus(t, func(s Status) bool {
		return s.State == StatePlaying && s.ActiveIndex == 1
	})
	assert.Equal(t, "ep-2", st.EpisodeID)

	// Auto-advance is a background transition: no history entry.
	pushes, replaces := h.nav.counts()
	assert.Empty(t, pushes)
	assert.Equal(t, []int{0, 1}, replaces)
}

func TestEndedOnLastEpisodeIsTerminal(t *testing.T) {
	h := newHarness(t, canonical.ProviderNetShort)
	require.NoError(t, h.session.Open(canonical.ProviderNetShort, "t-1", 2))
	h.waitState(t, StatePlaying)

	h.sink.Emit(mediasink.EventEnded)
	st := h.waitState(t, StateEnded)
	assert.Equal(t, 2, st.ActiveIndex)
}

func TestRetryBudgetThenTerminalFailure(t *testing.T) {
	h := newHarness(t, canonical.ProviderNetShort)
	require.NoError(t, h.session.Open(canonical.ProviderNetShort, "t-1", 0))
	h.waitState(t, StatePlaying)
	baseline := h.meta.DetailCalls()

	// Two transient errors each refetch metadata and recover.
	for want := 1; want <= 2; want++ {
		h.sink.Emit(mediasink.EventError)
		h.waitStatus(t, func(s Status) bool {
			return s.State == StatePlaying && s.RetryCount == want
		})
		assert.Equal(t, baseline+want, h.meta.DetailCalls(), "retry must refetch metadata")
	}

	// Third error exhausts the budget.
	h.sink.Emit(mediasink.EventError)
	st := h.waitState(t, StateFailed)
	assert.Equal(t, 2, st.RetryCount, "retryCount never exceeds the budget")
}

func TestExplicitNavigationResetsRetryBudget(t *testing.T) {
	h := newHarness(t, canonical.ProviderNetShort)
	require.NoError(t, h.session.Open(canonical.ProviderNetShort, "t-1", 0))
	h.waitState(t, StatePlaying)

	h.sink.Emit(mediasink.EventError)
	h.waitStatus(t, func(s Status) bool {
		return s.State == StatePlaying && s.RetryCount == 1
	})

	require.NoError(t, h.session.Next())
	st := h.waitState(t, StatePlaying)
	assert.Zero(t, st.RetryCount)
}

func TestDirectFatalEscalatesToRelayOnce(t *testing.T) {
	h := newHarness(t, canonical.ProviderFreeReels)
	require.NoError(t, h.session.Open(canonical.ProviderFreeReels, "t-1", 0))
	h.waitState(t, StatePlaying)
	require.Len(t, h.transport.Loads(), 1)
	require.Equal(t, delivery.ModeDirect, h.transport.Loads()[0].Mode)

	h.transport.fatal(transport.KindNetwork)
	require.Eventually(t, func() bool {
		loads := h.transport.Loads()
		return len(loads) == 2 && loads[1].Mode == delivery.ModeRelayed
	}, 2*time.Second, 5*time.Millisecond, "expected exactly one relayed reload")

	st := h.waitState(t, StatePlaying)
	assert.Equal(t, delivery.ModeRelayed, st.DeliveryMode)
	assert.Zero(t, st.RetryCount, "escalation does not consume the retry budget")
	assert.Contains(t, h.transport.Loads()[1].ResolvedURL, "/relay/video?")
}

func TestRelayedFatalDoesNotEscalateAgain(t *testing.T) {
	h := newHarness(t, canonical.ProviderFreeReels)
	require.NoError(t, h.session.Open(canonical.ProviderFreeReels, "t-1", 0))
	h.waitState(t, StatePlaying)

	h.transport.fatal(transport.KindNetwork)
	require.Eventually(t, func() bool {
		loads := h.transport.Loads()
		return len(loads) == 2 && loads[1].Mode == delivery.ModeRelayed
	}, 2*time.Second, 5*time.Millisecond)
	h.waitState(t, StatePlaying)

	// Fatal in relayed mode: no third mode; the retry path takes over with a
	// metadata refetch.
	h.transport.fatal(transport.KindNetwork)
	st := h.waitStatus(t, func(s Status) bool {
		return s.State == StatePlaying && s.RetryCount == 1
	})
	assert.Equal(t, delivery.ModeDirect, st.DeliveryMode, "fresh attempt starts over in the provider's initial mode")
}

func TestMediaFatalSkipsEscalation(t *testing.T) {
	h := newHarness(t, canonical.ProviderFreeReels)
	require.NoError(t, h.session.Open(canonical.ProviderFreeReels, "t-1", 0))
	h.waitState(t, StatePlaying)

	// A media error would be served identically by the relay; go straight to
	// the refetch path.
	h.transport.fatal(transport.KindMedia)
	h.waitStatus(t, func(s Status) bool {
		return s.State == StatePlaying && s.RetryCount == 1
	})
	for _, l := range h.transport.Loads() {
		assert.Equal(t, delivery.ModeDirect, l.Mode)
	}
}

func TestWarmupAwaitedOnInitialLoad(t *testing.T) {
	h := newHarness(t, canonical.ProviderFlickReels)
	h.warmer.release = make(chan struct{})

	require.NoError(t, h.session.Open(canonical.ProviderFlickReels, "t-1", 0))
	h.waitState(t, StateAwaitingWarmup)
	assert.Empty(t, h.transport.Loads(), "no load before warm-up resolves")

	close(h.warmer.release)
	st := h.waitState(t, StatePlaying)
	assert.False(t, st.Degraded)
	assert.Equal(t, delivery.ModeRelayed, st.DeliveryMode)
}

func TestWarmupFailureIsDegradedNotFatal(t *testing.T) {
	h := newHarness(t, canonical.ProviderFlickReels)
	h.warmer.err = delivery.ErrWarmupDegraded

	require.NoError(t, h.session.Open(canonical.ProviderFlickReels, "t-1", 0))
	st := h.waitState(t, StatePlaying)
	assert.True(t, st.Degraded, "failed warm-up is surfaced, not fatal")
}

func TestAutoAdvanceSkipsWarmupWait(t *testing.T) {
	h := newHarness(t, canonical.ProviderFlickReels)
	require.NoError(t, h.session.Open(canonical.ProviderFlickReels, "t-1", 0))
	h.waitState(t, StatePlaying)
	require.Equal(t, 1, h.warmer.Calls())

	// Block all further probes; auto-advance must still reach Playing.
	h.warmer.mu.Lock()
	h.warmer.release = make(chan struct{})
	h.warmer.mu.Unlock()
	defer close(h.warmer.release)

	h.sink.Emit(mediasink.EventEnded)
	h.waitStatus(t, func(s Status) bool {
		return s.State == StatePlaying && s.ActiveIndex == 1
	})

	// The probe still fires in the background for relay warmth.
	assert.Eventually(t, func() bool { return h.warmer.Calls() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestRetrySkipsWarmupWait(t *testing.T) {
	h := newHarness(t, canonical.ProviderFlickReels)
	require.NoError(t, h.session.Open(canonical.ProviderFlickReels, "t-1", 0))
	h.waitState(t, StatePlaying)
	require.Equal(t, 1, h.warmer.Calls())

	// Block further warm-ups; only the initial load awaits them, so the
	// retry must set its source immediately and reach Playing.
	h.warmer.mu.Lock()
	h.warmer.release = make(chan struct{})
	h.warmer.mu.Unlock()
	defer close(h.warmer.release)

	h.sink.Emit(mediasink.EventError)
	st := h.waitStatus(t, func(s Status) bool {
		return s.State == StatePlaying && s.RetryCount == 1
	})
	assert.Equal(t, 0, st.ActiveIndex)

	// The relay still warms in the background.
	assert.Eventually(t, func() bool { return h.warmer.Calls() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestSetQualitySwitchesWithoutMetadataRefetch(t *testing.T) {
	h := newHarness(t, canonical.ProviderNetShort)
	require.NoError(t, h.session.Open(canonical.ProviderNetShort, "t-1", 0))
	h.waitState(t, StatePlaying)

	require.NoError(t, h.session.JumpTo(1))
	st := h.waitState(t, StatePlaying)
	require.Equal(t, canonical.CodecH264, st.Variant.Codec, "auto selection honors the default")
	require.Equal(t, 480, st.Variant.QualityRank)
	detailCalls := h.meta.DetailCalls()

	require.NoError(t, h.session.SetQuality(selector.ExactQuality(1080)))
	require.Eventually(t, func() bool {
		got, err := h.session.Status()
		return err == nil && got.Variant.QualityRank == 1080
	}, 2*time.Second, 5*time.Millisecond)

	st, err := h.session.Status()
	require.NoError(t, err)
	assert.Equal(t, canonical.CodecH265, st.Variant.Codec)
	assert.Equal(t, StatePlaying, st.State, "quality change never leaves Playing")
	assert.Equal(t, detailCalls, h.meta.DetailCalls(), "no metadata refetch on quality change")
}

func TestStaleMetadataResultDiscarded(t *testing.T) {
	h := newHarness(t, canonical.ProviderNetShort)
	require.NoError(t, h.session.Open(canonical.ProviderNetShort, "t-1", 0))
	h.waitState(t, StatePlaying)

	// Queue two navigations back to back; only the later one may win.
	require.NoError(t, h.session.JumpTo(1))
	require.NoError(t, h.session.JumpTo(2))

	require.Eventually(t, func() bool {
		st, err := h.session.Status()
		return err == nil && st.State == StatePlaying && st.ActiveIndex == 2
	}, 2*time.Second, 5*time.Millisecond)
	st, err := h.session.Status()
	require.NoError(t, err)
	assert.Equal(t, "ep-3", st.EpisodeID)
	assert.Equal(t, "https://cdn.example/3.m3u8", h.sink.Source())
}

func TestMetadataFailureFailsSession(t *testing.T) {
	h := newHarness(t, canonical.ProviderNetShort)
	h.meta.mu.Lock()
	h.meta.detailErr = errors.New("upstream 500")
	h.meta.mu.Unlock()

	require.NoError(t, h.session.Open(canonical.ProviderNetShort, "t-1", 0))
	h.waitState(t, StateFailed)
}

func TestCloseIsIdempotentAndCleansUp(t *testing.T) {
	h := newHarness(t, canonical.ProviderNetShort)
	require.NoError(t, h.session.Open(canonical.ProviderNetShort, "t-1", 0))
	h.waitState(t, StatePlaying)
	require.NotEmpty(t, h.sink.Source())

	h.session.Close()
	h.session.Close()

	assert.Empty(t, h.sink.Source(), "sink released on close")
	assert.Empty(t, h.sink.Tracks().List(), "no orphaned subtitle track")
	assert.Zero(t, h.sink.SubscriberCount(mediasink.EventEnded))
	_, err := h.session.Status()
	assert.ErrorIs(t, err, ErrSessionClosed)
}
