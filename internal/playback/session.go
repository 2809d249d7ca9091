// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playback owns the video session: one state machine per opened
// title that coordinates metadata resolution, variant selection, delivery
// and the streaming transport, including retry, delivery escalation and
// end-of-episode auto-advance.
//
// All session state is mutated on a single event-loop goroutine. User
// operations and transport/sink callbacks post closures onto that loop, so
// transitions never race; in-flight fetch results carry the epoch they were
// started under and are discarded when a newer transition superseded them.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/yutupremsatu/dracinbox/internal/canonical"
	"github.com/yutupremsatu/dracinbox/internal/delivery"
	"github.com/yutupremsatu/dracinbox/internal/fsm"
	"github.com/yutupremsatu/dracinbox/internal/log"
	"github.com/yutupremsatu/dracinbox/internal/mediasink"
	"github.com/yutupremsatu/dracinbox/internal/metrics"
	"github.com/yutupremsatu/dracinbox/internal/provider"
	"github.com/yutupremsatu/dracinbox/internal/selector"
	"github.com/yutupremsatu/dracinbox/internal/subtitle"
	"github.com/yutupremsatu/dracinbox/internal/transport"
)

// defaultRetryBudget is how many refetch-and-retry cycles an episode gets
// before the session fails terminally for that episode.
const defaultRetryBudget = 2

// Metadata fetches and normalizes upstream metadata. *provider.Client
// implements it.
type Metadata interface {
	Detail(ctx context.Context, p canonical.Provider, titleID string) (*canonical.Title, error)
	Episodes(ctx context.Context, p canonical.Provider, titleID string, selector int) ([]canonical.Episode, error)
}

// Warmer performs the relay readiness probe. *delivery.Prober implements it.
type Warmer interface {
	Warmup(ctx context.Context, rawURL string) error
}

// Transport streams one target at a time. *transport.Loader implements it.
type Transport interface {
	Load(ctx context.Context, target delivery.Target)
	Teardown()
}

// Options wires a session's collaborators.
type Options struct {
	Registry  *provider.Registry
	Metadata  Metadata
	Resolver  *delivery.Resolver
	Prober    Warmer
	Sink      mediasink.MediaSink
	Subtitles *subtitle.Reconciler
	Navigator Navigator

	// NewTransport builds the streaming transport with the session's hooks.
	// Defaults to the HTTP loader.
	NewTransport func(transport.Hooks) Transport

	// RetryBudget overrides defaultRetryBudget when > 0.
	RetryBudget int
}

// navKind distinguishes why an episode transition happened; it decides the
// warm-up gating and the navigation update flavor.
type navKind int

const (
	navOpen navKind = iota
	navExplicit
	navAuto
	navRetry
)

// Status is a consistent snapshot of the session, taken on the event loop.
type Status struct {
	State        State                  `json:"state"`
	Provider     canonical.Provider     `json:"provider"`
	TitleID      string                 `json:"titleId"`
	TitleName    string                 `json:"titleName,omitempty"`
	EpisodeCount int                    `json:"episodeCount"`
	ActiveIndex  int                    `json:"activeIndex"`
	EpisodeID    string                 `json:"episodeId,omitempty"`
	DeliveryMode delivery.Mode          `json:"deliveryMode,omitempty"`
	Variant      canonical.VideoVariant `json:"variant,omitempty"`
	RetryCount   int                    `json:"retryCount"`
	Degraded     bool                   `json:"degraded"`
}

// Session is one playback session over one title.
type Session struct {
	opts        Options
	retryBudget int
	logger      zerolog.Logger
	machine     *fsm.Machine[State, Event]

	ctx      context.Context
	cancel   context.CancelFunc
	cmds     chan func()
	loopDone chan struct{}

	openOnce  sync.Once
	closeOnce sync.Once
	opened    bool

	transport Transport
	unsubs    []func()

	// loadGen invalidates transport callbacks from superseded loads. Bumped
	// on the loop before each Load; read at hook-fire time.
	loadGen atomic.Uint64

	// Loop-owned state; never touched off the event loop.
	provider    canonical.Provider
	titleID     string
	title       *canonical.Title
	episodes    map[int]*canonical.Episode
	policy      delivery.Policy
	pref        selector.Preference
	target      delivery.Target
	activeIndex int
	retryCount  int
	degraded    bool
	epoch       uint64
	resolveFrom time.Time
	warmed      bool
}

// NewSession builds an unopened session.
func NewSession(opts Options) (*Session, error) {
	if opts.Registry == nil || opts.Metadata == nil || opts.Resolver == nil || opts.Sink == nil {
		return nil, fmt.Errorf("playback: registry, metadata, resolver and sink are required")
	}
	if opts.Navigator == nil {
		opts.Navigator = NopNavigator{}
	}
	machine, err := newMachine()
	if err != nil {
		return nil, err
	}
	budget := opts.RetryBudget
	if budget <= 0 {
		budget = defaultRetryBudget
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:        opts,
		retryBudget: budget,
		logger:      log.WithComponent("session"),
		machine:     machine,
		ctx:         ctx,
		cancel:      cancel,
		cmds:        make(chan func()),
		loopDone:    make(chan struct{}),
		episodes:    make(map[int]*canonical.Episode),
		pref:        selector.Auto(),
	}

	// Hooks fire on the loader goroutine, which Teardown waits for; they must
	// never block on the event loop or teardown would deadlock. Each callback
	// is posted asynchronously and carries its load generation so callbacks
	// from a superseded load are discarded instead of applied late.
	hooks := transport.Hooks{
		OnReady: func() {
			gen := s.loadGen.Load()
			go s.post(func() {
				if gen == s.loadGen.Load() {
					s.onTransportReady()
				}
			})
		},
		OnFatal: func(kind transport.Kind, err error) {
			gen := s.loadGen.Load()
			go s.post(func() {
				if gen == s.loadGen.Load() {
					s.onTransportFatal(kind, err)
				}
			})
		},
	}
	if opts.Subtitles != nil {
		hooks.OnReload = opts.Subtitles.NotifyStreamReload
	}
	if opts.NewTransport != nil {
		s.transport = opts.NewTransport(hooks)
	} else {
		s.transport = transport.NewLoader(transport.Config{}, hooks)
	}
	return s, nil
}

// Open starts the session at startIndex (read from the addressable location
// by the host). It returns once the transition is queued; resolution runs
// asynchronously.
func (s *Session) Open(p canonical.Provider, titleID string, startIndex int) error {
	select {
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
	}
	adapter, err := s.opts.Registry.ForProvider(p)
	if err != nil {
		return err
	}
	var started bool
	s.openOnce.Do(func() {
		started = true
		s.opened = true
		go s.loop()
	})
	if !started {
		return ErrSessionActive
	}

	policy := adapter.DeliveryPolicy()
	if !s.post(func() {
		s.provider = p
		s.titleID = titleID
		s.policy = policy
		s.logger = log.WithComponent("session").With().
			Str(log.FieldProvider, string(p)).
			Str(log.FieldTitleID, titleID).
			Logger()
		s.beginResolve(startIndex, navOpen)
	}) {
		return ErrSessionClosed
	}
	return nil
}

// Close tears the session down: cancels in-flight work, stops the loop,
// detaches the transport, subtitle track and sink subscriptions. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.opened {
			<-s.loopDone
		} else {
			close(s.loopDone)
		}
		s.transport.Teardown()
		if s.opts.Subtitles != nil {
			s.opts.Subtitles.Detach(s.opts.Sink)
		}
		for _, off := range s.unsubs {
			off()
		}
		s.opts.Sink.SetSource("")
	})
}

// Next advances to the following episode.
func (s *Session) Next() error { return s.navigateRelative(1) }

// Prev returns to the preceding episode.
func (s *Session) Prev() error { return s.navigateRelative(-1) }

func (s *Session) navigateRelative(delta int) error {
	return s.call(func() error {
		return s.jumpLocked(s.activeIndex + delta)
	})
}

// JumpTo plays the episode at index.
func (s *Session) JumpTo(index int) error {
	return s.call(func() error { return s.jumpLocked(index) })
}

// jumpLocked runs on the loop: explicit navigation resets the retry budget.
func (s *Session) jumpLocked(index int) error {
	if s.title == nil || index < 0 || index >= len(s.title.Episodes) {
		return ErrNoSuchEpisode
	}
	s.retryCount = 0
	s.beginResolve(index, navExplicit)
	return nil
}

// SetQuality changes the quality preference. While playing it re-runs
// selection and delivery for the current episode without refetching metadata
// and without touching the retry budget.
func (s *Session) SetQuality(pref selector.Preference) error {
	return s.call(func() error {
		s.pref = pref
		if s.machine.State() != StatePlaying {
			return nil
		}
		ep, ok := s.episodes[s.activeIndex]
		if !ok {
			return nil
		}
		variant, ok := selector.Select(ep, s.pref)
		if !ok {
			return ErrNoPlayableVariant
		}
		if variant == s.target.Variant {
			return nil
		}
		s.target = s.opts.Resolver.Resolve(ep.ID, variant, s.policy, s.retryCount)
		s.logger.Info().
			Str(log.FieldEpisodeID, ep.ID).
			Int(log.FieldQualityRank, variant.QualityRank).
			Str(log.FieldCodec, string(variant.Codec)).
			Msg("quality switched")
		s.startStream(ep)
		return nil
	})
}

// Status returns a snapshot taken on the event loop.
func (s *Session) Status() (Status, error) {
	var st Status
	err := s.call(func() error {
		st = s.snapshot()
		return nil
	})
	return st, err
}

// post queues fn on the event loop; false when the session is closed.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.ctx.Done():
		return false
	case s.cmds <- fn:
		return true
	}
}

// call runs fn on the loop and waits for its result.
func (s *Session) call(fn func() error) error {
	res := make(chan error, 1)
	if !s.post(func() { res <- fn() }) {
		return ErrSessionClosed
	}
	select {
	case <-s.ctx.Done():
		return ErrSessionClosed
	case err := <-res:
		return err
	}
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case fn := <-s.cmds:
			fn()
		}
	}
}

// fire applies a mandatory transition; an FSM rejection here is a
// programming error and fails the session loudly in logs.
func (s *Session) fire(event Event) State {
	from := s.machine.State()
	to, err := s.machine.Fire(s.ctx, event)
	if err != nil {
		s.logger.Error().Err(err).
			Str(log.FieldOldState, string(from)).
			Str(log.FieldEvent, string(event)).
			Msg("illegal session transition")
		return from
	}
	metrics.IncSessionTransition(string(s.provider), string(from), string(to))
	s.logger.Debug().
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Str(log.FieldEvent, string(event)).
		Msg("session transition")
	return to
}

// beginResolve moves to ResolvingMetadata for index and starts the fetch.
// Bumping the epoch invalidates every in-flight result from before.
func (s *Session) beginResolve(index int, kind navKind) {
	s.epoch++
	epoch := s.epoch
	s.activeIndex = index
	s.resolveFrom = time.Now()
	s.fire(EventNavigate)

	// Quiesce the current stream while resolving.
	s.transport.Teardown()
	if s.opts.Subtitles != nil {
		s.opts.Subtitles.Detach(s.opts.Sink)
	}

	// Loop-owned state is captured here, not read from the fetch goroutine.
	// A retry discards the cached title: upstream URLs are short-lived
	// tokens, so replaying the cached ones would replay the failure.
	title := s.title
	if kind == navRetry {
		title = nil
	}
	go func() {
		title, ep, err := s.resolveEpisodeData(s.ctx, title, index)
		s.post(func() {
			if epoch != s.epoch {
				s.logger.Debug().
					Uint64(log.FieldEpoch, epoch).
					Int(log.FieldEpisodeIndex, index).
					Msg("discarding stale metadata result")
				return
			}
			if err != nil {
				s.failEpisode(err)
				return
			}
			s.title = title
			s.episodes[index] = ep
			s.onMetadataReady(ep, kind, epoch)
		})
	}()
}

// resolveEpisodeData returns the playable episode at index, fetching the
// title detail and, for per-episode providers, the episode's stream data.
// It runs off the event loop and must not touch session state.
func (s *Session) resolveEpisodeData(ctx context.Context, title *canonical.Title, index int) (*canonical.Title, *canonical.Episode, error) {
	if title == nil {
		fetched, err := s.opts.Metadata.Detail(ctx, s.provider, s.titleID)
		if err != nil {
			return nil, nil, err
		}
		title = fetched
	}
	if index < 0 || index >= len(title.Episodes) {
		return nil, nil, ErrNoSuchEpisode
	}

	ep := title.Episodes[index]
	if ep.Playable() {
		return title, &ep, nil
	}

	// Placeholder episode: stream URLs live behind a per-episode endpoint
	// and are short-lived, so they are fetched fresh on every activation.
	fetched, err := s.opts.Metadata.Episodes(ctx, s.provider, s.titleID, index+1)
	if err != nil {
		return nil, nil, err
	}
	for _, fe := range fetched {
		if fe.Index == index || len(fetched) == 1 {
			merged := ep
			merged.Variants = fe.Variants
			if fe.SubtitleURL != "" {
				merged.SubtitleURL = fe.SubtitleURL
				merged.SubtitleLanguage = fe.SubtitleLanguage
			}
			if merged.AudioLanguage == "" {
				merged.AudioLanguage = fe.AudioLanguage
			}
			return title, &merged, nil
		}
	}
	return nil, nil, ErrNoPlayableVariant
}

// onMetadataReady runs selection and delivery for the resolved episode.
func (s *Session) onMetadataReady(ep *canonical.Episode, kind navKind, epoch uint64) {
	s.fire(EventMetadataReady)

	variant, ok := selector.Select(ep, s.pref)
	if !ok {
		s.failEpisode(ErrNoPlayableVariant)
		return
	}
	s.target = s.opts.Resolver.Resolve(ep.ID, variant, s.policy, s.retryCount)
	s.warmed = false

	if !s.policy.RequiresWarmup {
		s.fire(EventPlay)
		s.startPlayback(ep, kind)
		return
	}

	if kind == navAuto || kind == navRetry {
		// Only a fresh load awaits warm-up. Auto-advance and retries set
		// the source immediately and warm the relay in the background.
		if s.opts.Prober != nil {
			warmCtx := context.WithoutCancel(s.ctx)
			go func() { _ = s.opts.Prober.Warmup(warmCtx, variant.URL) }()
		}
		s.fire(EventPlay)
		s.startPlayback(ep, kind)
		return
	}

	s.fire(EventAwaitWarmup)
	if s.opts.Prober == nil {
		s.fire(EventWarmupDone)
		s.startPlayback(ep, kind)
		return
	}
	go func() {
		err := s.opts.Prober.Warmup(s.ctx, variant.URL)
		s.post(func() {
			if epoch != s.epoch {
				return
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				s.degraded = true
				s.logger.Warn().Err(err).
					Str(log.FieldEpisodeID, ep.ID).
					Msg("proceeding with degraded warm-up")
			} else if err == nil {
				s.warmed = true
			}
			s.fire(EventWarmupDone)
			s.startPlayback(ep, kind)
		})
	}()
}

// startPlayback points transport and sink at the current target and updates
// the navigation surface.
func (s *Session) startPlayback(ep *canonical.Episode, kind navKind) {
	s.startStream(ep)

	if kind == navExplicit {
		s.opts.Navigator.Push(s.provider, s.titleID, s.activeIndex)
	} else {
		s.opts.Navigator.Replace(s.provider, s.titleID, s.activeIndex)
	}
	metrics.ObserveStartupLatency(string(s.provider), s.warmed, time.Since(s.resolveFrom))
}

// startStream (re)attaches transport, sink and subtitles to s.target. Also
// used for quality switches and delivery escalation, which must not touch
// navigation or latency accounting.
func (s *Session) startStream(ep *canonical.Episode) {
	s.loadGen.Add(1)
	s.transport.Load(s.ctx, s.target)
	s.opts.Sink.SetSource(s.target.ResolvedURL)

	if s.opts.Subtitles != nil {
		subURL := ep.SubtitleURL
		if subURL != "" {
			subURL = s.opts.Resolver.SubtitleURL(subURL)
		}
		s.opts.Subtitles.Attach(s.ctx, s.opts.Sink, subURL, ep.SubtitleLanguage, ep.AudioLanguage)
	}

	if err := s.opts.Sink.Play(); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldEpisodeID, ep.ID).Msg("sink rejected play")
		s.retryOrFail()
	}
}

// onTransportReady is informational; the sink drives visible playback.
func (s *Session) onTransportReady() {
	s.logger.Debug().
		Str(log.FieldEpisodeID, s.target.EpisodeID).
		Str(log.FieldDeliveryMode, string(s.target.Mode)).
		Msg("transport ready")
}

// onTransportFatal handles a classified fatal from the transport: a network
// fatal in direct mode escalates to the relay exactly once; anything else
// consumes the retry budget.
func (s *Session) onTransportFatal(kind transport.Kind, err error) {
	if s.machine.State() != StatePlaying {
		return
	}
	s.logger.Warn().Err(err).
		Str(log.FieldEpisodeID, s.target.EpisodeID).
		Str(log.FieldDeliveryMode, string(s.target.Mode)).
		Msg("fatal transport error")

	if kind == transport.KindNetwork && s.target.Mode == delivery.ModeDirect {
		escalated, escErr := s.opts.Resolver.Escalate(s.target, s.policy)
		if escErr == nil {
			metrics.IncDeliveryEscalation(string(s.provider))
			s.target = escalated
			s.logger.Info().
				Str(log.FieldEpisodeID, s.target.EpisodeID).
				Msg("escalating to relayed delivery")
			if ep, ok := s.episodes[s.activeIndex]; ok {
				s.startStream(ep)
				return
			}
		}
	}
	s.retryOrFail()
}

// HandleTransientError consumes one unit of retry budget, refetching
// metadata rather than replaying the same short-lived URL.
func (s *Session) HandleTransientError() {
	s.post(s.onTransientError)
}

// HandleFatalTransport feeds a classified transport fatal from a host that
// runs its own transport instead of the built-in loader.
func (s *Session) HandleFatalTransport(kind transport.Kind, err error) {
	s.post(func() { s.onTransportFatal(kind, err) })
}

// HandleEnded signals end of the current episode from a host that drives the
// sink directly instead of through sink events.
func (s *Session) HandleEnded() {
	s.post(s.onSinkEnded)
}

// onTransientError ignores errors raised outside playback, e.g. a sink
// error event racing a navigation already in progress.
func (s *Session) onTransientError() {
	if s.machine.State() != StatePlaying {
		return
	}
	s.retryOrFail()
}

func (s *Session) retryOrFail() {
	if s.retryCount < s.retryBudget {
		s.retryCount++
		metrics.IncPlaybackRetry(string(s.provider))
		s.logger.Info().
			Int(log.FieldAttempt, s.retryCount).
			Int(log.FieldEpisodeIndex, s.activeIndex).
			Msg("retrying with fresh metadata")
		s.beginResolve(s.activeIndex, navRetry)
		return
	}
	if s.target.Mode == delivery.ModeRelayed {
		metrics.IncDeliveryExhausted(string(s.provider))
	}
	s.failEpisode(fmt.Errorf("retry budget exhausted after %d attempts", s.retryCount))
}

func (s *Session) failEpisode(err error) {
	metrics.IncPlaybackFailure(string(s.provider))
	s.logger.Error().Err(err).
		Int(log.FieldEpisodeIndex, s.activeIndex).
		Msg("episode failed")
	s.transport.Teardown()
	s.fire(EventFail)
}

// onSinkEnded drives auto-advance when a next episode exists; otherwise the
// title ends terminally.
func (s *Session) onSinkEnded() {
	if s.machine.State() != StatePlaying {
		return
	}
	s.fire(EventEnded)
	if s.title == nil || s.activeIndex+1 >= len(s.title.Episodes) {
		s.logger.Info().Msg("title finished")
		return
	}
	metrics.IncAutoAdvance(string(s.provider))
	s.retryCount = 0
	s.beginResolve(s.activeIndex+1, navAuto)
}

// BindSink subscribes the session to the sink's terminal events. Call once
// after NewSession; the subscriptions live until Close.
func (s *Session) BindSink() {
	s.unsubs = append(s.unsubs,
		s.opts.Sink.Subscribe(mediasink.EventEnded, func() {
			s.post(s.onSinkEnded)
		}),
		s.opts.Sink.Subscribe(mediasink.EventError, func() {
			s.post(s.onTransientError)
		}),
	)
}

func (s *Session) snapshot() Status {
	st := Status{
		State:        s.machine.State(),
		Provider:     s.provider,
		TitleID:      s.titleID,
		ActiveIndex:  s.activeIndex,
		RetryCount:   s.retryCount,
		Degraded:     s.degraded,
		DeliveryMode: s.target.Mode,
		Variant:      s.target.Variant,
		EpisodeID:    s.target.EpisodeID,
	}
	if s.title != nil {
		st.TitleName = s.title.Name
		st.EpisodeCount = len(s.title.Episodes)
	}
	return st
}
