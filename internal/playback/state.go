// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import "github.com/yutupremsatu/dracinbox/internal/fsm"

// State is the session lifecycle state.
type State string

const (
	StateIdle              State = "idle"
	StateResolvingMetadata State = "resolving_metadata"
	StateSelectingVariant  State = "selecting_variant"
	StateAwaitingWarmup    State = "awaiting_warmup"
	StatePlaying           State = "playing"
	StateEnded             State = "ended"
	StateFailed            State = "failed"
)

// Event drives session transitions.
type Event string

const (
	// EventNavigate covers session open, explicit navigation, auto-advance
	// and the retry-refetch path; they all re-enter metadata resolution.
	EventNavigate      Event = "navigate"
	EventMetadataReady Event = "metadata_ready"
	EventAwaitWarmup   Event = "await_warmup"
	EventWarmupDone    Event = "warmup_done"
	EventPlay          Event = "play"
	EventEnded         Event = "ended"
	EventFail          Event = "fail"
)

// newMachine declares every legal session edge. Navigation is legal from any
// state; terminal states are only left by navigating.
func newMachine() (*fsm.Machine[State, Event], error) {
	transitions := []fsm.Transition[State, Event]{
		{From: StateResolvingMetadata, Event: EventMetadataReady, To: StateSelectingVariant},
		{From: StateSelectingVariant, Event: EventAwaitWarmup, To: StateAwaitingWarmup},
		{From: StateSelectingVariant, Event: EventPlay, To: StatePlaying},
		{From: StateAwaitingWarmup, Event: EventWarmupDone, To: StatePlaying},
		{From: StatePlaying, Event: EventEnded, To: StateEnded},

		{From: StateResolvingMetadata, Event: EventFail, To: StateFailed},
		{From: StateSelectingVariant, Event: EventFail, To: StateFailed},
		{From: StateAwaitingWarmup, Event: EventFail, To: StateFailed},
		{From: StatePlaying, Event: EventFail, To: StateFailed},
	}
	for _, from := range []State{
		StateIdle, StateResolvingMetadata, StateSelectingVariant,
		StateAwaitingWarmup, StatePlaying, StateEnded, StateFailed,
	} {
		transitions = append(transitions, fsm.Transition[State, Event]{
			From: from, Event: EventNavigate, To: StateResolvingMetadata,
		})
	}
	return fsm.New(StateIdle, transitions)
}
