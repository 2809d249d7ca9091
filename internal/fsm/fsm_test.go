// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type state string
type event string

const (
	stIdle    state = "idle"
	stRunning state = "running"
	stDone    state = "done"

	evStart  event = "start"
	evFinish event = "finish"
)

func newTestMachine(t *testing.T, transitions []Transition[state, event]) *Machine[state, event] {
	t.Helper()
	m, err := New(stIdle, transitions)
	require.NoError(t, err)
	return m
}

func TestFireWalksDeclaredEdges(t *testing.T) {
	m := newTestMachine(t, []Transition[state, event]{
		{From: stIdle, Event: evStart, To: stRunning},
		{From: stRunning, Event: evFinish, To: stDone},
	})

	s, err := m.Fire(context.Background(), evStart)
	require.NoError(t, err)
	assert.Equal(t, stRunning, s)

	s, err = m.Fire(context.Background(), evFinish)
	require.NoError(t, err)
	assert.Equal(t, stDone, s)
	assert.Equal(t, stDone, m.State())
}

func TestFireUndeclaredEdgeFails(t *testing.T) {
	m := newTestMachine(t, []Transition[state, event]{
		{From: stIdle, Event: evStart, To: stRunning},
	})

	s, err := m.Fire(context.Background(), evFinish)
	require.Error(t, err)
	assert.Equal(t, stIdle, s, "state unchanged on invalid transition")
}

func TestDuplicateEdgeRejectedAtConstruction(t *testing.T) {
	_, err := New(stIdle, []Transition[state, event]{
		{From: stIdle, Event: evStart, To: stRunning},
		{From: stIdle, Event: evStart, To: stDone},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate transition")
}

func TestGuardVetoesTransition(t *testing.T) {
	veto := errors.New("not ready")
	m := newTestMachine(t, []Transition[state, event]{
		{
			From: stIdle, Event: evStart, To: stRunning,
			Guard: func(ctx context.Context, from state, ev event) error { return veto },
		},
	})

	s, err := m.Fire(context.Background(), evStart)
	require.ErrorIs(t, err, veto)
	assert.Equal(t, stIdle, s)
	assert.Equal(t, stIdle, m.State())
}

func TestActionFailureLeavesStateUnchanged(t *testing.T) {
	boom := errors.New("action failed")
	m := newTestMachine(t, []Transition[state, event]{
		{
			From: stIdle, Event: evStart, To: stRunning,
			Action: func(ctx context.Context, from, to state, ev event) error { return boom },
		},
	})

	_, err := m.Fire(context.Background(), evStart)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, stIdle, m.State())
}

func TestConcurrentMoveDetected(t *testing.T) {
	// Fire evFinish while evStart's action is still running; the losing Fire
	// must report the concurrent move instead of clobbering the state.
	fired := make(chan struct{})
	proceed := make(chan struct{})
	race := newTestMachine(t, []Transition[state, event]{
		{From: stIdle, Event: evStart, To: stRunning, Action: func(ctx context.Context, from, to state, ev event) error {
			close(fired)
			<-proceed
			return nil
		}},
		{From: stIdle, Event: evFinish, To: stDone},
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := race.Fire(context.Background(), evStart)
		errCh <- err
	}()
	<-fired
	_, err := race.Fire(context.Background(), evFinish)
	require.NoError(t, err)
	close(proceed)

	err = <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrent transition")
	assert.Equal(t, stDone, race.State())
}

func TestCan(t *testing.T) {
	m := newTestMachine(t, []Transition[state, event]{
		{From: stIdle, Event: evStart, To: stRunning},
	})
	assert.True(t, m.Can(evStart))
	assert.False(t, m.Can(evFinish))
}
