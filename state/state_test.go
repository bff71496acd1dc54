package state_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streamgraph/core/state"
)

func TestAdjacentTransition(t *testing.T) {
	m := state.New()
	hops := m.Request(state.Prepared)
	assert.Equal(t, []state.Transition{{From: state.Stopped, To: state.Prepared, Callback: state.StoppedToPrepared}}, hops)
	m.Advance(state.Prepared)
	assert.Equal(t, state.Prepared, m.Current())
	assert.False(t, m.Pending())
}

func TestSkippingStateQueuesIntermediateHops(t *testing.T) {
	m := state.New()
	hops := m.Request(state.Playing)
	assert.Len(t, hops, 2, "stopped -> playing must walk through prepared")
	assert.Equal(t, state.Stopped, hops[0].From)
	assert.Equal(t, state.Prepared, hops[0].To)
	assert.Equal(t, state.Prepared, hops[1].From)
	assert.Equal(t, state.Playing, hops[1].To)

	m.Advance(state.Prepared)
	assert.True(t, m.Pending())
	m.Advance(state.Playing)
	assert.False(t, m.Pending())
	assert.Equal(t, state.Playing, m.Current())
}

func TestIdempotentSameStateIsNoop(t *testing.T) {
	m := state.New()
	assert.Nil(t, m.Request(state.Stopped))
}

func TestDescendWalksBackward(t *testing.T) {
	m := state.New()
	for _, h := range m.Request(state.Playing) {
		m.Advance(h.To)
	}
	assert.Equal(t, state.Playing, m.Current())

	hops := m.Request(state.Stopped)
	assert.Len(t, hops, 2)
	assert.Equal(t, state.PlayingToPrepared, hops[0].Callback)
	assert.Equal(t, state.PreparedToStopped, hops[1].Callback)
}

func TestAdvanceMismatchPanics(t *testing.T) {
	m := state.New()
	m.Request(state.Playing)
	assert.Panics(t, func() {
		m.Advance(state.Playing) // must advance Prepared first
	})
}
