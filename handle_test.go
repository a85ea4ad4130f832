package aio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleActivateTakesLoopRef(t *testing.T) {
	clk := NewFakeClock(0)
	loop, _ := newTestLoop(t, clk)
	defer loop.Destroy()

	h := newHandle(loop, HandleTCP)
	require.Equal(t, StateInactive, h.State)

	h.activate()
	require.Equal(t, StateActive, h.State)
	require.EqualValues(t, 1, loop.refs())
	require.Len(t, loop.handles, 1)
}

func TestHandleDeactivateReleasesRefWithoutUnregistering(t *testing.T) {
	clk := NewFakeClock(0)
	loop, _ := newTestLoop(t, clk)
	defer loop.Destroy()

	h := newHandle(loop, HandleTimer)
	h.activate()
	h.deactivate()

	require.Equal(t, StateInactive, h.State)
	require.EqualValues(t, 0, loop.refs())
	require.Len(t, loop.handles, 1)
}

func TestHandleCloseIsTerminalAndFiresCallbackOnce(t *testing.T) {
	clk := NewFakeClock(0)
	loop, _ := newTestLoop(t, clk)
	defer loop.Destroy()

	h := newHandle(loop, HandleUDP)
	h.activate()

	calls := 0
	h.onClose = func(*Handle) { calls++ }

	require.True(t, h.beginClose())
	require.False(t, h.beginClose(), "second beginClose must fail: closing is terminal")
	require.EqualValues(t, 0, loop.refs())

	h.finishClose()
	h.finishClose()
	require.Equal(t, 1, calls, "onClose must fire exactly once")
	require.Len(t, loop.handles, 0)
}
