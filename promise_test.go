package aio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPromiseCompleteIsIdempotent(t *testing.T) {
	clk := NewFakeClock(0)
	loop, _ := newTestLoop(t, clk)
	defer loop.Destroy()

	p := NewPromise(loop)
	require.True(t, p.Complete(1, "first"))
	require.False(t, p.Complete(2, "second"), "a second Complete must be a no-op")

	require.Equal(t, 1, p.Status())
	require.Equal(t, "first", p.Result())
}

func TestPromiseAwaitReturnsImmediatelyIfAlreadyCompleted(t *testing.T) {
	clk := NewFakeClock(0)
	loop, _ := newTestLoop(t, clk)
	defer loop.Destroy()

	p := NewPromise(loop)
	p.Complete(7, "done")

	status, result, immediate := p.await(func(int, any) {})
	require.True(t, immediate)
	require.Equal(t, 7, status)
	require.Equal(t, "done", result)
}

func TestPromiseAwaitSchedulesResumeOnCompleteViaLoopQueue(t *testing.T) {
	clk := NewFakeClock(0)
	loop, _ := newTestLoop(t, clk)
	defer loop.Destroy()

	p := NewPromise(loop)
	resumed := make(chan struct{}, 1)
	_, _, immediate := p.await(func(status int, result any) {
		require.Equal(t, 42, status)
		resumed <- struct{}{}
	})
	require.False(t, immediate)
	require.EqualValues(t, 1, loop.refs(), "awaiting a pending promise takes a loop ref")

	p.Complete(42, nil)
	loop.Run(RunNoWait)

	select {
	case <-resumed:
	case <-time.After(time.Second):
		t.Fatal("resume was never invoked")
	}
	require.EqualValues(t, 0, loop.refs(), "resume releases the ref taken by await")
}
