package aio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCoroutineAwaitSuspendsUntilPromiseCompletes(t *testing.T) {
	clk := NewFakeClock(0)
	loop, _ := newTestLoop(t, clk)
	defer loop.Destroy()

	p := NewPromise(loop)
	var awaitedStatus int
	var awaitedResult any

	co := Go(loop, func(co *Coroutine) any {
		status, result := co.Await(p)
		awaitedStatus = status
		awaitedResult = result
		return "coroutine-done"
	})

	require.False(t, co.Finished(), "coroutine must suspend at Await, not run to completion")

	p.Complete(9, "payload")
	loop.Run(RunNoWait)

	deadline := time.Now().Add(time.Second)
	for !co.Finished() && time.Now().Before(deadline) {
		loop.Run(RunNoWait)
	}

	require.True(t, co.Finished())
	require.Equal(t, "coroutine-done", co.Result())
	require.Equal(t, 9, awaitedStatus)
	require.Equal(t, "payload", awaitedResult)
}

func TestCoroutineCompletingWithoutAwaitReturnsImmediately(t *testing.T) {
	clk := NewFakeClock(0)
	loop, _ := newTestLoop(t, clk)
	defer loop.Destroy()

	co := Go(loop, func(co *Coroutine) any { return 123 })
	require.True(t, co.Finished())
	require.Equal(t, 123, co.Result())
}
