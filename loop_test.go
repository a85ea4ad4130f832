package aio

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-aio/aio/internal/backend"
	"github.com/go-aio/aio/internal/logging"
	"github.com/go-aio/aio/internal/mpsc"
	"github.com/go-aio/aio/internal/timerheap"
)

func newTestLoop(t *testing.T, clk *FakeClock) (*Loop, *MockBackend) {
	t.Helper()
	be := NewMockBackend(backend.KindReadiness)
	loop := &Loop{
		be:      be,
		timers:  timerheap.New(),
		q:       mpsc.New(be.Wakeup),
		clk:     clk,
		alloc:   NewPooledAllocator(),
		pool:    NewGoThreadPool(1),
		obs:     NoOpObserver{},
		metrics: NewMetrics(),
		log:     logging.Default(),
		handles: make(map[uint64]*Handle),
	}
	loop.now = clk.NowMicro()
	return loop, be
}

func TestRunNoWaitPollsExactlyOnce(t *testing.T) {
	clk := NewFakeClock(0)
	loop, be := newTestLoop(t, clk)
	defer loop.Destroy()

	code := loop.Run(RunNoWait)
	require.Equal(t, 0, code)
	require.Equal(t, 1, be.CallCounts()["poll"])
}

func TestRunDefaultExitsWithNoRefsTimersOrWork(t *testing.T) {
	clk := NewFakeClock(0)
	loop, _ := newTestLoop(t, clk)
	defer loop.Destroy()

	code := loop.Run(RunDefault)
	require.Equal(t, 0, code)
}

func TestRunDefaultStaysAliveWhileRefd(t *testing.T) {
	clk := NewFakeClock(0)
	loop, _ := newTestLoop(t, clk)
	defer loop.Destroy()

	loop.Ref()
	done := make(chan int, 1)
	go func() { done <- loop.Run(RunDefault) }()

	loop.QueueWork(func() {
		loop.Unref()
		loop.Stop()
	})

	code := <-done
	require.Equal(t, 0, code)
}

func TestQueueWorkRunsOnLoopThread(t *testing.T) {
	clk := NewFakeClock(0)
	loop, _ := newTestLoop(t, clk)
	defer loop.Destroy()

	ran := false
	loop.QueueWork(func() { ran = true })
	loop.Run(RunNoWait)

	require.True(t, ran)
}

func TestPollTimeoutZeroForRunNoWait(t *testing.T) {
	clk := NewFakeClock(0)
	loop, _ := newTestLoop(t, clk)
	defer loop.Destroy()

	require.Equal(t, 0, loop.pollTimeout(RunNoWait, 0))
}

func TestPollTimeoutBlocksIndefinitelyWithNoTimer(t *testing.T) {
	clk := NewFakeClock(0)
	loop, _ := newTestLoop(t, clk)
	defer loop.Destroy()

	require.Equal(t, -1, loop.pollTimeout(RunDefault, 0))
}

func TestPollTimeoutBoundedByNearestTimer(t *testing.T) {
	clk := NewFakeClock(0)
	loop, _ := newTestLoop(t, clk)
	defer loop.Destroy()

	loop.timers.Insert(5_000, 0, func() {})
	require.Equal(t, 5, loop.pollTimeout(RunDefault, 0))
}
