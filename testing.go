package aio

import (
	"sync"
	"time"

	"github.com/go-aio/aio/internal/backend"
)

// MockBackend is a test double for backend.Backend that tracks every
// call instead of touching the kernel, grounded on the teacher's
// testing.go MockBackend (method-call tracking + an IsClosed/CallCounts
// introspection surface) generalized from a block-device backend to the
// loop's poll backend.
type MockBackend struct {
	mu sync.Mutex

	keys map[int]*backend.DispatchKey
	kind backend.Kind

	addCalls    int
	modifyCalls int
	removeCalls int
	pollCalls   int
	wakeupCalls int
	closed      bool

	// PollEvents, if set, is returned (and consumed) one slice per
	// Poll() call, letting tests script exactly which events fire.
	PollEvents [][]backend.Event
}

// NewMockBackend creates a mock backend of the given kind.
func NewMockBackend(kind backend.Kind) *MockBackend {
	return &MockBackend{keys: make(map[int]*backend.DispatchKey), kind: kind}
}

func (m *MockBackend) Kind() backend.Kind { return m.kind }

func (m *MockBackend) Add(fd int, interest backend.Mask, key *backend.DispatchKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addCalls++
	m.keys[fd] = key
	return nil
}

func (m *MockBackend) Modify(fd int, interest backend.Mask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modifyCalls++
	return nil
}

func (m *MockBackend) Remove(fd int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeCalls++
	delete(m.keys, fd)
	return nil
}

// Poll dispatches the next scripted batch of events (if any) and
// returns immediately; it never actually blocks.
func (m *MockBackend) Poll(timeoutMs int) (int, error) {
	m.mu.Lock()
	m.pollCalls++
	var batch []backend.Event
	if len(m.PollEvents) > 0 {
		batch = m.PollEvents[0]
		m.PollEvents = m.PollEvents[1:]
	}
	m.mu.Unlock()

	for _, ev := range batch {
		if ev.Key != nil && ev.Key.Handler != nil {
			ev.Key.Handler(ev)
		}
	}
	return len(batch), nil
}

func (m *MockBackend) Wakeup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wakeupCalls++
}

func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockBackend) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// CallCounts returns how many times each Backend method was invoked.
func (m *MockBackend) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{
		"add":    m.addCalls,
		"modify": m.modifyCalls,
		"remove": m.removeCalls,
		"poll":   m.pollCalls,
		"wakeup": m.wakeupCalls,
	}
}

var _ backend.Backend = (*MockBackend)(nil)

// FakeClock is a deterministic clock.Source for timer tests: NowMicro
// returns a manually-advanced counter, and Sleep just advances it
// instead of blocking.
type FakeClock struct {
	mu    sync.Mutex
	nowUs int64
}

func NewFakeClock(startUs int64) *FakeClock { return &FakeClock{nowUs: startUs} }

func (c *FakeClock) NowMicro() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowUs
}

func (c *FakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowUs += d.Microseconds()
}

// Advance moves the fake clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowUs += d.Microseconds()
}
