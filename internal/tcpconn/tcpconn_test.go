package tcpconn

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-aio/aio/internal/backend"
)

// fakeBackend is a minimal Backend double recording Add/Modify calls,
// for testing interest-mask bookkeeping without real sockets.
type fakeBackend struct {
	added    map[int]backend.Mask
	modified []backend.Mask
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{added: make(map[int]backend.Mask)}
}

func (f *fakeBackend) Kind() backend.Kind { return backend.KindReadiness }
func (f *fakeBackend) Add(fd int, interest backend.Mask, key *backend.DispatchKey) error {
	f.added[fd] = interest
	return nil
}
func (f *fakeBackend) Modify(fd int, interest backend.Mask) error {
	f.modified = append(f.modified, interest)
	f.added[fd] = interest
	return nil
}
func (f *fakeBackend) Remove(fd int) error      { delete(f.added, fd); return nil }
func (f *fakeBackend) Poll(int) (int, error)    { return 0, nil }
func (f *fakeBackend) Wakeup()                  {}
func (f *fakeBackend) Close() error             { return nil }

func TestDesiredInterestTracksReadingAndQueue(t *testing.T) {
	be := newFakeBackend()
	c := New(be, 7, StateConnected, nil)

	assert.Equal(t, backend.Mask(0), c.desiredInterest())

	c.mu.Lock()
	c.reading = true
	assert.NoError(t, c.applyInterest())
	c.mu.Unlock()
	assert.Equal(t, backend.Read, be.added[7])

	c.mu.Lock()
	c.writeQueue = append(c.writeQueue, &writeRequest{buf: []byte("x")})
	assert.NoError(t, c.applyInterest())
	c.mu.Unlock()
	assert.Equal(t, backend.Read|backend.Write, be.added[7])
	assert.Len(t, be.modified, 1)
}

func TestWriteZeroLengthSucceedsSynchronously(t *testing.T) {
	be := newFakeBackend()
	c := New(be, 7, StateConnected, nil)

	called := false
	err := c.Write(nil, func(err error) {
		called = true
		assert.NoError(t, err)
	})
	assert.NoError(t, err)
	assert.True(t, called)
	assert.Empty(t, c.writeQueue)
}

func TestDestroyFailsPendingWrites(t *testing.T) {
	be := newFakeBackend()
	c := New(be, -1, StateConnected, nil) // fd -1: Close syscall on it is harmless to assert failure delivery

	var gotErr error
	c.mu.Lock()
	c.writeQueue = append(c.writeQueue, &writeRequest{buf: []byte("x"), onWrite: func(err error) { gotErr = err }})
	c.mu.Unlock()

	closed := false
	c.Destroy(func() { closed = true })

	assert.Equal(t, ErrCancelled, gotErr)
	assert.True(t, closed)
	assert.Equal(t, StateClosed, c.State())
}

type postingScheduler struct{ posted []func() }

func (p *postingScheduler) Post(fn func()) { p.posted = append(p.posted, fn) }

func TestDestroySchedulesCloseCallback(t *testing.T) {
	be := newFakeBackend()
	sch := &postingScheduler{}
	c := New(be, -1, StateConnected, sch)

	ran := false
	c.Destroy(func() { ran = true })

	assert.False(t, ran, "close callback must be scheduled, not run inline")
	assert.Len(t, sch.posted, 1)
	sch.posted[0]()
	assert.True(t, ran)
}
