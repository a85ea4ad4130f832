package udpconn

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-aio/aio/internal/backend"
)

type fakeBackend struct {
	added map[int]backend.Mask
}

func newFakeBackend() *fakeBackend { return &fakeBackend{added: make(map[int]backend.Mask)} }

func (f *fakeBackend) Kind() backend.Kind { return backend.KindReadiness }
func (f *fakeBackend) Add(fd int, interest backend.Mask, key *backend.DispatchKey) error {
	f.added[fd] = interest
	return nil
}
func (f *fakeBackend) Modify(fd int, interest backend.Mask) error { f.added[fd] = interest; return nil }
func (f *fakeBackend) Remove(fd int) error                        { delete(f.added, fd); return nil }
func (f *fakeBackend) Poll(int) (int, error)                       { return 0, nil }
func (f *fakeBackend) Wakeup()                                     {}
func (f *fakeBackend) Close() error                                { return nil }

func TestReadStartSetsReadInterest(t *testing.T) {
	be := newFakeBackend()
	c := &Conn{be: be, fd: -1}
	assert.NoError(t, c.ReadStart(nil, nil))
	assert.Equal(t, backend.Read, be.added[-1])
}

func TestDestroyFailsQueuedSends(t *testing.T) {
	be := newFakeBackend()
	c := &Conn{be: be, fd: -1}
	var gotErr error
	c.sendQueue = append(c.sendQueue, &packetRequest{onSend: func(err error) { gotErr = err }})
	c.Destroy(nil)
	assert.Equal(t, ErrClosed, gotErr)
}
