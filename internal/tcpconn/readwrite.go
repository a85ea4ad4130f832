package tcpconn

import (
	"io"

	"golang.org/x/sys/unix"

	"github.com/go-aio/aio/internal/backend"
)

// ReadStart implements spec.md §4.3's read algorithm. allocCB may be nil,
// in which case a defaultReadBuffer-sized buffer is used every call.
func (c *Conn) ReadStart(allocCB func(suggested int) []byte, readCB func(data []byte, err error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return ErrClosed
	}
	c.allocCB = allocCB
	c.readCB = readCB
	c.reading = true

	if cs, ok := c.isCompletion(); ok {
		return c.submitRecvLocked(cs)
	}
	if c.readKey == nil {
		c.readKey = &backend.DispatchKey{Handler: c.handleReadinessEvent}
	}
	return c.applyInterest()
}

// ReadStop cancels future read_cb delivery; any in-flight completion
// read still arrives but is dropped without re-arming.
func (c *Conn) ReadStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reading = false
	if _, ok := c.isCompletion(); ok {
		return nil
	}
	return c.applyInterest()
}

func (c *Conn) allocBuf() []byte {
	if c.allocCB != nil {
		return c.allocCB(defaultReadBuffer)
	}
	return make([]byte, defaultReadBuffer)
}

func (c *Conn) submitRecvLocked(cs backend.CompletionSubmitter) error {
	buf := c.allocBuf()
	key := &backend.DispatchKey{
		Op:      backend.OpRecv,
		Handler: func(ev backend.Event) { c.handleRecvCompletion(ev, buf) },
	}
	return cs.SubmitRecv(c.fd, buf, key)
}

// handleRecvCompletion receives the buffer it was submitted with (spec.md
// §4.3: "read is an outstanding WSARecv whose completion delivers bytes
// directly to read_cb") since the dispatch key alone carries no payload.
func (c *Conn) handleRecvCompletion(ev backend.Event, buf []byte) {
	c.mu.Lock()
	cb := c.readCB
	reading := c.reading
	n := ev.BytesTransferred
	err := ev.Err
	var resubmit backend.CompletionSubmitter
	if reading && err == nil && n > 0 {
		resubmit, _ = c.isCompletion()
	}
	if n == 0 && err == nil {
		c.reading = false
	}
	if !reading {
		cb = nil
	}
	c.mu.Unlock()

	if cb != nil {
		switch {
		case err != nil:
			cb(nil, err)
		case n == 0:
			cb(nil, io.EOF)
		default:
			cb(buf[:n], nil)
		}
	}

	if resubmit != nil {
		c.mu.Lock()
		_ = c.submitRecvLocked(resubmit)
		c.mu.Unlock()
	}
}

// handleReadinessEvent is the single dispatch entry point for readiness
// backends, forking on the event's mask and the handle's current state
// (connecting vs connected), per spec.md §9's tagged-variant note.
func (c *Conn) handleReadinessEvent(ev backend.Event) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case StateConnecting:
		c.finishConnect()
		return
	case StateListening:
		c.acceptAll()
		return
	}

	if ev.Mask&backend.Read != 0 {
		c.doReadiness()
	}
	if ev.Mask&backend.Write != 0 {
		c.drainWriteQueue()
	}
}

func (c *Conn) doReadiness() {
	c.mu.Lock()
	if !c.reading {
		c.mu.Unlock()
		return
	}
	buf := c.allocBuf()
	c.mu.Unlock()

	n, err := unix.Read(c.fd, buf)

	c.mu.Lock()
	cb := c.readCB
	if n == 0 && err == nil {
		c.reading = false
	}
	c.mu.Unlock()

	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		return
	case err != nil:
		if cb != nil {
			cb(nil, err)
		}
	case n == 0:
		if cb != nil {
			cb(nil, io.EOF)
		}
	default:
		if cb != nil {
			cb(buf[:n], nil)
		}
	}
}

// Write implements spec.md §4.3's write algorithm: try to send
// immediately; synchronous success calls onWrite on the same call stack,
// otherwise the request is queued and WRITE interest ensured.
func (c *Conn) Write(buf []byte, onWrite func(err error)) error {
	c.mu.Lock()
	if c.state != StateConnected && c.state != StateShuttingDown {
		c.mu.Unlock()
		return ErrClosed
	}

	if len(buf) == 0 {
		// spec.md §8: writing zero bytes succeeds immediately.
		c.mu.Unlock()
		if onWrite != nil {
			onWrite(nil)
		}
		return nil
	}

	if cs, ok := c.isCompletion(); ok {
		req := &writeRequest{buf: buf, onWrite: onWrite}
		empty := len(c.writeQueue) == 0
		c.writeQueue = append(c.writeQueue, req)
		c.mu.Unlock()
		if empty {
			return c.submitNextSend(cs)
		}
		return nil
	}

	if len(c.writeQueue) == 0 {
		n, err := unix.Write(c.fd, buf)
		if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			c.mu.Unlock()
			if onWrite != nil {
				onWrite(err)
			}
			return nil
		}
		if n == len(buf) {
			c.mu.Unlock()
			if onWrite != nil {
				onWrite(nil)
			}
			return nil
		}
		if n < 0 {
			n = 0
		}
		c.writeQueue = append(c.writeQueue, &writeRequest{buf: buf, off: n, onWrite: onWrite})
	} else {
		c.writeQueue = append(c.writeQueue, &writeRequest{buf: buf, onWrite: onWrite})
	}
	err := c.applyInterest()
	c.mu.Unlock()
	return err
}

// drainWriteQueue is the readiness-mode write-ready handler: strict FIFO,
// stopping at the first request that cannot be fully drained so ordering
// is never violated (spec.md §8 property 2 / scenario S6).
func (c *Conn) drainWriteQueue() {
	for {
		c.mu.Lock()
		if len(c.writeQueue) == 0 {
			c.mu.Unlock()
			return
		}
		req := c.writeQueue[0]
		c.mu.Unlock()

		n, err := unix.Write(c.fd, req.buf[req.off:])
		if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			c.mu.Lock()
			c.writeQueue = c.writeQueue[1:]
			_ = c.applyInterest()
			c.mu.Unlock()
			if req.onWrite != nil {
				req.onWrite(err)
			}
			continue // spec.md §4.3: complete with failure, continue with next
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		req.off += n
		if req.off < len(req.buf) {
			return // partial: stop, preserve order, wait for next event
		}
		c.mu.Lock()
		c.writeQueue = c.writeQueue[1:]
		_ = c.applyInterest()
		c.mu.Unlock()
		if req.onWrite != nil {
			req.onWrite(nil)
		}
	}
}

func (c *Conn) submitNextSend(cs backend.CompletionSubmitter) error {
	c.mu.Lock()
	if len(c.writeQueue) == 0 {
		c.mu.Unlock()
		return nil
	}
	req := c.writeQueue[0]
	remaining := req.buf[req.off:]
	key := &backend.DispatchKey{Op: backend.OpSend, Handler: c.handleSendCompletion}
	c.mu.Unlock()
	return cs.SubmitSend(c.fd, remaining, key)
}

func (c *Conn) handleSendCompletion(ev backend.Event) {
	c.mu.Lock()
	if len(c.writeQueue) == 0 {
		c.mu.Unlock()
		return
	}
	req := c.writeQueue[0]
	if ev.Err != nil {
		c.writeQueue = c.writeQueue[1:]
		c.mu.Unlock()
		if req.onWrite != nil {
			req.onWrite(ev.Err)
		}
		c.mu.Lock()
		cs, _ := c.isCompletion()
		c.mu.Unlock()
		_ = c.submitNextSend(cs)
		return
	}
	req.off += ev.BytesTransferred
	done := req.off >= len(req.buf)
	if done {
		c.writeQueue = c.writeQueue[1:]
	}
	cs, _ := c.isCompletion()
	c.mu.Unlock()

	if done && req.onWrite != nil {
		req.onWrite(nil)
	}
	_ = c.submitNextSend(cs)
}

// Shutdown closes only the write side; the read side remains active
// until EOF or Destroy (spec.md §4.3). shutdown(2) is a non-blocking
// syscall under both backend kinds, so it is issued synchronously here
// rather than through a completion submission.
func (c *Conn) Shutdown(onShutdown func(err error)) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = StateShuttingDown
	c.mu.Unlock()

	err := unix.Shutdown(c.fd, unix.SHUT_WR)
	if onShutdown != nil {
		onShutdown(err)
	}
	return nil
}

// Destroy implements spec.md §4.3: drains and fails pending writes,
// cancels outstanding completions, unregisters from the backend, closes
// the socket, and schedules the close callback.
func (c *Conn) Destroy(onClose func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	onConnect, connecting := c.onConnect, c.state == StateConnecting
	c.onConnect = nil
	c.state = StateClosing
	pending := c.writeQueue
	c.writeQueue = nil
	var readCB func(data []byte, err error)
	if c.reading {
		readCB = c.readCB
	}
	c.reading = false
	cs, completion := c.isCompletion()
	fd := c.fd
	sch := c.sch
	c.mu.Unlock()

	for _, req := range pending {
		if req.onWrite != nil {
			req.onWrite(ErrCancelled)
		}
	}
	if connecting && onConnect != nil {
		onConnect(ErrCancelled)
	}
	if readCB != nil {
		readCB(nil, ErrCancelled)
	}

	if completion {
		_ = cs.SubmitCancel(fd, &backend.DispatchKey{Op: backend.OpCancel})
	} else {
		_ = c.be.Remove(fd)
	}
	_ = unix.Close(fd)

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	if sch != nil {
		sch.Post(func() {
			if onClose != nil {
				onClose()
			}
		})
	} else if onClose != nil {
		onClose()
	}
}
