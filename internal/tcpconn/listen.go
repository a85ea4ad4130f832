package tcpconn

import (
	"golang.org/x/sys/unix"

	"github.com/go-aio/aio/internal/backend"
)

// Listen implements spec.md §4.3's listen/accept. onConnection is
// invoked once per accepted connection (or with a non-nil err if accept
// itself failed terminally); in completion mode it also re-tops-up the
// pending-accept pool, matching "pre-posted via a pool of pending accept
// sockets (four by default) so the server is always ready."
func (c *Conn) Listen(backlog int, onConnection func(conn *Conn, err error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrClosed
	}
	if err := unix.Listen(c.fd, backlog); err != nil {
		return err
	}
	c.state = StateListening
	c.onConnection = onConnection
	c.listenBacklog = backlog

	if cs, ok := c.isCompletion(); ok {
		c.connKey = &backend.DispatchKey{Op: backend.OpAccept, Handler: c.handleAcceptCompletion}
		for i := 0; i < defaultPendingAccepts; i++ {
			if err := cs.SubmitAccept(c.fd, c.connKey); err != nil {
				return err
			}
			c.pendingAccepts++
		}
		return nil
	}

	c.readKey = &backend.DispatchKey{Handler: c.handleReadinessEvent}
	c.interest = backend.Read
	return c.be.Add(c.fd, c.interest, c.readKey)
}

// acceptAll drains every connection currently queued on the listening
// socket (readiness mode: accept is level-triggered, so loop until
// EAGAIN).
func (c *Conn) acceptAll() {
	for {
		nfd, sa, err := unix.Accept4(c.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			c.mu.Lock()
			cb := c.onConnection
			c.mu.Unlock()
			if cb != nil {
				cb(nil, err)
			}
			return
		}
		_ = sa
		child := New(c.be, nfd, StateConnected, c.sch)
		c.mu.Lock()
		cb := c.onConnection
		c.mu.Unlock()
		if cb != nil {
			cb(child, nil)
		}
	}
}

func (c *Conn) handleAcceptCompletion(ev backend.Event) {
	c.mu.Lock()
	c.pendingAccepts--
	cb := c.onConnection
	be := c.be
	sch := c.sch
	c.mu.Unlock()

	if ev.Err != nil {
		if cb != nil {
			cb(nil, ev.Err)
		}
	} else {
		child := New(be, ev.BytesTransferred, StateConnected, sch)
		if cb != nil {
			cb(child, nil)
		}
	}

	// Top the pool back up so the server stays always-ready.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateListening {
		return
	}
	if cs, ok := c.isCompletion(); ok {
		if err := cs.SubmitAccept(c.fd, c.connKey); err == nil {
			c.pendingAccepts++
		}
	}
}
