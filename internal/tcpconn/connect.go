package tcpconn

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/go-aio/aio/internal/backend"
)

// Connect implements spec.md §4.3's connect algorithm for both backend
// kinds. onConnect is invoked with nil on success, non-nil on failure.
// It is invoked synchronously, before Connect returns, only when a
// readiness-mode connect completes immediately; otherwise it runs from
// the backend event that resolves the connect.
func (c *Conn) Connect(addr *net.TCPAddr, onConnect func(err error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrClosed
	}
	sa, err := toSockaddr(addr)
	if err != nil {
		return err
	}
	c.onConnect = onConnect
	c.state = StateConnecting

	if cs, ok := c.isCompletion(); ok {
		c.connKey = &backend.DispatchKey{Op: backend.OpConnect, Handler: c.handleConnectCompletion}
		raw, err := sockaddrBytes(sa)
		if err != nil {
			return err
		}
		return cs.SubmitConnect(c.fd, raw, c.connKey)
	}

	err = unix.Connect(c.fd, sa)
	if err == nil {
		// Rare but legal: connect completed immediately (e.g. loopback).
		c.state = StateConnected
		cb := c.onConnect
		c.mu.Unlock()
		if cb != nil {
			cb(nil)
		}
		c.mu.Lock()
		return nil
	}
	if err != unix.EINPROGRESS {
		c.state = StateIdle
		return err
	}
	c.connKey = &backend.DispatchKey{Handler: c.handleReadinessEvent}
	c.readKey = c.connKey
	c.interest = backend.Write | backend.Error
	return c.be.Add(c.fd, c.interest, c.connKey)
}

// finishConnect reads SO_ERROR to learn the outcome of an in-progress
// connect, per spec.md §4.3's readiness algorithm.
func (c *Conn) finishConnect() {
	errno, gerr := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	var cbErr error
	if gerr != nil {
		cbErr = gerr
	} else if errno != 0 {
		cbErr = syscall.Errno(errno)
	}

	c.mu.Lock()
	if cbErr == nil {
		c.state = StateConnected
	} else {
		c.state = StateIdle
	}
	cb := c.onConnect
	c.onConnect = nil
	// Drop WRITE interest now that connect resolved, preserving whatever
	// the callback itself requests (e.g. read_start -> READ interest).
	c.interest &^= backend.Write
	c.mu.Unlock()

	if cb != nil {
		cb(cbErr)
	}

	c.mu.Lock()
	_ = c.applyInterest()
	c.mu.Unlock()
}

func (c *Conn) handleConnectCompletion(ev backend.Event) {
	c.mu.Lock()
	if ev.Err == nil {
		c.state = StateConnected
	} else {
		c.state = StateIdle
	}
	cb := c.onConnect
	c.onConnect = nil
	c.mu.Unlock()
	if cb != nil {
		cb(ev.Err)
	}
}

// sockaddrBytes renders a unix.Sockaddr into the wire bytes an io_uring
// SQE's connect operation expects (a sockaddr_in/sockaddr_in6), matching
// spec.md §6's "network byte order, matches BSD sockaddr_in/in6" note.
func sockaddrBytes(sa unix.Sockaddr) ([]byte, error) {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		buf := make([]byte, 16)
		buf[0] = unix.AF_INET
		buf[2] = byte(s.Port >> 8)
		buf[3] = byte(s.Port)
		copy(buf[4:8], s.Addr[:])
		return buf, nil
	case *unix.SockaddrInet6:
		buf := make([]byte, 28)
		buf[0] = unix.AF_INET6
		buf[2] = byte(s.Port >> 8)
		buf[3] = byte(s.Port)
		copy(buf[8:24], s.Addr[:])
		return buf, nil
	default:
		return nil, syscall.EAFNOSUPPORT
	}
}
