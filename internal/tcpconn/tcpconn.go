// Package tcpconn implements the TCP handle state machine of spec.md
// §4.3: a single type whose behavior forks on backend.Kind() rather than
// on inheritance, per spec.md §9's "polymorphic handles via tagged
// variant" note. Socket plumbing is golang.org/x/sys/unix throughout,
// grounded on that package's use elsewhere in the teacher's module
// (internal/queue/runner.go calls unix.SchedSetaffinity from the same
// package) — no pack example wraps raw non-blocking TCP sockets, so this
// is the justified stdlib/unix-only piece of the domain stack.
package tcpconn

import (
	"errors"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/go-aio/aio/internal/backend"
)

// State is the handle's position in spec.md §4.3's state machine.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateListening
	StateConnected
	StateShuttingDown
	StateClosing
	StateClosed
)

// ErrCancelled is delivered to pending write/connect/read callbacks when
// Destroy cancels them, per spec.md §7's Cancelled kind.
var ErrCancelled = errors.New("tcpconn: cancelled")

// ErrClosed is returned by operations attempted on a closed handle.
var ErrClosed = errors.New("tcpconn: closed")

// Scheduler lets Conn post its close callback through the owning loop's
// callback queue instead of invoking it inline, matching spec.md §4.3's
// "schedule the close callback." The root aio package satisfies this
// with its mpsc.Queue-backed loop; tests may use a synchronous stub.
type Scheduler interface {
	Post(fn func())
}

const defaultPendingAccepts = 4 // spec.md §4.3: "a pool of pending accept sockets (four by default)"
const defaultReadBuffer = 4096

// writeRequest is one entry of the strict-FIFO write queue (spec.md §4.3,
// §8 property 2, scenario S6).
type writeRequest struct {
	buf      []byte
	off      int
	onWrite  func(err error)
}

// Conn is a TCP handle. The same type serves listening sockets, accepted
// connections, and outbound connections, selected by State.
type Conn struct {
	be  backend.Backend
	sch Scheduler

	mu    sync.Mutex
	fd    int
	state State

	// interest tracks what's currently registered with a readiness
	// backend, so transitions only call Modify when the desired mask
	// actually changes.
	interest backend.Mask
	readKey  *backend.DispatchKey
	connKey  *backend.DispatchKey

	reading bool
	allocCB func(suggested int) []byte
	readCB  func(data []byte, err error)

	writeQueue []*writeRequest

	onConnect func(err error)

	onConnection   func(c *Conn, err error)
	listenBacklog  int
	pendingAccepts int

	closeCB func()
	closed  bool
}

// New wraps an existing socket fd (state StateIdle unless already
// connected) for backend be. sch may be nil (close callback runs inline).
func New(be backend.Backend, fd int, initial State, sch Scheduler) *Conn {
	return &Conn{be: be, sch: sch, fd: fd, state: initial}
}

// NewSocket creates a fresh non-blocking TCP socket for family (AF_INET
// or AF_INET6) without binding or connecting it.
func NewSocket(be backend.Backend, family int, sch Scheduler) (*Conn, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, err
	}
	return New(be, fd, StateIdle, sch), nil
}

func (c *Conn) FD() int { return c.fd }

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) isCompletion() (backend.CompletionSubmitter, bool) {
	cs, ok := c.be.(backend.CompletionSubmitter)
	return cs, ok
}

// ---- addressing ----

func toSockaddr(addr net.Addr) (unix.Sockaddr, error) {
	ta, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, errors.New("tcpconn: addr must be *net.TCPAddr")
	}
	if ip4 := ta.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: ta.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	ip6 := ta.IP.To16()
	if ip6 == nil {
		ip6 = net.IPv6zero
	}
	sa := &unix.SockaddrInet6{Port: ta.Port}
	copy(sa.Addr[:], ip6)
	return sa, nil
}

func fromSockaddr(sa unix.Sockaddr) net.Addr {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append([]byte(nil), s.Addr[:]...), Port: s.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append([]byte(nil), s.Addr[:]...), Port: s.Port}
	default:
		return nil
	}
}

// ---- socket options ----

func (c *Conn) Bind(addr *net.TCPAddr) error {
	sa, err := toSockaddr(addr)
	if err != nil {
		return err
	}
	return unix.Bind(c.fd, sa)
}

func (c *Conn) SetReuseAddr(enabled bool) error {
	return unix.SetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolToInt(enabled))
}

func (c *Conn) SetNoDelay(enabled bool) error {
	return unix.SetsockoptInt(c.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolToInt(enabled))
}

func (c *Conn) SetKeepAlive(enabled bool) error {
	return unix.SetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolToInt(enabled))
}

func (c *Conn) GetSockName() (net.Addr, error) {
	sa, err := unix.Getsockname(c.fd)
	if err != nil {
		return nil, err
	}
	return fromSockaddr(sa), nil
}

func (c *Conn) GetPeerName() (net.Addr, error) {
	sa, err := unix.Getpeername(c.fd)
	if err != nil {
		return nil, err
	}
	return fromSockaddr(sa), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ---- interest management (readiness backends only) ----

func (c *Conn) desiredInterest() backend.Mask {
	var m backend.Mask
	if c.reading {
		m |= backend.Read
	}
	if len(c.writeQueue) > 0 {
		m |= backend.Write
	}
	return m
}

// applyInterest recomputes the desired mask and updates the backend
// registration only if it changed, preserving any interest a callback
// added out-of-band (spec.md §4.3's connect algorithm note).
func (c *Conn) applyInterest() error {
	if _, completion := c.isCompletion(); completion {
		return nil
	}
	want := c.desiredInterest()
	if want == c.interest {
		return nil
	}
	if c.readKey == nil {
		c.readKey = &backend.DispatchKey{Handler: c.handleReadinessEvent}
	}
	var err error
	if c.interest == 0 {
		err = c.be.Add(c.fd, want, c.readKey)
	} else {
		err = c.be.Modify(c.fd, want)
	}
	if err == nil {
		c.interest = want
	}
	return err
}
