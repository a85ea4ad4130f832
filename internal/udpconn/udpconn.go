// Package udpconn implements the UDP handle spec.md §2 describes as
// "datagram send/recv, analogous shape" to the TCP handle, minus
// connection state and the write queue's partial-write bookkeeping (a
// datagram send either completes whole or fails, never partially). Only
// the readiness-mode path exists: the handle registers interest through
// Add/Modify and performs recvfrom/sendto after each event, so under a
// completion backend (where those calls are no-ops) it receives no events.
package udpconn

import (
	"errors"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/go-aio/aio/internal/backend"
)

var ErrClosed = errors.New("udpconn: closed")

// Scheduler mirrors tcpconn.Scheduler so the root aio.Loop can satisfy
// both handle packages with the same method.
type Scheduler interface {
	Post(fn func())
}

type packetRequest struct {
	buf     []byte
	addr    net.Addr
	onSend  func(err error)
}

// Conn is a UDP handle, optionally bound. It has no connected mode: every
// Send names its destination address.
type Conn struct {
	be  backend.Backend
	sch Scheduler

	mu       sync.Mutex
	fd       int
	interest backend.Mask
	key      *backend.DispatchKey
	closed   bool

	reading bool
	allocCB func(suggested int) []byte
	readCB  func(data []byte, from net.Addr, err error)

	sendQueue []*packetRequest
}

func NewSocket(be backend.Backend, family int, sch Scheduler) (*Conn, error) {
	fd, err := unix.Socket(family, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_UDP)
	if err != nil {
		return nil, err
	}
	return &Conn{be: be, sch: sch, fd: fd}, nil
}

func (c *Conn) FD() int { return c.fd }

func (c *Conn) Bind(addr *net.UDPAddr) error {
	sa, err := toSockaddr(addr)
	if err != nil {
		return err
	}
	return unix.Bind(c.fd, sa)
}

func (c *Conn) SetReuseAddr(enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	return unix.SetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, v)
}

func toSockaddr(addr *net.UDPAddr) (unix.Sockaddr, error) {
	if addr == nil {
		return nil, errors.New("udpconn: nil address")
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	ip6 := addr.IP.To16()
	if ip6 == nil {
		ip6 = net.IPv6zero
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], ip6)
	return sa, nil
}

func fromSockaddr(sa unix.Sockaddr) net.Addr {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: append([]byte(nil), s.Addr[:]...), Port: s.Port}
	case *unix.SockaddrInet6:
		return &net.UDPAddr{IP: append([]byte(nil), s.Addr[:]...), Port: s.Port}
	default:
		return nil
	}
}

func (c *Conn) desiredInterest() backend.Mask {
	var m backend.Mask
	if c.reading {
		m |= backend.Read
	}
	if len(c.sendQueue) > 0 {
		m |= backend.Write
	}
	return m
}

func (c *Conn) applyInterest() error {
	want := c.desiredInterest()
	if want == c.interest {
		return nil
	}
	if c.key == nil {
		c.key = &backend.DispatchKey{Handler: c.handleReadinessEvent}
	}
	var err error
	if c.interest == 0 {
		err = c.be.Add(c.fd, want, c.key)
	} else {
		err = c.be.Modify(c.fd, want)
	}
	if err == nil {
		c.interest = want
	}
	return err
}

// ReadStart delivers each arriving datagram with its source address,
// the UDP analogue of spec.md §4.3's TCP read algorithm.
func (c *Conn) ReadStart(allocCB func(suggested int) []byte, readCB func(data []byte, from net.Addr, err error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.allocCB = allocCB
	c.readCB = readCB
	c.reading = true
	return c.applyInterest()
}

func (c *Conn) ReadStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reading = false
	return c.applyInterest()
}

func (c *Conn) handleReadinessEvent(ev backend.Event) {
	if ev.Mask&backend.Read != 0 {
		c.doReadiness()
	}
	if ev.Mask&backend.Write != 0 {
		c.drainSendQueue()
	}
}

func (c *Conn) doReadiness() {
	c.mu.Lock()
	if !c.reading {
		c.mu.Unlock()
		return
	}
	var buf []byte
	if c.allocCB != nil {
		buf = c.allocCB(65507)
	} else {
		buf = make([]byte, 65507)
	}
	cb := c.readCB
	c.mu.Unlock()

	for {
		n, sa, err := unix.Recvfrom(c.fd, buf, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if cb != nil {
				cb(nil, nil, err)
			}
			return
		}
		if cb != nil {
			cb(buf[:n], fromSockaddr(sa), nil)
		}
	}
}

// Send enqueues/transmits one datagram to addr. Like TCP write, a
// synchronous full send calls onSend on the same call stack.
func (c *Conn) Send(buf []byte, addr *net.UDPAddr, onSend func(err error)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if len(c.sendQueue) == 0 {
		sa, err := toSockaddr(addr)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		err = unix.Sendto(c.fd, buf, 0, sa)
		if err == nil {
			c.mu.Unlock()
			if onSend != nil {
				onSend(nil)
			}
			return nil
		}
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			c.mu.Unlock()
			if onSend != nil {
				onSend(err)
			}
			return nil
		}
	}
	c.sendQueue = append(c.sendQueue, &packetRequest{buf: buf, addr: addr, onSend: onSend})
	err := c.applyInterest()
	c.mu.Unlock()
	return err
}

func (c *Conn) drainSendQueue() {
	for {
		c.mu.Lock()
		if len(c.sendQueue) == 0 {
			c.mu.Unlock()
			return
		}
		req := c.sendQueue[0]
		c.mu.Unlock()

		sa, err := toSockaddr(req.addr.(*net.UDPAddr))
		if err == nil {
			err = unix.Sendto(c.fd, req.buf, 0, sa)
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		c.mu.Lock()
		c.sendQueue = c.sendQueue[1:]
		_ = c.applyInterest()
		c.mu.Unlock()
		if req.onSend != nil {
			req.onSend(err)
		}
	}
}

func (c *Conn) Destroy(onClose func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.sendQueue
	c.sendQueue = nil
	fd := c.fd
	sch := c.sch
	c.mu.Unlock()

	for _, req := range pending {
		if req.onSend != nil {
			req.onSend(ErrClosed)
		}
	}
	_ = c.be.Remove(fd)
	_ = unix.Close(fd)

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
