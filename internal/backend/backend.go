// Package backend provides the uniform poll/add/modify/remove/wakeup
// abstraction over a readiness backend (epoll-shaped) and a completion
// backend (io_uring-shaped), per spec.md §4.2. The dispatch key pattern
// (a tagged pointer identifying the handle's dispatch context) mirrors
// the teacher's uring.Ring + Result interface shape, generalized from
// "one io_uring per ublk queue" to "one backend per event loop."
package backend

import "errors"

// Mask is the readiness/completion interest bitmask (spec.md §6).
type Mask uint8

const (
	Read Mask = 1 << iota
	Write
	Error
	Hangup
)

// Kind distinguishes the two backend models (spec.md §4.2).
type Kind int

const (
	KindReadiness Kind = iota
	KindCompletion
)

// OpType multiplexes completion-mode operations within a single fd's
// overlapped state, mirroring spec.md §4.7's "io_type (Accept/Recv/Send/
// Connect)" embedded in the overlapped structure.
type OpType int

const (
	OpAccept OpType = iota
	OpConnect
	OpRecv
	OpSend
	OpClose
	OpShutdown
	OpCancel
)

// DispatchKey is the small trampoline struct spec.md §4.7 describes: a
// tagged pointer the backend hands back on every event, which the loop's
// dispatcher uses to route to the right handle without knowing handle
// types itself.
type DispatchKey struct {
	// Op is meaningful for completion backends only; readiness backends
	// ignore it and instead consult the delivered Mask.
	Op OpType
	// Handler receives the raw event for this key. Readiness backends
	// call it with BytesTransferred == -1 (the handle must recv/send
	// itself); completion backends call it with the real byte count.
	Handler func(ev Event)
}

// Event is what the backend hands the dispatcher for one fd/operation.
type Event struct {
	FD               int
	Mask             Mask
	Key              *DispatchKey
	BytesTransferred int
	Err              error
}

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("backend: closed")

// Backend is the uniform interface described in spec.md §4.2.
type Backend interface {
	Kind() Kind

	// Add registers fd for interest (readiness backends) under key.
	// Adding an already-present fd updates its interest mask, matching
	// spec.md §4.2's stated idempotence.
	Add(fd int, interest Mask, key *DispatchKey) error

	// Modify updates fd's interest mask.
	Modify(fd int, interest Mask) error

	// Remove unregisters fd. A no-op for an unknown fd.
	Remove(fd int) error

	// Poll blocks up to timeoutMs (0 = forever is NOT implied; -1 means
	// block indefinitely, 0 means return immediately) waiting for
	// events, dispatching each one synchronously via its DispatchKey's
	// Handler before returning. Returns the number of events dispatched,
	// or an error on catastrophic backend failure (loop surfaces this as
	// fatal, per spec.md §4.2).
	Poll(timeoutMs int) (int, error)

	// Wakeup causes a blocked Poll to return promptly. Safe from any
	// thread (paired with mpsc.Queue's enqueue, per spec.md §3).
	Wakeup()

	Close() error
}

// CompletionSubmitter is implemented by completion-model backends: the
// handle submits an operation *before* the event (spec.md §4.2 item 2),
// rather than reacting to readiness. TCP handles type-assert for this
// when running in completion mode; UDP handles do not use it.
type CompletionSubmitter interface {
	Backend

	SubmitAccept(listenFD int, key *DispatchKey) error
	SubmitConnect(fd int, addr []byte, key *DispatchKey) error
	SubmitRecv(fd int, buf []byte, key *DispatchKey) error
	SubmitSend(fd int, buf []byte, key *DispatchKey) error
	SubmitClose(fd int, key *DispatchKey) error
	SubmitCancel(fd int, key *DispatchKey) error
}
