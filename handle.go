package aio

// HandleType tags which variant a Handle carries, per spec.md §9's
// "tagged variant" guidance (an enum/sum, not an inheritance chain).
type HandleType int

const (
	HandleTCP HandleType = iota
	HandleUDP
	HandleTimer
	HandleAsync
	HandlePrepare
	HandleCheck
)

// ActivationState is a handle's membership state in the loop, per
// spec.md §4's Handle description.
type ActivationState int

const (
	StateInactive ActivationState = iota
	StateActive
	StateClosing
	StateClosed
)

// Handle is the loop-visible wrapper around a TCP/UDP/timer/async
// resource: a type tag, the owning loop, activation state, a user-data
// slot, and a close callback, mirroring the teacher's Device/Runner
// pairing (one Go struct per resource, the type tag implicit in which
// internal package owns it) generalized to an explicit tag field.
//
// Invariants (spec.md §4):
//  1. Active handles keep the loop alive (Handle.activate/deactivate
//     call Loop.Ref/Unref).
//  2. Transition to Closing is terminal: no further reads/writes may be
//     initiated.
//  3. The close callback fires at most once, on the loop thread, after
//     the handle is removed from the backend and in-flight operations
//     are cancelled or drained.
type Handle struct {
	ID     uint64
	Type   HandleType
	Loop   *Loop
	State  ActivationState
	Data   any
	onClose func(h *Handle)

	closeCalled bool
	wasActive   bool
}

// newHandle allocates a Handle owned by l, tagged typ, initially
// Inactive.
func newHandle(l *Loop, typ HandleType) *Handle {
	return &Handle{ID: l.nextID(), Type: typ, Loop: l, State: StateInactive}
}

// activate transitions Inactive -> Active, taking a loop ref and
// registering the handle so the loop tracks it.
func (h *Handle) activate() {
	if h.State != StateInactive {
		return
	}
	h.State = StateActive
	h.wasActive = true
	h.Loop.Ref()
	h.Loop.registerHandle(h)
}

// deactivate transitions Active -> Inactive without closing (e.g.
// ReadStop on a handle that otherwise stays open): releases the ref but
// does not unregister.
func (h *Handle) deactivate() {
	if h.State != StateActive {
		return
	}
	h.State = StateInactive
	h.Loop.Unref()
}

// beginClose transitions to Closing (invariant 2: terminal, no further
// operations). Returns false if already closing/closed.
func (h *Handle) beginClose() bool {
	if h.State == StateClosing || h.State == StateClosed {
		return false
	}
	wasActive := h.State == StateActive
	h.State = StateClosing
	if wasActive {
		h.Loop.Unref()
	}
	return true
}

// finishClose transitions to Closed and invokes onClose exactly once
// (invariant 3), unregistering from the loop first.
func (h *Handle) finishClose() {
	if h.closeCalled {
		return
	}
	h.closeCalled = true
	h.State = StateClosed
	h.Loop.unregisterHandle(h.ID)
	if h.onClose != nil {
		h.onClose(h)
	}
}
