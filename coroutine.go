package aio

// Coroutine wraps a suspendable user function (spec.md §4.4). Go has no
// native stackful-suspension primitive, so this is the documented
// deviation spec.md §9 invites ("use a native task primitive... ensure
// the resume trampoline runs on the loop thread"): a goroutine plus a
// strict two-channel handoff acts as the fiber. Exactly one of {the loop
// thread, the coroutine goroutine} ever runs at a time — the loop thread
// blocks inside resume() until the coroutine yields back at its next
// Await or returns — which is what gives the coroutine body the same
// non-racing-with-the-loop guarantee spec.md §4.4 describes, without an
// actual stackful-fiber runtime.
type Coroutine struct {
	loop *Loop

	toCoroutine chan resumeMsg
	toLoop      chan struct{}

	finished bool
	result   any
}

type resumeMsg struct {
	status int
	result any
}

// Go starts fn on a new goroutine and blocks the calling thread (which
// must be the loop thread) until fn either awaits a promise or returns.
// Returns the Coroutine handle; Result()/Finished() report the outcome
// once finished becomes true.
func Go(loop *Loop, fn func(co *Coroutine) any) *Coroutine {
	co := &Coroutine{
		loop:        loop,
		toCoroutine: make(chan resumeMsg),
		toLoop:      make(chan struct{}),
	}
	go func() {
		res := fn(co)
		co.finished = true
		co.result = res
		co.toLoop <- struct{}{}
	}()
	<-co.toLoop
	return co
}

// Finished reports whether the coroutine body has returned.
func (co *Coroutine) Finished() bool { return co.finished }

// Result returns the coroutine body's return value once Finished.
func (co *Coroutine) Result() any { return co.result }

// Await suspends the coroutine until promise completes, per spec.md
// §4.4: "if promise completed, return its status immediately; otherwise
// record the current coroutine as the promise's waiter, increment the
// loop ref, suspend." Must only be called from inside the fn passed to
// Go, on the coroutine's own goroutine.
func (co *Coroutine) Await(p *Promise) (status int, result any) {
	status, result, immediate := p.await(co.resume)
	if immediate {
		return status, result
	}
	// Yield back to the loop thread, which is blocked in the call that
	// got us here (Go's <-co.toLoop, or a prior resume's <-co.toLoop).
	co.toLoop <- struct{}{}
	msg := <-co.toCoroutine
	return msg.status, msg.result
}

// resume is scheduled by Promise.Complete via Loop.QueueWork, so it runs
// on the loop thread. It hands control to the coroutine goroutine and
// blocks until that goroutine yields again (next Await or return),
// keeping the loop serialized around the coroutine's execution.
func (co *Coroutine) resume(status int, result any) {
	co.toCoroutine <- resumeMsg{status: status, result: result}
	<-co.toLoop
}
