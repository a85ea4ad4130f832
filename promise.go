package aio

import "sync"

// Promise binds an asynchronous result to at most one waiter (spec.md
// §4.4). Grounded on the teacher's per-tag sync.Mutex serialization in
// Runner.handleCompletion/submitCommitAndFetch — the "guard a single
// transition under a mutex, release, schedule follow-up work" pattern is
// reused directly, generalized from "commit one ublk tag" to "complete
// one promise."
type Promise struct {
	loop *Loop

	mu        sync.Mutex
	completed bool
	status    int
	result    any
	waiter    func(status int, result any)
}

// NewPromise allocates a promise bound to loop.
func NewPromise(loop *Loop) *Promise {
	return &Promise{loop: loop}
}

// Complete stores status/result, marking the promise completed. If a
// waiter is registered (via a concurrent Await), its resume is scheduled
// on the loop — never invoked inline, even if Complete runs on the loop
// thread already, to preserve spec.md §8 property 6's single-resume
// ordering. Returns false if already completed (a second Complete call
// is a no-op, per spec.md §8 property 6).
func (p *Promise) Complete(status int, result any) bool {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return false
	}
	p.completed = true
	p.status = status
	p.result = result
	waiter := p.waiter
	p.waiter = nil
	p.mu.Unlock()

	if waiter == nil {
		return true
	}

	// Open Question decision (SPEC_FULL.md §7.1): this port's MPSC queue
	// is unbounded and cannot fail to enqueue, so the "release one loop
	// ref and leave the coroutine unresumed" path the source describes
	// for OOM is unreachable here; QueueWork always succeeds. The ref
	// release still happens in the resumed closure below, symmetric with
	// the Ref taken in Await.
	p.loop.QueueWork(func() {
		p.loop.Unref()
		waiter(status, result)
	})
	return true
}

// IsCompleted reports whether Complete has been called.
func (p *Promise) IsCompleted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// Status returns the completed status, or 0 if not yet completed.
func (p *Promise) Status() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Result returns the completed result, or nil if not yet completed.
func (p *Promise) Result() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// Destroy releases the promise. Callers must guarantee no active waiter
// (spec.md §4.4); Destroy itself does no cleanup beyond documenting that
// contract since Go's GC reclaims the mutex/struct.
func (p *Promise) Destroy() {}

// await registers resume as the promise's single waiter if not already
// completed, taking a loop ref for the suspension. Returns
// (status, result, true) immediately if already completed.
func (p *Promise) await(resume func(status int, result any)) (status int, result any, immediate bool) {
	p.mu.Lock()
	if p.completed {
		status, result = p.status, p.result
		p.mu.Unlock()
		return status, result, true
	}
	p.waiter = resume
	p.mu.Unlock()
	p.loop.Ref()
	return 0, nil, false
}
