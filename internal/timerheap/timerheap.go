// Package timerheap implements the event loop's timer priority queue: a
// min-heap keyed by absolute expiry (microseconds), with insertion-order
// tiebreaking so equal-expiry timers fire deterministically.
package timerheap

import "container/heap"

// Entry is a single armed timer.
type Entry struct {
	ExpiryUs int64       // absolute expiry, monotonic microseconds
	PeriodUs int64       // 0 for one-shot; re-armed at ExpiryUs+PeriodUs if > 0
	Callback func()      // invoked when the timer fires
	Seq      uint64      // insertion sequence, breaks expiry ties
	index    int         // heap.Interface bookkeeping
	canceled bool
}

// Canceled reports whether Cancel has been called on this entry.
func (e *Entry) Canceled() bool { return e.canceled }

type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].ExpiryUs != h[j].ExpiryUs {
		return h[i].ExpiryUs < h[j].ExpiryUs
	}
	return h[i].Seq < h[j].Seq
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Heap is the timer min-heap. Not safe for concurrent use; the loop owns
// it and mutates it only from the loop thread.
type Heap struct {
	h       entryHeap
	nextSeq uint64
}

// New returns an empty timer heap.
func New() *Heap {
	return &Heap{}
}

// Insert arms a new timer and returns its Entry. expiryUs must be an
// absolute time in the same clock as the loop's Now().
func (t *Heap) Insert(expiryUs, periodUs int64, cb func()) *Entry {
	e := &Entry{
		ExpiryUs: expiryUs,
		PeriodUs: periodUs,
		Callback: cb,
		Seq:      t.nextSeq,
	}
	t.nextSeq++
	heap.Push(&t.h, e)
	return e
}

// Cancel removes an entry from the heap. It is a no-op if the entry has
// already fired and was not periodic (its index would be -1).
func (t *Heap) Cancel(e *Entry) {
	if e.canceled || e.index < 0 || e.index >= len(t.h) {
		e.canceled = true
		return
	}
	heap.Remove(&t.h, e.index)
	e.canceled = true
}

// Len returns the number of armed timers.
func (t *Heap) Len() int { return t.h.Len() }

// PeekExpiry returns the nearest timer's expiry and whether one exists.
func (t *Heap) PeekExpiry() (int64, bool) {
	if len(t.h) == 0 {
		return 0, false
	}
	return t.h[0].ExpiryUs, true
}

// FireExpired pops and invokes every timer whose expiry is <= nowUs,
// re-arming periodic timers with ExpiryUs += PeriodUs after their
// callback returns, as spec.md §3 requires. Returns the number fired.
func (t *Heap) FireExpired(nowUs int64) int {
	fired := 0
	for len(t.h) > 0 && t.h[0].ExpiryUs <= nowUs {
		e := heap.Pop(&t.h).(*Entry)
		if e.canceled {
			continue
		}
		if e.Callback != nil {
			e.Callback()
		}
		fired++
		if e.PeriodUs > 0 && !e.canceled {
			e.ExpiryUs += e.PeriodUs
			e.Seq = t.nextSeq
			t.nextSeq++
			heap.Push(&t.h, e)
		}
	}
	return fired
}
