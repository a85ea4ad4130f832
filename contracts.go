package aio

import (
	"context"
	"sync"
)

// The interfaces below are the external collaborators spec.md §1 scopes
// out of this implementation (file I/O, TLS, DNS, SQL): contracts only,
// so that handle code can be written against a stable seam even though
// no concrete adapter ships here. Allocator and ThreadPool get one
// concrete implementation each because the loop and worker dispatch
// need *something* to exercise spec.md §5's allocator/thread-pool
// wiring; see DESIGN.md for why the rest stay contract-only.

// Allocator supplies buffers for read callbacks and work-item payloads.
// The loop's own allocator must be thread-safe (spec.md §5: "work items
// are allocated by cross-thread producers").
type Allocator interface {
	Get(size int) []byte
	Put(buf []byte)
}

// Resolver performs DNS resolution for httpclient dials. Out of scope
// per spec.md §1; httpclient accepts a Resolver so a real implementation
// (e.g. a pack-style DNS client) can be substituted without touching
// the core.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]string, error)
}

// TLSAdapter wraps a plaintext Conn-like connection into a TLS session.
// Out of scope per spec.md §1.
type TLSAdapter interface {
	Handshake(ctx context.Context, rawConn any, serverName string) (any, error)
}

// SQLDriver is a placeholder seam for a SQL backend a coroutine body
// might call into via the thread pool. Out of scope per spec.md §1.
type SQLDriver interface {
	Query(ctx context.Context, query string, args ...any) (rows any, err error)
}

// ThreadPool executes blocking helpers off the loop thread, posting
// results back via QueueWork (spec.md §5). Loop.Create wires a
// GoThreadPool by default.
type ThreadPool interface {
	Submit(fn func())
	Close()
}

// PooledAllocator buckets buffers into power-of-two size classes backed
// by sync.Pool, grounded on the teacher's internal/queue/pool.go
// GetBuffer/PutBuffer bucketing (there: 128KB/256KB/512KB/1MB buckets
// sized for block-device I/O; here: smaller buckets sized for socket
// reads and HTTP body chunks).
type PooledAllocator struct {
	pools [len(allocBucketSizes)]sync.Pool
}

var allocBucketSizes = [...]int{4 * 1024, 16 * 1024, 64 * 1024, 256 * 1024}

// NewPooledAllocator creates an Allocator with the default bucket sizes.
func NewPooledAllocator() *PooledAllocator {
	a := &PooledAllocator{}
	for i, size := range allocBucketSizes {
		size := size
		a.pools[i].New = func() any { b := make([]byte, size); return &b }
	}
	return a
}

func (a *PooledAllocator) bucketFor(size int) int {
	for i, s := range allocBucketSizes {
		if size <= s {
			return i
		}
	}
	return -1
}

func (a *PooledAllocator) Get(size int) []byte {
	i := a.bucketFor(size)
	if i < 0 {
		return make([]byte, size)
	}
	buf := *a.pools[i].Get().(*[]byte)
	return buf[:size]
}

func (a *PooledAllocator) Put(buf []byte) {
	c := cap(buf)
	for i, s := range allocBucketSizes {
		if c == s {
			full := buf[:c]
			a.pools[i].Put(&full)
			return
		}
	}
	// Non-standard capacity (e.g. a caller-supplied buffer): not pooled.
}

var _ Allocator = (*PooledAllocator)(nil)

// GoThreadPool is the concrete ThreadPool needed to exercise spec.md
// §5's "pool workers submit results back to the loop via the MPSC
// callback queue": a bounded goroutine pool fed by a work channel
// buffered to 256 entries (Submit blocks while it is full), grounded on the teacher's dependency on goroutine-per-task
// dispatch in internal/queue/runner.go's worker goroutines.
type GoThreadPool struct {
	work chan func()
	wg   sync.WaitGroup
	once sync.Once
}

// NewGoThreadPool starts n worker goroutines draining a shared work
// queue. n <= 0 defaults to a single worker.
func NewGoThreadPool(n int) *GoThreadPool {
	if n <= 0 {
		n = 1
	}
	p := &GoThreadPool{work: make(chan func(), 256)}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer p.wg.Done()
			for fn := range p.work {
				fn()
			}
		}()
	}
	return p
}

func (p *GoThreadPool) Submit(fn func()) { p.work <- fn }

func (p *GoThreadPool) Close() {
	p.once.Do(func() { close(p.work) })
	p.wg.Wait()
}

var _ ThreadPool = (*GoThreadPool)(nil)
