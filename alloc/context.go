// Package alloc implements the §4.1 allocation fast path: per-processor
// bump-allocation contexts, the slow-path refill that pulls a new
// gen0/gen1 budget from the heap, and the single-processor (non-server)
// spin-locked global context.
//
// Grounded on the teacher's memsys.MMSA "get a slab, bump within it,
// refill on exhaustion" allocation shape, generalized from byte-slice
// slabs to segment-backed generation budgets.
package alloc

import (
	"go.uber.org/atomic"

	"github.com/tracinggc/gcheap/cmn"
	"github.com/tracinggc/gcheap/cmn/debug"
	"github.com/tracinggc/gcheap/heap"
)

// Context is one processor's allocation context: alloc_ptr/alloc_limit
// bound the region it may bump-allocate from without taking any lock
// (§4.1: "object_size <= alloc_limit - alloc_ptr: bump alloc_ptr by
// object_size, zero-initialize, return the old alloc_ptr").
type Context struct {
	allocPtr   uintptr
	allocLimit uintptr

	// homeSegment is the ephemeral segment this context's current budget
	// was carved from; Refill bumps within it until exhausted.
	homeSegment *heap.Segment

	bytesAllocated int64 // cumulative, for generation budget accounting

	h *heap.Heap
}

// NewContext binds a fresh, empty allocation context to h. The first
// Allocate call always takes the slow path (Refill) since allocPtr ==
// allocLimit == 0.
func NewContext(h *heap.Heap) *Context {
	return &Context{h: h}
}

// Allocate services a request for size bytes of the given flags,
// returning the address of a zero-initialized object (§4.1). Large
// requests (>= heap.LOHThreshold) are delegated to the LOH and never
// touch this context's bump pointer.
func (c *Context) Allocate(size int64, flags heap.Flags) (uintptr, error) {
	if size >= heap.LOHThreshold {
		return c.h.LOH.Allocate(size)
	}
	aligned := alignObject(size, flags)
	if c.allocPtr+uintptr(aligned) > c.allocLimit {
		if err := c.Refill(aligned); err != nil {
			return 0, err
		}
	}
	addr := c.allocPtr
	c.homeSegment.Arena().Zero(addr, aligned)
	c.allocPtr += uintptr(aligned)
	c.bytesAllocated += aligned
	debug.Assert(addr >= c.homeSegment.Base() && addr < c.homeSegment.ReservedEnd())
	return addr, nil
}

// alignObject pads size up per the §4.1 Align8/Align8Bias flags: objects
// requiring 8-byte alignment on a platform whose header leaves them
// offset by one word get an extra filler word so the payload, not the
// header, lands on the 8-byte boundary.
func alignObject(size int64, flags heap.Flags) int64 {
	if flags.Has(heap.Align8) {
		bias := int64(0)
		if flags.Has(heap.Align8Bias) {
			bias = 8
		}
		size = int64(cmn.AlignUp(uintptr(size+bias), 8))
	}
	if size < heap.MinObjectSize {
		size = heap.MinObjectSize
	}
	return size
}

// Refill is the §4.1 slow path: it carves a new [alloc_ptr, alloc_limit)
// range of at least minSize bytes (and at least refillChunk) out of the
// context's home segment, bumping its allocated_end. If the home segment
// has no room, it takes the segment Eph0.AcquireSegment returns (which
// reserves a fresh one when no listed segment fits) and carves from that.
// Refill does not trigger a collection; a failed reservation or bump is
// returned as an error.
func (c *Context) Refill(minSize int64) error {
	const refillChunk = 8 * 1024 // amortize repeated Refill calls

	want := minSize
	if want < refillChunk {
		want = refillChunk
	}

	if c.homeSegment != nil {
		if addr, err := c.homeSegment.Bump(want); err == nil {
			c.allocPtr = addr
			c.allocLimit = addr + uintptr(want)
			return nil
		}
	}

	seg, err := c.h.Eph0.AcquireSegment(c.h.Ephemeral, want)
	if err != nil {
		return err
	}
	addr, err := seg.Bump(want)
	if err != nil {
		return err
	}
	c.homeSegment = seg
	c.allocPtr = addr
	c.allocLimit = addr + uintptr(want)
	return nil
}

// FixAllocContext truncates the context's unused [alloc_ptr, alloc_limit)
// tail down to a single filler object, so the collector's segment walk
// never has to special-case "live range that trails off into
// uninitialized bytes" (§6.2 FixAllocContext operation).
func (c *Context) FixAllocContext() {
	if c.allocPtr == c.allocLimit || c.homeSegment == nil {
		return
	}
	remaining := int64(c.allocLimit - c.allocPtr)
	view := heap.ObjectView{Arena: c.homeSegment.Arena(), Addr: c.allocPtr}
	view.MarkFree(remaining)
	c.allocLimit = c.allocPtr
}

func (c *Context) BytesAllocated() int64 { return c.bytesAllocated }
func (c *Context) ResetBytesAllocated()  { c.bytesAllocated = 0 }

// globalLock implements the §4.1 single-processor (!ServerGC) spin lock
// over one shared Context: -1 means free, 0 means locked-uncontended,
// and a positive value means locked with goroutines also spinning to
// acquire it (the count restarts at 0 with each release). A plain atomic CAS loop is sufficient here
// since the critical section (Allocate's fast path) is a handful of
// instructions; this mirrors the teacher's DynSemaphore-less spin
// patterns used for short critical sections elsewhere in the codebase.
type globalLock struct {
	state atomic.Int32
}

func newGlobalLock() globalLock {
	var l globalLock
	l.state.Store(-1)
	return l
}

func (l *globalLock) Lock() {
	for {
		cur := l.state.Load()
		if cur == -1 && l.state.CAS(-1, 0) {
			return
		}
		if cur >= 0 && l.state.CAS(cur, cur+1) {
			break
		}
	}
	for !l.state.CAS(-1, 0) {
	}
}

func (l *globalLock) Unlock() { l.state.Store(-1) }

// Global is the shared allocation context used when cmn.Config.ServerGC
// is false: every thread allocates through the same Context under
// globalLock, trading allocation parallelism for a single, simply-reasoned
// ephemeral generation.
type Global struct {
	lock globalLock
	ctx  *Context
}

func NewGlobal(h *heap.Heap) *Global {
	return &Global{lock: newGlobalLock(), ctx: NewContext(h)}
}

func (g *Global) Allocate(size int64, flags heap.Flags) (uintptr, error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.ctx.Allocate(size, flags)
}

func (g *Global) FixAllocContext() {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.ctx.FixAllocContext()
}
