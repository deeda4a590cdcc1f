package alloc_test

import (
	"testing"

	"github.com/tracinggc/gcheap/alloc"
	"github.com/tracinggc/gcheap/cmn"
	"github.com/tracinggc/gcheap/heap"
)

type memRegion struct{ words map[uintptr]uintptr }

func newMemRegion() *memRegion { return &memRegion{words: make(map[uintptr]uintptr)} }
func (m *memRegion) ReadWord(addr uintptr) uintptr     { return m.words[addr] }
func (m *memRegion) WriteWord(addr uintptr, v uintptr) { m.words[addr] = v }

func newTestHeap(t *testing.T) *heap.Heap {
	t.Helper()
	cfg := cmn.DefaultConfig()
	return heap.NewHeap(cfg, 0, 1<<40, newMemRegion(), newMemRegion())
}

// TestFastPathBumpAllocation is S1: two successive small allocations from
// the same context land in increasing, non-overlapping addresses within
// the same segment, with no refill between them.
func TestFastPathBumpAllocation(t *testing.T) {
	h := newTestHeap(t)
	ctx := alloc.NewContext(h)

	a, err := ctx.Allocate(32, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b, err := ctx.Allocate(32, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if b <= a {
		t.Fatalf("second allocation must land after the first: a=%#x b=%#x", a, b)
	}
	if b-a < 32 {
		t.Fatalf("second allocation must not overlap the first's payload")
	}
	if ctx.BytesAllocated() != 64 {
		t.Fatalf("expected 64 bytes allocated, got %d", ctx.BytesAllocated())
	}
}

// TestRefillOnExhaustion exercises the slow path: requesting more than
// the context's remaining budget forces a Refill that reserves a new
// ephemeral segment, after which allocation still succeeds.
func TestRefillOnExhaustion(t *testing.T) {
	h := newTestHeap(t)
	ctx := alloc.NewContext(h)

	// Exhaust well past the default eph0 budget to force at least one
	// Refill beyond the first.
	for i := 0; i < 64; i++ {
		if _, err := ctx.Allocate(4096, 0); err != nil {
			t.Fatalf("Allocate iteration %d: %v", i, err)
		}
	}
}

// TestLargeRequestGoesToLOH verifies size >= heap.LOHThreshold bypasses
// the bump path entirely and is serviced by the heap's LOH.
func TestLargeRequestGoesToLOH(t *testing.T) {
	h := newTestHeap(t)
	ctx := alloc.NewContext(h)

	addr, err := ctx.Allocate(heap.LOHThreshold+1, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if h.LOH.Segments.Find(addr) == nil {
		t.Fatalf("oversized allocation must land in a LOH segment")
	}
	if ctx.BytesAllocated() != 0 {
		t.Fatalf("LOH allocations must not count against the bump context's byte counter")
	}
}

// TestFixAllocContextLeavesFiller exercises §6.2's FixAllocContext: after
// fixing, the context's limit collapses to its pointer so a subsequent
// Allocate must refill rather than reuse stale headroom.
func TestFixAllocContextLeavesFiller(t *testing.T) {
	h := newTestHeap(t)
	ctx := alloc.NewContext(h)

	if _, err := ctx.Allocate(32, 0); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	ctx.FixAllocContext()

	before := ctx.BytesAllocated()
	if _, err := ctx.Allocate(32, 0); err != nil {
		t.Fatalf("Allocate after FixAllocContext: %v", err)
	}
	if ctx.BytesAllocated() <= before {
		t.Fatalf("allocation after FixAllocContext must still succeed and account bytes")
	}
}

// TestGlobalContextSerializesAllocation is the !ServerGC single-processor
// path: concurrent allocators share one Context under a spin lock and
// never observe overlapping addresses.
func TestGlobalContextSerializesAllocation(t *testing.T) {
	h := newTestHeap(t)
	g := alloc.NewGlobal(h)

	seen := make(map[uintptr]bool)
	done := make(chan uintptr, 32)
	for i := 0; i < 32; i++ {
		go func() {
			addr, err := g.Allocate(32, 0)
			if err != nil {
				t.Error(err)
				done <- 0
				return
			}
			done <- addr
		}()
	}
	for i := 0; i < 32; i++ {
		addr := <-done
		if addr == 0 {
			continue
		}
		if seen[addr] {
			t.Fatalf("duplicate address %#x handed out by concurrent global allocation", addr)
		}
		seen[addr] = true
	}
}
