package heap_test

import (
	"testing"

	"github.com/tracinggc/gcheap/cmn"
	"github.com/tracinggc/gcheap/heap"
)

// memRegion is the same trivial word-addressable test double used by the
// freelist package's own tests, duplicated here to avoid a test-only
// cross-package import.
type memRegion struct {
	words map[uintptr]uintptr
}

func newMemRegion() *memRegion { return &memRegion{words: make(map[uintptr]uintptr)} }

func (m *memRegion) ReadWord(addr uintptr) uintptr     { return m.words[addr] }
func (m *memRegion) WriteWord(addr uintptr, v uintptr) { m.words[addr] = v }

// TestSegmentContainment is I1: every live object's address lies within
// its owning segment's [base, allocated_end) range, and that range is
// always well-ordered.
func TestSegmentContainment(t *testing.T) {
	seg, err := heap.Reserve(0x1000, heap.MinSegmentSize, heap.KindEphemeral)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	addr, err := seg.Bump(64)
	if err != nil {
		t.Fatalf("Bump: %v", err)
	}
	if !seg.Contains(addr) {
		t.Fatalf("segment must contain its own freshly bumped object")
	}
	if seg.Contains(seg.AllocatedEnd()) {
		t.Fatalf("Contains must exclude allocated_end itself")
	}
	if seg.Base() > seg.FirstObject() || seg.FirstObject() > seg.AllocatedEnd() ||
		seg.AllocatedEnd() > seg.CommittedEnd() || seg.CommittedEnd() > seg.ReservedEnd() {
		t.Fatalf("segment offsets must stay monotonically ordered")
	}
}

// TestFrozenSegmentImmutable is I5: a frozen segment can never be
// released, Contains keeps reporting its range while it is registered,
// and Unregister removes it.
func TestFrozenSegmentImmutable(t *testing.T) {
	seg, err := heap.Reserve(0x9000, heap.MinSegmentSize, heap.KindFrozen)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	frozen := heap.NewFrozenSet()
	handle := frozen.Register(seg)

	if !frozen.Contains(seg.Base()) {
		t.Fatalf("frozen set must report the registered segment's base as contained")
	}
	if err := seg.Release(); err == nil {
		t.Fatalf("Release must refuse a frozen segment")
	}
	if !frozen.Unregister(handle) {
		t.Fatalf("Unregister must succeed for a registered segment")
	}
	if frozen.Contains(seg.Base()) {
		t.Fatalf("after Unregister the segment must no longer be reported as frozen")
	}
}

// TestLargeObjectAllocationAndReclaim is S4: an allocation at or above
// LOHThreshold is serviced by the LOH, not gen 0, and its storage returns
// to the LOH free-list on reclaim rather than being promoted/copied.
func TestLargeObjectAllocationAndReclaim(t *testing.T) {
	mem := newMemRegion()
	loh := heap.NewLargeObjectHeap(mem)

	addr, err := loh.Allocate(heap.LOHThreshold + 1024)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if loh.Segments.Len() != 1 {
		t.Fatalf("expected exactly one LOH segment to have been reserved, got %d", loh.Segments.Len())
	}
	if loh.Segments.Find(addr) == nil {
		t.Fatalf("allocated LOH address must be contained in a LOH segment")
	}

	loh.Reclaim(addr, heap.LOHThreshold+1024)
	addr2, err := loh.Allocate(heap.LOHThreshold + 1024)
	if err != nil {
		t.Fatalf("Allocate after reclaim: %v", err)
	}
	if addr2 != addr {
		t.Fatalf("expected reclaimed LOH block to be reused, got new addr %#x instead of %#x", addr2, addr)
	}
}

// TestFrozenSegmentTracedNotRelocated is S5: a heap's IsHeapPointer and
// WhichGeneration treat a frozen segment's addresses as live gen-2
// members without requiring the segment to belong to any SegmentList
// walked by the ordinary collector.
func TestFrozenSegmentTracedNotRelocated(t *testing.T) {
	gen2Mem := newMemRegion()
	lohMem := newMemRegion()
	cfg := cmn.DefaultConfig()
	h := heap.NewHeap(cfg, 0, 1<<40, gen2Mem, lohMem)

	seg, err := heap.Reserve(0x5000, heap.MinSegmentSize, heap.KindFrozen)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	h.Frozen.Register(seg)

	if !h.IsHeapPointer(seg.Base()) {
		t.Fatalf("a frozen segment's base must be recognized as a heap pointer")
	}
	gen, ok := h.WhichGeneration(seg.Base())
	if !ok || gen != heap.Gen2 {
		t.Fatalf("a frozen segment's addresses must classify as gen 2, got (%v, %v)", gen, ok)
	}
}
