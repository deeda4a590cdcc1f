package gcheap

import (
	"github.com/tracinggc/gcheap/cardtable"
	"github.com/tracinggc/gcheap/heap"
)

// Alloc implements §6.1's alloc(ctx, size, flags). This façade runs in
// single-processor mode only (see DESIGN.md's Open Question on
// cmn.Config.ServerGC): every caller allocates through the one shared,
// spin-locked alloc.Global context, exactly as §4.1 describes for
// !ServerGC.
func (g *GC) Alloc(size int64, flags heap.Flags) (heap.Ref, error) {
	addr, err := g.global.Allocate(size, flags)
	if err != nil {
		return heap.Nil, g.wrapOOM(err, size)
	}
	return heap.Ref(addr), nil
}

// AllocLOH implements §6.1's alloc_loh(size, flags): a large-object
// allocation that never touches a per-processor bump context.
func (g *GC) AllocLOH(size int64, flags heap.Flags) (heap.Ref, error) {
	addr, err := g.h.LOH.Allocate(size)
	if err != nil {
		return heap.Nil, g.wrapOOM(err, size)
	}
	return heap.Ref(addr), nil
}

// FixAllocContext implements §6.1's fix_alloc_context(ctx, locked, arg):
// flushes the shared context's unused [alloc_ptr, alloc_limit) tail to a
// filler object, as required before a safepoint or at thread detach.
func (g *GC) FixAllocContext() {
	g.global.FixAllocContext()
}

// WriteBarrier implements §6.1's write_barrier(field, value): it performs
// the actual store (the only package that knows how to turn a field
// address into a store is heap, via the owning segment's Arena) and then
// hands the logical field address to cardtable.Barrier.Write for the
// dirty-card and SATB bookkeeping of §4.5.1 steps 2-3.
func (g *GC) WriteBarrier(fieldAddr uintptr, newRef heap.Ref) {
	seg := g.findSegment(fieldAddr)
	if seg == nil {
		return
	}
	oldRef := seg.Arena().ReadWord(fieldAddr)
	seg.Arena().WriteWord(fieldAddr, uintptr(newRef))
	g.h.Barrier.Write(cardtable.FieldAddr(fieldAddr), oldRef, uintptr(newRef))
}

// SetCardsAfterBulkCopy implements §6.1's set_cards_after_bulk_copy(dst,
// n) for array-copy/struct-assignment intrinsics that bypass the
// per-field barrier.
func (g *GC) SetCardsAfterBulkCopy(dst uintptr, n uintptr) {
	g.h.Barrier.SetCardsAfterBulkCopy(dst, n)
}

func (g *GC) findSegment(addr uintptr) *heap.Segment {
	if seg := g.h.Ephemeral.Find(addr); seg != nil {
		return seg
	}
	if seg := g.h.Gen2.Segments.Find(addr); seg != nil {
		return seg
	}
	if seg := g.h.LOH.Segments.Find(addr); seg != nil {
		return seg
	}
	return nil
}
