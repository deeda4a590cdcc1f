package cardtable

import (
	"sync/atomic"
	"unsafe"
)

// FieldAddr is the address of a mutable reference-typed field inside a
// managed object, in whatever address space the embedding heap uses for
// its objects. cardtable never dereferences it: the caller (the only
// party that knows how to turn an address into a store) performs the
// actual write and passes the same logical address here so Write can
// judge whether it falls in the managed range.
type FieldAddr = uintptr

// MarkState is implemented by the collector package for bgc to report
// whether a concurrent mark is in progress, and to accept SATB pushes
// (§4.5.1 step 3). Kept here as a narrow interface so cardtable never
// imports collector or bgc, preserving the leaves-first dependency order
// (Barriers & Card Table -> Free-List Allocator -> Heap Layout -> ...).
type MarkState interface {
	// ConcurrentMarkInProgress reports whether a SATB snapshot must be
	// preserved for writes happening right now.
	ConcurrentMarkInProgress() bool
	// PushSATB records the old value of a field about to be overwritten,
	// iff that old value is still white (unmarked) in the current cycle.
	// The marker, not the barrier, judges white-ness; the barrier's job is
	// only to hand the candidate over before the store is visible.
	PushSATB(oldRef uintptr)
}

// nopMarkState is installed until a real collector attaches itself, so a
// heap can be exercised (e.g. in S1-S4 scenarios) without a collector.
type nopMarkState struct{}

func (nopMarkState) ConcurrentMarkInProgress() bool { return false }
func (nopMarkState) PushSATB(uintptr)               {}

// Barrier bundles a Table with the MarkState collaborator needed to
// implement the full §4.5.1 write-barrier contract.
type Barrier struct {
	Table *Table
	mark  unsafe.Pointer // *MarkState, behind an interface value stored atomically
}

func NewBarrier(t *Table) *Barrier {
	b := &Barrier{Table: t}
	b.AttachMarker(nopMarkState{})
	return b
}

// AttachMarker installs the collaborator that answers §4.5.1 step 3. The
// background collector calls this once at BGC init (state Initialized,
// §4.6) and again with a no-op implementation when final marking begins
// (state FinalMarking).
func (b *Barrier) AttachMarker(m MarkState) {
	atomic.StorePointer(&b.mark, unsafe.Pointer(&m))
}

func (b *Barrier) marker() MarkState {
	p := atomic.LoadPointer(&b.mark)
	if p == nil {
		return nopMarkState{}
	}
	return *(*MarkState)(p)
}

// Write implements write_barrier(field_address, new_reference) exactly as
// specified in §4.5.1:
//  1. store new_reference to *field_address
//  2. if new_reference is ephemeral and field_address is in the managed
//     heap, dirty the covering card
//  3. if a concurrent mark is in progress, SATB-push the old value iff white
//
// Step 1 is the caller's responsibility: only the heap package knows how
// to turn fieldAddr into an actual store against its arenas, so callers
// write *field_address themselves immediately before calling Write and
// pass the same fieldAddr value here for steps 2-3. oldRef is the value
// the field held immediately before that store.
func (b *Barrier) Write(fieldAddr FieldAddr, oldRef, newRef uintptr) {
	if b.Table.inEphemeral(newRef) && fieldAddr >= b.Table.Lowest() && fieldAddr < b.Table.Highest() {
		b.Table.Dirty(fieldAddr)
	}

	if m := b.marker(); m.ConcurrentMarkInProgress() {
		m.PushSATB(oldRef)
	}
}

// SetCardsAfterBulkCopy implements §4.5.2: dirty every card covering
// [dst, dst+len), used by array-copy / struct-assignment intrinsics that
// bypass the per-field barrier for throughput.
func (b *Barrier) SetCardsAfterBulkCopy(dst uintptr, length uintptr) {
	if length == 0 {
		return
	}
	lo, hi := dst, dst+length
	if lo < b.Table.Lowest() {
		lo = b.Table.Lowest()
	}
	if hi > b.Table.Highest() {
		hi = b.Table.Highest()
	}
	for addr := b.Table.CardOf(lo); addr < hi; addr += 1 << b.Table.cardShift {
		b.Table.Dirty(addr)
	}
}

// StoreFence issues the store barrier required by §4.2.4 publish: on
// weakly ordered architectures a concurrent marker observing an object's
// header must see a well-formed object. Go's memory model gives every
// atomic store a release fence, so an empty CAS-style fence on a dummy
// word is sufficient and portable.
var fenceWord uint32

func StoreFence() {
	atomic.AddUint32(&fenceWord, 0)
}
