package heap

import (
	"github.com/tracinggc/gcheap/cardtable"
	"github.com/tracinggc/gcheap/cmn"
)

// Heap is the top-level, process-wide managed heap: the ephemeral
// generations, the tenured generation, the large-object heap, frozen
// segments, and the shared card table/barrier, wired together per §6.3's
// process-wide state list (lowest_address, highest_address, card_table,
// ephemeral_low/high, global_alloc_context all live here or one layer
// above in the alloc package).
//
// The embedding facade (the gcheap package) builds a single Heap whether
// or not ServerGC is set; there is no per-processor Heap and no sharing of
// Gen2/LOH/FrozenSet across several Heaps.
type Heap struct {
	Types *TypeTable

	Eph0 *Generation // gen 0
	Eph1 *Generation // gen 1
	Gen2 *Generation

	LOH    *LargeObjectHeap
	Frozen *FrozenSet

	Ephemeral *SegmentList // current + retired ephemeral segments

	Cards   *cardtable.Table
	Barrier *cardtable.Barrier
}

// NewHeap wires a fresh heap using cfg's segment sizing. gen2Mem and
// lohMem are the Regions backing the tenured and large-object free
// lists; in server mode these are shared across every processor's Heap.
func NewHeap(cfg *cmn.Config, lowest, highest uintptr, gen2Mem, lohMem interface {
	ReadWord(addr uintptr) uintptr
	WriteWord(addr uintptr, v uintptr)
}) *Heap {
	cards := cardtable.New(lowest, highest)
	h := &Heap{
		Types:     NewTypeTable(),
		Eph0:      NewEphemeralGeneration(Gen0, cfg.HeapSegmentSize/4),
		Eph1:      NewEphemeralGeneration(Gen1, cfg.HeapSegmentSize/4),
		Gen2:      NewGen2(gen2Mem, cfg.HeapSegmentSize),
		LOH:       NewLargeObjectHeap(lohMem),
		Frozen:    NewFrozenSet(),
		Ephemeral: NewSegmentList(),
		Cards:     cards,
		Barrier:   cardtable.NewBarrier(cards),
	}
	return h
}

// IsHeapPointer reports whether addr could plausibly be a reference into
// this heap at all: inside some live ephemeral, gen2, LOH, or frozen
// segment (§6.2's "is_heap_pointer" conservative-scan support query).
// Frozen is checked first via its cuckoo-filter-backed fast reject, since
// conservative scans call this far more often than they hit a true
// frozen pointer.
func (h *Heap) IsHeapPointer(addr uintptr) bool {
	if h.Frozen.Contains(addr) {
		return true
	}
	if h.Ephemeral.Find(addr) != nil {
		return true
	}
	if h.Gen2.Segments.Find(addr) != nil {
		return true
	}
	if h.LOH.Segments.Find(addr) != nil {
		return true
	}
	return false
}

// WhichGeneration classifies addr for the §6.2 WhichGeneration query.
func (h *Heap) WhichGeneration(addr uintptr) (GenKind, bool) {
	if h.Frozen.Contains(addr) {
		return Gen2, true
	}
	if seg := h.Ephemeral.Find(addr); seg != nil {
		if addr >= seg.Gen1End {
			return Gen0, true
		}
		return Gen1, true
	}
	if h.Gen2.Segments.Find(addr) != nil {
		return Gen2, true
	}
	if h.LOH.Segments.Find(addr) != nil {
		return Gen2, true // LOH is reported as gen 2 for generation-query purposes
	}
	return 0, false
}

// IsEphemeral reports whether addr currently lies in gen 0 or gen 1
// (§6.2's IsEphemeral query). cardtable.Barrier.Write does not call it;
// the barrier tests the card table's own ephemeral range instead.
func (h *Heap) IsEphemeral(addr uintptr) bool {
	gen, ok := h.WhichGeneration(addr)
	return ok && (gen == Gen0 || gen == Gen1)
}

// Bounds recomputes the process-wide lowest/highest managed address
// across every segment list, for republishing the card table's range
// after a new segment is added (§6.3).
func (h *Heap) Bounds() (lowest, highest uintptr) {
	update := func(lo, hi uintptr) {
		if lo == 0 && hi == 0 {
			return
		}
		if lowest == 0 || lo < lowest {
			lowest = lo
		}
		if hi > highest {
			highest = hi
		}
	}
	update(h.Ephemeral.Bounds())
	update(h.Gen2.Segments.Bounds())
	update(h.LOH.Segments.Bounds())
	return lowest, highest
}
