package heap

import (
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/seiflotfy/cuckoofilter"
	"github.com/teris-io/shortid"
)

// FrozenHandle is the opaque token register_frozen_segment hands back to
// the VM and unregister_frozen_segment later consumes (§6.1), distinct
// from the segment's address so the VM never has to carry a raw pointer
// across the GC boundary for this call.
type FrozenHandle string

// frozenEntry describes one externally-registered, immutable segment
// (§4.2.3, §6.2's RegisterFrozenSegment/UnregisterFrozenSegment).
type frozenEntry struct {
	handle FrozenHandle
	base   uintptr
	end    uintptr
	seg    *Segment
}

func hashBase(base uintptr) []byte {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(base >> (8 * i))
	}
	sum := xxhash.Checksum64(buf[:])
	var out [8]byte
	for i := 0; i < 8; i++ {
		out[i] = byte(sum >> (8 * i))
	}
	return out[:]
}

// frozenBlockSize is the granularity the cuckoo filter indexes frozen
// coverage at. A frozen segment's range need not be aligned to it (a
// caller-supplied base is kept as given), but every block that overlaps
// the range is inserted, so rounding any candidate address down to this
// boundary before a filter lookup is still a sound fast-reject.
const frozenBlockSize = 1 << 20

func blockOf(addr uintptr) uintptr { return addr &^ (frozenBlockSize - 1) }

// blockRange returns every block-aligned address in [base, end).
func blockRange(base, end uintptr) []uintptr {
	var blocks []uintptr
	for b := blockOf(base); b < end; b += frozenBlockSize {
		blocks = append(blocks, b)
	}
	return blocks
}

// FrozenSet tracks frozen segments (§4.2.3: "Frozen segments: externally
// owned, never moved or collected; membership is exact, queried on every
// candidate pointer during mark"). A cuckoo filter indexed by
// megabyte-aligned block gives a cheap, lock-free-shaped "definitely not
// frozen" fast-reject ahead of the exact map scan, since mark runs this
// check on every candidate reference and most references point into the
// ordinary managed heap, not a frozen segment; blockRefs reference-counts
// blocks shared by overlapping registrations so Unregister never evicts a
// block another frozen segment still occupies.
type FrozenSet struct {
	mu        sync.RWMutex
	filter    *cuckoo.Filter
	blockRefs map[uintptr]int
	exact     map[uintptr]*frozenEntry
	byHandle  map[FrozenHandle]uintptr
}

const frozenFilterCapacity = 4096

func NewFrozenSet() *FrozenSet {
	return &FrozenSet{
		filter:    cuckoo.NewFilter(frozenFilterCapacity),
		blockRefs: make(map[uintptr]int),
		exact:     make(map[uintptr]*frozenEntry),
		byHandle:  make(map[FrozenHandle]uintptr),
	}
}

// Register adds seg (Kind must be KindFrozen) to the set and returns the
// opaque handle the VM must present to Unregister later.
func (f *FrozenSet) Register(seg *Segment) FrozenHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range blockRange(seg.Base(), seg.ReservedEnd()) {
		if f.blockRefs[b] == 0 {
			f.filter.InsertUnique(hashBase(b))
		}
		f.blockRefs[b]++
	}
	handle := FrozenHandle(shortid.MustGenerate())
	f.exact[seg.Base()] = &frozenEntry{handle: handle, base: seg.Base(), end: seg.ReservedEnd(), seg: seg}
	f.byHandle[handle] = seg.Base()
	return handle
}

// Unregister removes the frozen segment identified by handle. Returns
// false if no such segment was registered.
func (f *FrozenSet) Unregister(handle FrozenHandle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	base, ok := f.byHandle[handle]
	if !ok {
		return false
	}
	entry := f.exact[base]
	for _, b := range blockRange(entry.base, entry.end) {
		f.blockRefs[b]--
		if f.blockRefs[b] <= 0 {
			delete(f.blockRefs, b)
			f.filter.Delete(hashBase(b))
		}
	}
	delete(f.exact, base)
	delete(f.byHandle, handle)
	return true
}

// Contains reports whether addr falls within some registered frozen
// segment's range. The cuckoo filter pre-check lets the common case (an
// address that is not frozen) return without ever touching the exact
// map: a negative filter lookup on addr's block is definitive, since
// every frozen segment's range is registered block-by-block at Register
// time. Only a positive (possibly a false positive) falls through to the
// exact scan under RLock.
func (f *FrozenSet) Contains(addr uintptr) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.containsLocked(addr)
}

func (f *FrozenSet) containsLocked(addr uintptr) bool {
	if len(f.exact) == 0 {
		return false
	}
	if !f.mayContainLocked(addr) {
		return false
	}
	for base, e := range f.exact {
		if addr >= base && addr < e.end {
			return true
		}
	}
	return false
}

func (f *FrozenSet) mayContainLocked(addr uintptr) bool {
	return f.filter.Lookup(hashBase(blockOf(addr)))
}

// MayContainBase is the fast pre-check for an exact address (typically a
// segment base, but any address works since the filter is indexed by
// containing block) — a false result is definitive proof addr is not
// frozen, without ever touching the exact map; a true result requires
// the exact map to confirm, since the filter can false-positive. Contains
// and IsHeapPointer both run this check first for that reason.
func (f *FrozenSet) MayContainBase(base uintptr) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mayContainLocked(base)
}

// ForEach calls fn for every registered frozen segment, used by mark to
// treat each frozen segment's roots as permanently live (§4.2.3, §6.2:
// "frozen segments ... are scanned for outgoing references like any other
// segment, but are themselves never targets of relocation").
func (f *FrozenSet) ForEach(fn func(seg *Segment)) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, e := range f.exact {
		fn(e.seg)
	}
}
