package heap

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// segSlice is a snapshot of a SegmentList's segments, keyed by base
// address. A *segSlice value is never mutated after it is published;
// readers always see a complete, consistent snapshot.
type segSlice map[uintptr]*Segment

// SegmentList is a copy-on-write collection of segments, one per heap
// kind (ephemeral, mature and large each get their own list; frozen
// segments are tracked by FrozenSet instead).
// Grounded on fs/mountfs.go's MountedFS: many goroutines read the current
// segment set lock-free via an atomically loaded pointer, while Add/
// Remove take a mutex, copy the map, mutate the copy, and swap the
// pointer in with a single atomic store. This gives concurrent allocation
// fast paths and a concurrent collector's root-scan a stable view of the
// segment set without blocking each other.
type SegmentList struct {
	mu  sync.Mutex
	cur unsafe.Pointer // *segSlice
}

func NewSegmentList() *SegmentList {
	sl := &SegmentList{}
	empty := segSlice{}
	atomic.StorePointer(&sl.cur, unsafe.Pointer(&empty))
	return sl
}

func (sl *SegmentList) load() segSlice {
	return *(*segSlice)(atomic.LoadPointer(&sl.cur))
}

func (sl *SegmentList) store(s segSlice) {
	atomic.StorePointer(&sl.cur, unsafe.Pointer(&s))
}

// snapshotCopy returns a shallow copy of the current segment map, for
// callers that already hold sl.mu.
func (sl *SegmentList) snapshotCopy() segSlice {
	cur := sl.load()
	cp := make(segSlice, len(cur))
	for k, v := range cur {
		cp[k] = v
	}
	return cp
}

// Add registers seg under its base address.
func (sl *SegmentList) Add(seg *Segment) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	cp := sl.snapshotCopy()
	cp[seg.Base()] = seg
	sl.store(cp)
}

// Remove drops the segment at base, if present.
func (sl *SegmentList) Remove(base uintptr) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	cp := sl.snapshotCopy()
	delete(cp, base)
	sl.store(cp)
}

// Get returns the segment registered at base, or nil.
func (sl *SegmentList) Get(base uintptr) *Segment {
	return sl.load()[base]
}

// Len reports how many segments are currently registered. Lock-free.
func (sl *SegmentList) Len() int { return len(sl.load()) }

// Find returns the segment containing addr among the live portion of
// every registered segment (I1: base <= addr < allocated_end), or nil.
// Lock-free: reads a single atomically loaded snapshot.
func (sl *SegmentList) Find(addr uintptr) *Segment {
	for _, seg := range sl.load() {
		if seg.Contains(addr) {
			return seg
		}
	}
	return nil
}

// ForEach calls fn for every currently registered segment. fn must not
// retain the snapshot beyond the call; mutations during iteration are not
// reflected (copy-on-write semantics — exactly the MountedFS contract).
func (sl *SegmentList) ForEach(fn func(seg *Segment)) {
	for _, seg := range sl.load() {
		fn(seg)
	}
}

// Bounds returns the lowest base and highest reserved_end across every
// registered segment, used to seed lowest_address/highest_address (§6.3).
func (sl *SegmentList) Bounds() (lowest, highest uintptr) {
	first := true
	for _, seg := range sl.load() {
		if first {
			lowest, highest = seg.Base(), seg.ReservedEnd()
			first = false
			continue
		}
		if seg.Base() < lowest {
			lowest = seg.Base()
		}
		if seg.ReservedEnd() > highest {
			highest = seg.ReservedEnd()
		}
	}
	return lowest, highest
}
