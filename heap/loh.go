package heap

import (
	"github.com/pkg/errors"
	"github.com/tracinggc/gcheap/freelist"
)

// LOHThreshold is the §3.4/§4.4.3 default boundary: objects at or above
// this size are allocated directly into the large-object heap instead of
// gen 0.
const LOHThreshold = 85_000

// LargeObjectHeap is the §3.4 LOH: one or more KindLarge segments, never
// compacted by default (§4.4.3: "LOH objects are swept in place; they are
// only ever moved by an explicit LOH-compacting GC"), serviced by its own
// free-list.
type LargeObjectHeap struct {
	Segments *SegmentList
	free     *freelist.Allocator

	// pendingCompaction is set by RequestCompaction and cleared by
	// ClearPendingCompaction. No collector cycle in this module calls
	// either, and no pass compacts the LOH.
	pendingCompaction bool
}

func NewLargeObjectHeap(mem freelist.Region) *LargeObjectHeap {
	loh := &LargeObjectHeap{Segments: NewSegmentList()}
	loh.free = freelist.New(mem, LOHThreshold, 4)
	return loh
}

func (l *LargeObjectHeap) Free() *freelist.Allocator { return l.free }

// Allocate services a LOH-sized request by first-fit over the free-list,
// falling back to bumping the current (or a freshly reserved) large
// segment (§4.4.3 allocation path).
func (l *LargeObjectHeap) Allocate(size int64) (uintptr, error) {
	if size < LOHThreshold {
		return 0, errors.New("AllocateLOHObject: size below LOH threshold")
	}
	idx := l.free.BucketIndex(size)
	var found uintptr
	l.free.Walk(idx, func(addr uintptr) {
		if found == 0 {
			found = addr
		}
	})
	if found != 0 {
		l.free.Unlink(idx, found, 0, false)
		return found, nil
	}
	var lastErr error
	var addr uintptr
	l.Segments.ForEach(func(seg *Segment) {
		if addr != 0 {
			return
		}
		a, err := seg.Bump(size)
		if err == nil {
			addr = a
			return
		}
		lastErr = err
	})
	if addr != 0 {
		return addr, nil
	}
	seg, err := Reserve(0, size, KindLarge)
	if err != nil {
		return 0, err
	}
	l.Segments.Add(seg)
	addr, err = seg.Bump(size)
	if err != nil {
		return 0, err
	}
	return addr, nil
}

// RequestCompaction sets the pending-compaction flag that
// PendingCompaction reports. No collection reads the flag, so setting it
// does not cause the LOH to be compacted.
func (l *LargeObjectHeap) RequestCompaction() { l.pendingCompaction = true }

func (l *LargeObjectHeap) PendingCompaction() bool { return l.pendingCompaction }

func (l *LargeObjectHeap) ClearPendingCompaction() { l.pendingCompaction = false }

// Reclaim returns obj's storage to the LOH free-list, called by sweep for
// every unmarked LOH object (§4.4.3).
func (l *LargeObjectHeap) Reclaim(addr uintptr, size int64) {
	l.free.Thread(addr, size)
}
