package gcheap

import "github.com/tracinggc/gcheap/heap"

// FrozenSegmentInfo is the §6.1 register_frozen_segment(info) input: the
// address range of an externally-owned, already-populated segment the
// VM wants the collector to scan for roots but never relocate or reclaim
// (§4.2.3).
type FrozenSegmentInfo struct {
	Base uintptr
	Size int64
}

// RegisterFrozenSegment implements §6.1's
// register_frozen_segment(info) → handle.
func (g *GC) RegisterFrozenSegment(info FrozenSegmentInfo) (heap.FrozenHandle, error) {
	seg, err := heap.Reserve(info.Base, info.Size, heap.KindFrozen)
	if err != nil {
		return "", err
	}
	handle := g.h.Frozen.Register(seg)
	publishBounds(g.h, g.cb)
	return handle, nil
}

// UnregisterFrozenSegment implements §6.1's
// unregister_frozen_segment(handle).
func (g *GC) UnregisterFrozenSegment(handle heap.FrozenHandle) bool {
	ok := g.h.Frozen.Unregister(handle)
	if ok {
		publishBounds(g.h, g.cb)
	}
	return ok
}
