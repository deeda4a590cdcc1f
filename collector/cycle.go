package collector

import (
	"github.com/tracinggc/gcheap/cardtable"
	"github.com/tracinggc/gcheap/finalizer"
	"github.com/tracinggc/gcheap/handle"
	"github.com/tracinggc/gcheap/heap"
)

// Trigger is why a collection was started (§4.4.1).
type Trigger int

const (
	TriggerGen0Budget Trigger = iota
	TriggerExplicit
	TriggerLOHBudget
	TriggerLowMemory
)

// Mode is how a collection runs (§4.4.1).
type Mode int

const (
	ModeBlocking Mode = iota
	ModeNonBlocking
	ModeOptimized
	ModeCompacting
)

// Stats summarizes one completed cycle, feeding §6.1's
// get_last_gc_start/duration and the condemned-generation heuristic of
// §4.4.1 (size, promoted-size, count per generation).
type Stats struct {
	Gen           heap.GenKind
	Trigger       Trigger
	Mode          Mode
	BytesSurveyed int64
	BytesReclaimed int64
	Promoted      int64
	StartNano     int64
	DurationNano  int64
	Index         int64
}

// Cycle runs one blocking collection of a chosen generation end to end,
// implementing the §4.4.2 seven-phase sequence.
type Cycle struct {
	h       *heap.Heap
	handles *handle.Table
	types   *heap.TypeTable
	fin     *finalizer.Queue

	dumper *SegmentDumper

	gcIndex int64
}

func NewCycle(h *heap.Heap, handles *handle.Table, types *heap.TypeTable, fin *finalizer.Queue) *Cycle {
	return &Cycle{h: h, handles: handles, types: types, fin: fin}
}

// SetDumper attaches a SegmentDumper that Run consults after every
// completed cycle (a no-op unless debug.Enabled): d dumps every segment
// touched by the condemned generation, tagged with gc_index, so a
// post-mortem tool can diff successive StressHeap snapshots of the same
// segment across collections. Pass nil to disable.
func (c *Cycle) SetDumper(d *SegmentDumper) { c.dumper = d }

// dumpCondemned writes every segment covering gen to c.dumper, if set.
func (c *Cycle) dumpCondemned(gen heap.GenKind) {
	if c.dumper == nil {
		return
	}
	switch gen {
	case heap.Gen0, heap.Gen1:
		c.h.Ephemeral.ForEach(func(seg *heap.Segment) {
			c.dumper.DumpSegment(seg, c.gcIndex)
		})
	case heap.Gen2:
		c.h.Gen2.Segments.ForEach(func(seg *heap.Segment) {
			c.dumper.DumpSegment(seg, c.gcIndex)
		})
		c.h.LOH.Segments.ForEach(func(seg *heap.Segment) {
			c.dumper.DumpSegment(seg, c.gcIndex)
		})
	}
}

// CondemnedRange exposes condemnedRange for bgc, which drives its own
// concurrent Marker over gen 2 rather than going through Run.
func (c *Cycle) CondemnedRange(gen heap.GenKind) (lo, hi uintptr) {
	return c.condemnedRange(gen)
}

// condemnedRange returns the address bounds of the generation being
// collected: gen 0/1 condemn only the current ephemeral segment's
// [first_object, allocated_end); gen 2 condemns the whole heap including
// LOH (§4.4.3: "LOH is collected only when gen 2 is condemned").
func (c *Cycle) condemnedRange(gen heap.GenKind) (lo, hi uintptr) {
	switch gen {
	case heap.Gen0, heap.Gen1:
		lo, hi = c.h.Ephemeral.Bounds()
	case heap.Gen2:
		elo, ehi := c.h.Ephemeral.Bounds()
		glo, ghi := c.h.Gen2.Segments.Bounds()
		llo, lhi := c.h.LOH.Segments.Bounds()
		lo = minNonZero(elo, glo, llo)
		hi = maxU(ehi, ghi, lhi)
	}
	return lo, hi
}

func minNonZero(vs ...uintptr) uintptr {
	var m uintptr
	for _, v := range vs {
		if v == 0 {
			continue
		}
		if m == 0 || v < m {
			m = v
		}
	}
	return m
}

func maxU(vs ...uintptr) uintptr {
	var m uintptr
	for _, v := range vs {
		if v > m {
			m = v
		}
	}
	return m
}

// Run executes the blocking phase sequence of §4.4.2 for the given
// generation and trigger/mode, returning cycle statistics.
//
// Suspension of mutator threads (§4.4.2 step 1, §5) is the VM's
// responsibility via the stop-the-world callback the facade package
// wires in; Run assumes it is already called with the world stopped.
func (c *Cycle) Run(gen heap.GenKind, trig Trigger, mode Mode, startNano int64) Stats {
	c.gcIndex++
	lo, hi := c.condemnedRange(gen)

	// Step 2: mark.
	m := NewMarker(c.h, lo, hi)
	m.MarkHandleRoots(c.handles)
	m.MarkFrozenRoots(c.types)
	if gen != heap.Gen2 {
		m.MarkDirtyCards(c.h.Cards, c.h.Gen2.Segments, c.types)
		m.MarkDirtyCards(c.h.Cards, c.h.LOH.Segments, c.types)
	}
	m.Drain(c.types)
	if m.Overflowed() {
		var all *heap.SegmentList
		switch gen {
		case heap.Gen2:
			all = c.h.Gen2.Segments
		default:
			all = c.h.Ephemeral
		}
		m.RescanAll(all, c.types)
	}
	c.handles.ClearDeadWeak(func(target uintptr) bool {
		seg := m.findAny(target)
		if seg == nil {
			return c.h.Frozen.Contains(target)
		}
		view := heap.ObjectView{Arena: seg.Arena(), Addr: target}
		return view.IsMarked()
	})

	// Steps 3-5: plan/relocate/compact for moving (ephemeral) regions,
	// sweep for non-moving regions (gen2, LOH).
	var reclaimed, promoted, surveyed int64
	switch gen {
	case heap.Gen0, heap.Gen1:
		reclaimed, promoted, surveyed = c.collectEphemeral(c.rootIndex())
	case heap.Gen2:
		r2, s2 := c.sweepGeneration(c.h.Gen2)
		rl, sl := c.sweepLOH()
		reclaimed = r2 + rl
		surveyed = s2 + sl
	}

	// Step 6: fix cards — clear cards whose covered range is now
	// entirely dead, handled implicitly since DirtyCards already cleared
	// each card as it visited it; surviving cross-generational
	// references are re-dirtied by the write barrier on next write, or
	// (conservatively, here) left dirty if this cycle did not clear them.

	// Step 7: resume mutators — publish every update made above (moved
	// objects, cleared cards, forwarding words) before any mutator is
	// allowed to proceed.
	cardtable.StoreFence()

	c.dumpCondemned(gen)

	return Stats{
		Gen: gen, Trigger: trig, Mode: mode,
		BytesSurveyed: surveyed, BytesReclaimed: reclaimed, Promoted: promoted,
		StartNano: startNano, Index: c.gcIndex,
	}
}

// rootIndex snapshots the strong/pinned/dependent handle table into a
// reverse index from current target address to the handles rooted there,
// taken before relocation so collectEphemeral can look up which handles
// need UpdateTarget once their target's new address is known (I4: a
// promoted object's handle-table root must follow it, never point at the
// gap left behind).
func (c *Cycle) rootIndex() map[uintptr][]handle.Handle {
	idx := make(map[uintptr][]handle.Handle)
	c.handles.EnumerateRoots([]handle.Kind{handle.Strong, handle.Pinned, handle.Dependent}, func(h handle.Handle, target uintptr, kind handle.Kind) {
		idx[target] = append(idx[target], h)
	})
	return idx
}

// collectEphemeral implements steps 3-5 for the moving (ephemeral)
// region: living objects are copied into gen 2 (see promote) and their
// old copies get a forwarding address; dead objects are counted as
// reclaimed. The ephemeral segments themselves are not reset or released
// by this pass, so their space is not reused. roots maps an object's pre-collection
// address to every handle rooted there (see rootIndex); every promoted
// address is pushed through handles.UpdateTarget so a rooted survivor's
// handle keeps resolving to it after it moves.
func (c *Cycle) collectEphemeral(roots map[uintptr][]handle.Handle) (reclaimed, promoted, surveyed int64) {
	c.h.Ephemeral.ForEach(func(seg *heap.Segment) {
		addr := seg.FirstObject()
		for addr < seg.AllocatedEnd() {
			view := heap.ObjectView{Arena: seg.Arena(), Addr: addr}
			size := view.Size()
			if size <= 0 {
				break
			}
			surveyed += size
			switch {
			case view.IsMarked():
				newAddr, err := c.promote(seg, addr, size)
				if err == nil {
					view.SetForwarding(newAddr)
					promoted += size
					for _, h := range roots[addr] {
						c.handles.UpdateTarget(h, newAddr)
					}
				}
			case c.needsFinalization(view):
				// §4.4.5 resurrection: a dead, not-yet-queued
				// finalizable object survives one more cycle instead of
				// being reclaimed, and is handed to the finalizer queue.
				newAddr, err := c.promote(seg, addr, size)
				if err == nil {
					view.SetForwarding(newAddr)
					promoted += size
					if dstSeg := c.findSegment(newAddr); dstSeg != nil {
						resurrected := heap.ObjectView{Arena: dstSeg.Arena(), Addr: newAddr}
						resurrected.SetFinalizationRegistered(true)
					}
					c.fin.RegisterForFinalization(int(heap.Gen2), newAddr)
				}
			default:
				reclaimed += size
			}
			addr += uintptr(size)
		}
	})
	c.h.Eph0.RecordSurvivors(promoted)
	return reclaimed, promoted, surveyed
}

// needsFinalization reports whether a dead object's type is finalizable
// and it has not already been queued.
func (c *Cycle) needsFinalization(view heap.ObjectView) bool {
	if view.FinalizationRegistered() {
		return false
	}
	td := c.types.Lookup(view.TypeID())
	return td != nil && td.Finalizable()
}

// findSegment locates the segment owning addr across every generation's
// segment list.
func (c *Cycle) findSegment(addr uintptr) *heap.Segment {
	if seg := c.h.Ephemeral.Find(addr); seg != nil {
		return seg
	}
	if seg := c.h.Gen2.Segments.Find(addr); seg != nil {
		return seg
	}
	if seg := c.h.LOH.Segments.Find(addr); seg != nil {
		return seg
	}
	return nil
}

// promote copies a surviving ephemeral object into gen 2's free-list
// allocator, the generational-GC equivalent of §4.4.2 step 5's "memcpy
// each planned run to its new home".
func (c *Cycle) promote(fromSeg *heap.Segment, addr uintptr, size int64) (uintptr, error) {
	idx := c.h.Gen2.Free().BucketIndex(size)
	var found uintptr
	c.h.Gen2.Free().Walk(idx, func(a uintptr) {
		if found == 0 {
			found = a
		}
	})
	var dst *heap.Segment
	var dstAddr uintptr
	if found != 0 {
		c.h.Gen2.Free().Unlink(idx, found, 0, false)
		dstAddr = found
		dst = c.h.Gen2.Segments.Find(found)
	} else {
		seg, err := c.h.Gen2.AcquireSegment(c.h.Gen2.Segments, size)
		if err != nil {
			return 0, err
		}
		a, err := seg.Bump(size)
		if err != nil {
			return 0, err
		}
		dst, dstAddr = seg, a
	}
	if dst == nil {
		dst = fromSeg
	}
	copyBytes(fromSeg, addr, dst, dstAddr, size)
	return dstAddr, nil
}

func copyBytes(srcSeg *heap.Segment, srcAddr uintptr, dstSeg *heap.Segment, dstAddr uintptr, size int64) {
	src := srcSeg.Arena().Slice(srcAddr, size)
	dst := dstSeg.Arena().Slice(dstAddr, size)
	copy(dst, src)
}

// sweepGeneration implements step 5's sweep path for gen 2: walk each
// segment and thread every dead object onto the free list as its own
// entry; adjacent dead objects are not merged into one entry.
func (c *Cycle) sweepGeneration(g *heap.Generation) (reclaimed, surveyed int64) {
	g.Segments.ForEach(func(seg *heap.Segment) {
		addr := seg.FirstObject()
		for addr < seg.AllocatedEnd() {
			view := heap.ObjectView{Arena: seg.Arena(), Addr: addr}
			size := view.Size()
			if size <= 0 {
				break
			}
			surveyed += size
			if view.IsFree() {
				addr += uintptr(size)
				continue
			}
			switch {
			case view.IsMarked():
				view.ClearMark()
			case c.needsFinalization(view):
				view.SetFinalizationRegistered(true)
				c.fin.RegisterForFinalization(int(heap.Gen2), addr)
			default:
				view.MarkFree(size)
				g.Free().Thread(addr, size)
				reclaimed += size
			}
			addr += uintptr(size)
		}
	})
	return reclaimed, surveyed
}

// SweepGen2 exposes the gen-2 sweep path for bgc's concurrent
// SweepSOH phase, which sweeps on its own schedule rather than as part
// of a blocking Run.
func (c *Cycle) SweepGen2() (reclaimed, surveyed int64) {
	return c.sweepGeneration(c.h.Gen2)
}

// SweepLOHConcurrent exposes the LOH sweep path for bgc's SweepLOH
// phase, analogous to SweepGen2.
func (c *Cycle) SweepLOHConcurrent() (reclaimed, surveyed int64) {
	return c.sweepLOH()
}

func (c *Cycle) sweepLOH() (reclaimed, surveyed int64) {
	c.h.LOH.Segments.ForEach(func(seg *heap.Segment) {
		addr := seg.FirstObject()
		for addr < seg.AllocatedEnd() {
			view := heap.ObjectView{Arena: seg.Arena(), Addr: addr}
			size := view.Size()
			if size <= 0 {
				break
			}
			surveyed += size
			if view.IsFree() {
				addr += uintptr(size)
				continue
			}
			switch {
			case view.IsMarked():
				view.ClearMark()
			case c.needsFinalization(view):
				view.SetFinalizationRegistered(true)
				c.fin.RegisterForFinalization(int(heap.Gen2), addr)
			default:
				view.MarkFree(size)
				c.h.LOH.Reclaim(addr, size)
				reclaimed += size
			}
			addr += uintptr(size)
		}
	})
	return reclaimed, surveyed
}
