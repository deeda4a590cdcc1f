package bgc

import (
	"github.com/tracinggc/gcheap/cardtable"
	"github.com/tracinggc/gcheap/collector"
	"github.com/tracinggc/gcheap/handle"
	"github.com/tracinggc/gcheap/heap"
)

// Cycle drives one heap instance's background collection through every
// state of the §4.6 diagram, wiring the collector package's Marker and
// Cycle sweep paths at each concurrent ("C") step and the Machine's
// state transitions at each stop-the-world ("S") step.
type Cycle struct {
	h       *heap.Heap
	handles *handle.Table
	types   *heap.TypeTable
	coll    *collector.Cycle
	ww      *cardtable.WriteWatch
	cm      *ConcurrentMark
	machine *Machine
}

func NewCycle(h *heap.Heap, handles *handle.Table, types *heap.TypeTable, coll *collector.Cycle) *Cycle {
	lowest, _ := h.Bounds()
	return &Cycle{
		h: h, handles: handles, types: types, coll: coll,
		ww:      cardtable.NewWriteWatch(lowest),
		cm:      NewConcurrentMark(),
		machine: NewMachine(),
	}
}

func (c *Cycle) Machine() *Machine { return c.machine }

// Run drives the full sequence once, condemning gen 2 and the LOH
// concurrently with (in this single-goroutine driver, logically
// interleaved with) mutator activity, per §4.6's "perform gen-2 marking
// and LOH marking concurrently with mutators".
func (c *Cycle) Run() (reclaimed, surveyed int64) {
	c.machine.Advance() // NotInProcess -> Initialized (S: init BGC)

	c.h.Barrier.AttachMarker(c.cm)
	c.cm.Start()
	c.machine.Advance() // Initialized -> ResetWriteWatch (S)
	c.ww.Enable()

	c.machine.Advance() // ResetWriteWatch -> MarkHandles (C)
	lo, hi := c.coll.CondemnedRange(heap.Gen2)
	m := collector.NewMarker(c.h, lo, hi)
	m.MarkHandleRoots(c.handles)
	m.MarkFrozenRoots(c.types)

	c.machine.Advance() // MarkHandles -> MarkStack (C)
	m.Drain(c.types)

	c.machine.Advance() // MarkStack -> RevisitSOH (S: capture write-watch deltas)
	satb := c.cm.DrainSATB()
	for _, addr := range satb {
		m.MarkRoot(addr)
	}
	for _, page := range c.ww.DrainDirty() {
		m.MarkRoot(page)
	}
	m.Drain(c.types)

	c.machine.Advance() // RevisitSOH -> RevisitLOH (C)
	m.Drain(c.types)

	if m.Overflowed() {
		c.machine.Advance() // RevisitLOH -> OverflowSOH
		c.machine.Advance() // OverflowSOH -> OverflowLOH
		m.RescanAll(c.h.Gen2.Segments, c.types)
		m.RescanAll(c.h.LOH.Segments, c.types)
	} else {
		c.machine.To(OverflowLOH) // both overflow states are no-ops this cycle
	}

	c.machine.Advance() // OverflowLOH -> FinalMarking (S: final closure)
	m.Drain(c.types)
	c.ww.Disable()
	c.h.Barrier.AttachMarker(noopMark{})
	c.cm.Stop()

	c.machine.Advance() // FinalMarking -> SweepSOH (C)
	r1, s1 := c.coll.SweepGen2()

	c.machine.Advance() // SweepSOH -> SweepLOH (C)
	r2, s2 := c.coll.SweepLOHConcurrent()

	c.machine.Advance() // SweepLOH -> PlanPhase (S, only meaningful when also compacting)
	c.machine.Advance() // PlanPhase -> NotInProcess

	return r1 + r2, s1 + s2
}

type noopMark struct{}

func (noopMark) ConcurrentMarkInProgress() bool { return false }
func (noopMark) PushSATB(uintptr)               {}
