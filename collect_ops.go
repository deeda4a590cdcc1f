package gcheap

import (
	"github.com/golang/glog"

	"github.com/tracinggc/gcheap/cmn"
	"github.com/tracinggc/gcheap/collector"
	"github.com/tracinggc/gcheap/heap"
)

// Collect implements §6.1's collect(gen, low_mem, mode): induces a
// collection of gen and blocks until it completes (ModeNonBlocking is
// accepted but, in this single-goroutine façade, still runs
// synchronously — there is no background thread to hand it to without a
// real mutator-suspension mechanism; see DESIGN.md).
//
// gen2 collections additionally drive bgc's full state sequence when
// cfg.ConcurrentGC is set, exercising §4.6 end to end instead of the
// plain blocking seven-phase path.
func (g *GC) Collect(gen heap.GenKind, lowMem bool, mode collector.Mode) collector.Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	start := cmn.NanoTime()
	trig := collector.TriggerExplicit
	if lowMem {
		trig = collector.TriggerLowMemory
	}

	var s collector.Stats
	if gen == heap.Gen2 && g.cfg.ConcurrentGC && mode != collector.ModeCompacting {
		reclaimed, surveyed := g.runBGC()
		s = collector.Stats{
			Gen: gen, Trigger: trig, Mode: mode,
			BytesReclaimed: reclaimed, BytesSurveyed: surveyed,
			StartNano: start, Index: g.gcIndex + 1,
		}
	} else {
		s = g.cycle.Run(gen, trig, mode, start)
	}
	g.gcIndex = s.Index
	s.DurationNano = cmn.NanoTime() - start
	g.tracker.Observe(s, start, s.DurationNano)
	publishBounds(g.h, g.cb)
	g.notify.onCollectionComplete(gen, g.h)
	glog.Infof("gcheap: collection gen=%v trigger=%v mode=%v reclaimed=%d surveyed=%d gc_index=%d",
		gen, trig, mode, s.BytesReclaimed, s.BytesSurveyed, s.Index)
	return s
}

// StartNoGCRegion implements §6.1/§4.4.4's start_no_gc_region(...).
func (g *GC) StartNoGCRegion(total, lohKnown, lohTotal int64, disallowFullGC bool) collector.NoGCStartStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.noGC.Start(total, lohKnown, lohTotal, disallowFullGC, g.gcIndex, g.h)
}

// EndNoGCRegion implements §6.1/§4.4.4's end_no_gc_region().
func (g *GC) EndNoGCRegion() collector.NoGCEndStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.noGC.End(g.gcIndex)
}

// FailureHistory exposes the §7 failure-history ring for cmd/gcstat dump.
func (g *GC) FailureHistory(n int) ([]collector.FailureRecord, error) {
	return g.history.Recent(n)
}
