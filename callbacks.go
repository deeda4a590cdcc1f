// Package gcheap is the root façade implementing the §6.1 VM↔GC boundary:
// initialize, alloc, the write barrier, collect, the query surface,
// finalization, frozen-segment registration, and full-GC notification,
// wired together over the cardtable/freelist/heap/alloc/collector/bgc/
// handle/finalizer packages.
package gcheap

import (
	"github.com/tracinggc/gcheap/cmn"
	"github.com/tracinggc/gcheap/heap"
)

// Callbacks is the §6.2 GC↔VM collaborator contract the embedding VM
// implements and passes to Initialize. This module's own test suite
// supplies a fake implementation driving S1-S6 end to end.
type Callbacks interface {
	// EnumerateStackRoots calls fn once per currently-live reference held
	// in a suspended mutator's stack or registers ("Stack/register root
	// enumeration for each suspended thread", §6.2). Called only while
	// the world is stopped.
	EnumerateStackRoots(fn func(ref uintptr))

	// ConfigString/ConfigBool/ConfigInt answer "Configuration reads
	// (bool/int/string key lookup)"; ok is false for an unrecognized key,
	// in which case the caller falls back to its own default.
	ConfigBool(key string) (value bool, ok bool)
	ConfigInt(key string) (value int64, ok bool)
	ConfigString(key string) (value string, ok bool)

	// StompWriteBarrierResize/StompWriteBarrierEphemeral notify the VM
	// that its inlined barrier constants are stale, per §6.2's
	// "Barrier-stomp notifications" bullet.
	StompWriteBarrierResize(cardTableLowest, cardTableHighest uintptr)
	StompWriteBarrierEphemeral(low, high uintptr)
}

// noopCallbacks is installed by Initialize if the caller passes nil,
// letting a test drive Alloc/Collect without a real VM watching for
// barrier-stomp notifications (mirroring cardtable.nopMarkState's role
// for the write barrier's MarkState collaborator).
type noopCallbacks struct{}

func (noopCallbacks) EnumerateStackRoots(func(uintptr))         {}
func (noopCallbacks) ConfigBool(string) (bool, bool)            { return false, false }
func (noopCallbacks) ConfigInt(string) (int64, bool)            { return 0, false }
func (noopCallbacks) ConfigString(string) (string, bool)        { return "", false }
func (noopCallbacks) StompWriteBarrierResize(uintptr, uintptr)  {}
func (noopCallbacks) StompWriteBarrierEphemeral(uintptr, uintptr) {}

// publishBounds recomputes h's lowest/highest address and ephemeral
// range, republishing both to the card table and the VM's inlined
// barriers (§6.3's "updated only by the collector, read by the VM's
// inlined barriers").
func publishBounds(h *heap.Heap, cb Callbacks) {
	lowest, highest := h.Bounds()
	cb.StompWriteBarrierResize(lowest, highest)
	elo, ehi := h.Ephemeral.Bounds()
	h.Cards.SetEphemeralRange(elo, ehi)
	cb.StompWriteBarrierEphemeral(elo, ehi)
}

// applyCallbackConfig applies each Config field override cb reports,
// leaving cfg's own value where cb has none (the gjson/yaml/env precedence chain
// in cmn.GCO already resolved file/env overrides; Callbacks config reads
// are the VM's own highest-precedence source, e.g. a command-line flag).
func applyCallbackConfig(cfg *cmn.Config, cb Callbacks) {
	if v, ok := cb.ConfigBool("ServerGC"); ok {
		cfg.ServerGC = v
	}
	if v, ok := cb.ConfigBool("ConcurrentGC"); ok {
		cfg.ConcurrentGC = v
	}
	if v, ok := cb.ConfigBool("GCNumaAware"); ok {
		cfg.GCNumaAware = v
	}
	if v, ok := cb.ConfigBool("GCCpuGroup"); ok {
		cfg.GCCpuGroup = v
	}
	if v, ok := cb.ConfigBool("StressHeap"); ok {
		cfg.StressHeap = v
	}
	if v, ok := cb.ConfigString("StressHeapDumpDir"); ok {
		cfg.StressHeapDumpDir = v
	}
	if v, ok := cb.ConfigInt("HeapSegmentSize"); ok {
		cfg.HeapSegmentSize = v
	}
	if v, ok := cb.ConfigInt("GCHeapHardLimit"); ok {
		cfg.GCHeapHardLimit = v
	}
}
