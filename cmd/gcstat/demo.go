package main

import (
	"github.com/tracinggc/gcheap"
	"github.com/tracinggc/gcheap/heap"
)

// noopVM is the Callbacks gcstat drives its demo instance with: this
// CLI is a standalone diagnostic tool rather than an embedded VM, so
// every root-enumeration and config-read callback is a no-op.
type noopVM struct{}

func (noopVM) EnumerateStackRoots(func(ref uintptr))                  {}
func (noopVM) ConfigBool(key string) (bool, bool)                     { return false, false }
func (noopVM) ConfigInt(key string) (int64, bool)                     { return 0, false }
func (noopVM) ConfigString(key string) (string, bool)                 { return "", false }
func (noopVM) StompWriteBarrierResize(lowest, highest uintptr)        {}
func (noopVM) StompWriteBarrierEphemeral(low, high uintptr)           {}

// demoType is a small fixed-size, reference-free type gcstat allocates
// instances of to give its demo heap something to collect.
type demoType struct{}

func (demoType) Name() string     { return "demoType" }
func (demoType) FixedSize() int64 { return 32 }
func (demoType) IsArray() bool    { return false }
func (demoType) ContainsRefs() bool { return false }
func (demoType) Finalizable() bool  { return false }
func (demoType) EnumRefs(*heap.Arena, uintptr, int64, func(uintptr)) {}

func demoSegment(g *gcheap.GC, addr uintptr) *heap.Segment {
	h := g.Heap()
	if seg := h.Ephemeral.Find(addr); seg != nil {
		return seg
	}
	if seg := h.Gen2.Segments.Find(addr); seg != nil {
		return seg
	}
	return h.LOH.Segments.Find(addr)
}

// demoInstance initializes a fresh gcheap.GC and populates it with a
// handful of allocations, the minimal live heap every gcstat subcommand
// reports against.
func demoInstance() (*gcheap.GC, error) {
	g, err := gcheap.Initialize(noopVM{})
	if err != nil {
		return nil, err
	}
	typeID := g.Types().Register(demoType{})
	for i := 0; i < 64; i++ {
		ref, err := g.Alloc(32, 0)
		if err != nil {
			break
		}
		seg := demoSegment(g, ref.Addr())
		if seg == nil {
			continue
		}
		view := heap.ObjectView{Arena: seg.Arena(), Addr: ref.Addr()}
		view.SetTypeID(typeID)
	}
	g.FixAllocContext()
	return g, nil
}
