package gcheap

import (
	"github.com/tracinggc/gcheap/handle"
	"github.com/tracinggc/gcheap/heap"
)

// NewStrongHandle, NewPinnedHandle, NewWeakHandle, and NewDependentHandle
// expose the in-module handle.Table (§3.7) the embedding VM uses to root
// its live references across collections — the real side of the §6.2
// "Handle-table root enumeration" callback, which this façade answers
// out of its own handle.Table rather than calling back into the VM for
// it (see SPEC_FULL.md §3.7).
func (g *GC) NewStrongHandle(obj heap.Ref) handle.Handle {
	return g.handles.NewStrong(obj.Addr())
}

func (g *GC) NewPinnedHandle(obj heap.Ref) handle.Handle {
	return g.handles.NewPinned(obj.Addr())
}

func (g *GC) NewWeakHandle(obj heap.Ref) handle.Handle {
	return g.handles.NewWeak(obj.Addr())
}

func (g *GC) NewDependentHandle(primary, secondary heap.Ref) handle.Handle {
	return g.handles.NewDependent(primary.Addr(), secondary.Addr())
}

// FreeHandle releases h.
func (g *GC) FreeHandle(h handle.Handle) {
	g.handles.Free(h)
}

// HandleTarget resolves h to its current target object, following any
// relocation the collector has applied.
func (g *GC) HandleTarget(h handle.Handle) (heap.Ref, bool) {
	addr, ok := g.handles.Get(h)
	return heap.Ref(addr), ok
}
