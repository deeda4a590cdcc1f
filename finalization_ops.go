package gcheap

import "github.com/tracinggc/gcheap/heap"

// RegisterForFinalization implements §6.1's
// register_for_finalization(gen, obj).
func (g *GC) RegisterForFinalization(gen heap.GenKind, obj heap.Ref) error {
	return g.fin.RegisterForFinalization(int(gen), obj.Addr())
}

// GetNextFinalizable implements §6.1's get_next_finalizable().
func (g *GC) GetNextFinalizable() (obj heap.Ref, gen heap.GenKind, ok bool) {
	addr, genInt, ok := g.fin.GetNextFinalizable()
	return heap.Ref(addr), heap.GenKind(genInt), ok
}

// SetFinalizationRun implements §6.1's set_finalization_run(obj).
func (g *GC) SetFinalizationRun(obj heap.Ref) {
	g.fin.SetFinalizationRun(obj.Addr())
}

// GetNumberOfFinalizable implements §6.1's get_number_of_finalizable().
func (g *GC) GetNumberOfFinalizable() int {
	return g.fin.GetNumberOfFinalizable()
}

// ShutdownFinalization closes the finalizer queue; further
// RegisterForFinalization calls fail with cmn.ErrShutdownInProgress
// (§7's ShutdownInProgress kind).
func (g *GC) ShutdownFinalization() {
	g.fin.Shutdown()
}
