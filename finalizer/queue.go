// Package finalizer implements the §4.4.5 finalizer queue: the external
// collaborator the collector hands newly-unreachable finalizable objects
// to, with resurrection (the object survives one more cycle once queued).
//
// Grounded on cmn.StopCh's close-once shutdown idiom, used the same way
// the teacher signals its xaction runners to stop; here it gates a
// pull-based queue instead of a background drainer, since the VM (not
// gcheap) decides when and on which thread finalizers actually run.
package finalizer

import (
	"sync"

	"github.com/tracinggc/gcheap/cmn"
)

// Entry is one object pending finalization.
type Entry struct {
	Gen    int
	Object uintptr
	ran    bool
}

// Queue is a FIFO finalizer queue. The collector pushes newly-unreachable
// finalizable objects onto it (RegisterForFinalization); the VM pulls
// them off one at a time (GetNextFinalizable) and reports completion
// (SetFinalizationRun) once its finalizer method has run, matching
// §6.1's register_for_finalization/get_next_finalizable/
// set_finalization_run/get_number_of_finalizable operation set exactly.
type Queue struct {
	mu       sync.Mutex
	pending  []*Entry
	inFlight map[uintptr]*Entry
	shutdown *cmn.StopCh
	closed   bool
}

func NewQueue() *Queue {
	return &Queue{
		inFlight: make(map[uintptr]*Entry),
		shutdown: cmn.NewStopCh(),
	}
}

// RegisterForFinalization enqueues obj. Called by the collector when it
// discovers obj is newly unreachable but finalizer-eligible; obj is
// treated as reachable for the duration it sits in this queue
// (resurrection semantics, §4.4.5).
func (q *Queue) RegisterForFinalization(gen int, obj uintptr) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return cmn.ErrShutdownInProgress
	}
	q.pending = append(q.pending, &Entry{Gen: gen, Object: obj})
	return nil
}

// GetNextFinalizable pops and returns the oldest pending entry, moving it
// to the in-flight set until SetFinalizationRun reports it done. Returns
// ok=false if the queue is currently empty.
func (q *Queue) GetNextFinalizable() (obj uintptr, gen int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return 0, 0, false
	}
	e := q.pending[0]
	q.pending = q.pending[1:]
	q.inFlight[e.Object] = e
	return e.Object, e.Gen, true
}

// SetFinalizationRun marks obj's finalizer as having run, removing it
// from the in-flight set. Called by the VM once its finalizer method for
// obj returns.
func (q *Queue) SetFinalizationRun(obj uintptr) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.inFlight[obj]; ok {
		e.ran = true
		delete(q.inFlight, obj)
	}
}

// GetNumberOfFinalizable reports how many entries are waiting to be
// pulled (not counting those already in flight), for §6.1's
// get_number_of_finalizable.
func (q *Queue) GetNumberOfFinalizable() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Shutdown marks the queue closed: further RegisterForFinalization calls
// fail with ErrShutdownInProgress. Already-pending entries remain
// retrievable via GetNextFinalizable so a VM can drain them during
// process teardown.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.shutdown.Close()
}
