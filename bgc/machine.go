package bgc

import (
	"sync"

	"github.com/tracinggc/gcheap/cmn/debug"
)

// SegChange is one entry of the §4.6 segment-change log: "any segment
// added or removed [while BGC is running] is logged (start, end,
// gc_index, bgc_state, seg_deleted|seg_added) so the sweep can
// reconcile."
type SegChange struct {
	Start    uintptr
	End      uintptr
	GCIndex  int64
	State    State
	Deleted  bool // false: seg_added, true: seg_deleted
}

// Machine drives one heap instance's background-collector phase
// sequence. It is safe for concurrent State()/GCIndex() reads against a
// single concurrent Advance()/RecordSegChange() writer, matching how a
// mutator thread reads BGC state off the hot allocation path while only
// the collector goroutine advances it.
type Machine struct {
	mu      sync.Mutex
	state   State
	gcIndex int64
	log     []SegChange
}

func NewMachine() *Machine {
	return &Machine{state: NotInProcess}
}

// State returns the current phase, safe to call from any goroutine.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// GCIndex returns the gc_index this machine is currently running, or the
// index of the cycle it just finished if State() == NotInProcess.
func (m *Machine) GCIndex() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gcIndex
}

// Advance moves the machine to its natural successor state, asserting
// I8 (non-decreasing, modulo the NotInProcess -> Initialized wraparound
// that starts a new cycle). Callers that must take a non-default branch
// (OverflowSOH/OverflowLOH only on mark-stack overflow) call To instead.
func (m *Machine) Advance() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.state.next()
	m.assertMonotone(next)
	if next == Initialized {
		m.gcIndex++
	}
	m.state = next
	return m.state
}

// To forces a specific transition, for the overflow branch (skipped
// entirely when the mark stack never overflowed) and for tests driving
// the machine directly. It still asserts I8.
func (m *Machine) To(next State) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assertMonotone(next)
	m.state = next
	return m.state
}

// assertMonotone enforces I8: the sequence is non-decreasing except for
// the single legal wraparound that starts the next cycle. Must be
// called with mu held.
func (m *Machine) assertMonotone(next State) {
	wrapping := m.state == NotInProcess && next == Initialized
	debug.Assert(wrapping || next >= m.state)
}

// RecordSegChange appends to the segment-change log kept while BGC is
// running; DrainLog hands the accumulated entries to the caller and
// empties the log.
func (m *Machine) RecordSegChange(start, end uintptr, deleted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, SegChange{
		Start: start, End: end, GCIndex: m.gcIndex, State: m.state, Deleted: deleted,
	})
}

// DrainLog returns and clears the segment-change log, for the sweep
// phase to reconcile against segments that appeared or vanished during
// the concurrent portion of the cycle.
func (m *Machine) DrainLog() []SegChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.log
	m.log = nil
	return out
}

// Reset returns the machine to NotInProcess without running through the
// successor chain, used when a cycle is aborted rather than completed.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = NotInProcess
	m.log = nil
}
