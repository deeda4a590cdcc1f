// Package bgc implements §4.6's background collector: a one-way state
// machine that marks and sweeps gen 2 and the LOH concurrently with
// mutators, pausing only for the brief stop-the-world steps the diagram
// in §4.6 marks "S". One background collection is ever in progress per
// heap instance. In server mode, ServerGroup runs every instance's cycle
// concurrently and joins them once (with a cmn.TimeoutGroup bound) after
// all cycles complete; there is no per-phase barrier, so the instances'
// machines do not pass through their stop-the-world transitions together.
//
// Grounded on lru.go's jogger-per-mountpath shape for "one worker loop
// per owned resource, coordinated by a shared controller", generalized
// here to "one phase machine per heap instance, coordinated by a join
// barrier" instead of one jogger per mountpath.
package bgc

import (
	"fmt"
)

// State walks exactly the §4.6 sequence. Values are ordered so a plain
// integer comparison answers I8 ("non-decreasing along the sequence");
// the machine wraps from NotInProcess (end) back to Initialized (start)
// explicitly rather than via State(0), so the zero value safely means
// "never started".
type State int32

const (
	NotInProcess State = iota
	Initialized
	ResetWriteWatch
	MarkHandles
	MarkStackState
	RevisitSOH
	RevisitLOH
	OverflowSOH
	OverflowLOH
	FinalMarking
	SweepSOH
	SweepLOH
	PlanPhase
	numStates
)

// TotalStates is the number of phases in one full cycle, including the
// terminal NotInProcess state — the denominator a progress display
// renders State() against.
const TotalStates = int(numStates)

func (s State) String() string {
	switch s {
	case NotInProcess:
		return "NotInProcess"
	case Initialized:
		return "Initialized"
	case ResetWriteWatch:
		return "ResetWriteWatch"
	case MarkHandles:
		return "MarkHandles"
	case MarkStackState:
		return "MarkStack"
	case RevisitSOH:
		return "RevisitSOH"
	case RevisitLOH:
		return "RevisitLOH"
	case OverflowSOH:
		return "OverflowSOH"
	case OverflowLOH:
		return "OverflowLOH"
	case FinalMarking:
		return "FinalMarking"
	case SweepSOH:
		return "SweepSOH"
	case SweepLOH:
		return "SweepLOH"
	case PlanPhase:
		return "PlanPhase"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Pause reports whether a transition into s requires a brief
// stop-the-world pause (the "S" steps of §4.6's diagram) as opposed to
// running concurrently with mutators ("C" steps).
func (s State) Pause() bool {
	switch s {
	case Initialized, ResetWriteWatch, RevisitSOH, FinalMarking, PlanPhase:
		return true
	default:
		return false
	}
}

// next is the fixed successor of every state, walking the full sequence
// including OverflowSOH/OverflowLOH and PlanPhase; a caller that skips
// or forces one of those branches does so with Machine.To.
func (s State) next() State {
	switch s {
	case NotInProcess:
		return Initialized
	case Initialized:
		return ResetWriteWatch
	case ResetWriteWatch:
		return MarkHandles
	case MarkHandles:
		return MarkStackState
	case MarkStackState:
		return RevisitSOH
	case RevisitSOH:
		return RevisitLOH
	case RevisitLOH:
		return OverflowSOH
	case OverflowSOH:
		return OverflowLOH
	case OverflowLOH:
		return FinalMarking
	case FinalMarking:
		return SweepSOH
	case SweepSOH:
		return SweepLOH
	case SweepLOH:
		return PlanPhase
	case PlanPhase:
		return NotInProcess
	default:
		return s
	}
}
