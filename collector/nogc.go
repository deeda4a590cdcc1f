package collector

import (
	"github.com/tracinggc/gcheap/heap"
)

// NoGCStartStatus is the result of StartNoGCRegion (§4.4.4).
type NoGCStartStatus int

const (
	NoGCSuccess NoGCStartStatus = iota
	NoGCNoMemory
	NoGCTooLarge
	NoGCAlreadyInProgress
)

// NoGCEndStatus is the result of EndNoGCRegion (§4.4.4).
type NoGCEndStatus int

const (
	NoGCEndSuccess NoGCEndStatus = iota
	NoGCEndNotInProgress
	NoGCEndInduced
	NoGCEndAllocExceeded
)

// NoGCRegion implements §4.4.4: a reservation that guarantees allocations
// up to a budget will not trigger a collection, at the cost of refusing
// (or forcibly ending the region for) any allocation that would exceed
// it.
type NoGCRegion struct {
	active        bool
	total         int64
	lohTotal      int64
	disallowFull  bool
	sohReserved   int64
	lohReserved   int64
	gcCountAtStart int64
}

// Start attempts to pre-reserve total bytes of SOH headroom and lohTotal
// bytes of LOH headroom. lohKnown, when nonzero, is treated as an
// already-allocated LOH amount counted against lohTotal.
func (r *NoGCRegion) Start(total, lohKnown, lohTotal int64, disallowFull bool, gcIndex int64, h *heap.Heap) NoGCStartStatus {
	if r.active {
		return NoGCAlreadyInProgress
	}
	if total < 0 || lohTotal < 0 {
		return NoGCTooLarge
	}
	if h.Eph0.Budget+h.Eph1.Budget < total {
		// Current ephemeral budgets can't cover the request outright;
		// a real implementation would grow segments here. We report
		// NoMemory rather than silently under-reserving, preserving I7.
		return NoGCNoMemory
	}
	r.active = true
	r.total = total
	r.lohTotal = lohTotal
	r.disallowFull = disallowFull
	r.sohReserved = 0
	r.lohReserved = lohKnown
	r.gcCountAtStart = gcIndex
	return NoGCSuccess
}

// End exits the region. currentGCIndex is compared against the count
// captured at Start to report whether a collection snuck in (Induced),
// preserving I7 ("collection count is unchanged unless the region
// terminates with AllocExceeded or Induced").
func (r *NoGCRegion) End(currentGCIndex int64) NoGCEndStatus {
	if !r.active {
		return NoGCEndNotInProgress
	}
	r.active = false
	if currentGCIndex != r.gcCountAtStart {
		return NoGCEndInduced
	}
	return NoGCEndSuccess
}

// Active reports whether a no-GC region is currently open.
func (r *NoGCRegion) Active() bool { return r.active }

// TrackAllocation records size bytes allocated from the SOH or LOH
// reservation (loh selects which counter), returning false if this
// allocation would exceed the outstanding reservation; the caller is then
// responsible for terminating the region with an AllocExceeded outcome
// (or, depending on configuration, failing the allocation instead).
func (r *NoGCRegion) TrackAllocation(size int64, loh bool) (ok bool) {
	if !r.active {
		return true
	}
	if loh {
		if r.lohReserved+size > r.lohTotal {
			return false
		}
		r.lohReserved += size
		return true
	}
	if r.sohReserved+size > r.total {
		return false
	}
	r.sohReserved += size
	return true
}
