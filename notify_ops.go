package gcheap

import (
	"sync"
	"time"

	"github.com/tracinggc/gcheap/heap"
)

// NotifyStatus is the result of every §6.1 full-GC notification
// operation: "returns one of Success | Failed | Cancelled | Timeout |
// NotApplicable".
type NotifyStatus int

const (
	NotifySuccess NotifyStatus = iota
	NotifyFailed
	NotifyCancelled
	NotifyTimeout
	NotifyNotApplicable
)

func (s NotifyStatus) String() string {
	switch s {
	case NotifySuccess:
		return "Success"
	case NotifyFailed:
		return "Failed"
	case NotifyCancelled:
		return "Cancelled"
	case NotifyTimeout:
		return "Timeout"
	default:
		return "NotApplicable"
	}
}

// notifyState backs RegisterForFullGCNotification/
// CancelFullGCNotification/WaitForFullGCApproach/WaitForFullGCComplete.
// Grounded on the teacher's cmn.TimeoutGroup (a counted rendezvous a
// waiter can time out of) generalized here to a level-triggered signal a
// waiter can also observe as already-fired, since a collection may well
// complete between Register and Wait in a single-goroutine façade.
type notifyState struct {
	mu         sync.Mutex
	cond       *sync.Cond
	registered bool
	gen2Pct    int
	lohPct     int
	generation int64 // bumped on every approach/complete signal and on Cancel
	fired      bool  // true once the current generation's signal has fired
	cancelled  bool
}

func newNotifyState() *notifyState {
	n := &notifyState{}
	n.cond = sync.NewCond(&n.mu)
	return n
}

// register backs RegisterForFullGCNotification, §6.1's
// register_for_full_gc_notification(gen2_pct, loh_pct).
func (n *notifyState) register(gen2Pct, lohPct int) NotifyStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.registered = true
	n.gen2Pct = gen2Pct
	n.lohPct = lohPct
	n.cancelled = false
	n.fired = false
	return NotifySuccess
}

// cancel backs CancelFullGCNotification, §6.1's
// cancel_full_gc_notification(), waking every blocked waiter with
// Cancelled.
func (n *notifyState) cancel() NotifyStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.registered {
		return NotifyNotApplicable
	}
	n.registered = false
	n.cancelled = true
	n.generation++
	n.cond.Broadcast()
	return NotifySuccess
}

// onCollectionComplete is called by GC.Collect after every gen-2
// collection; it signals both the "approach" and "complete" waiters
// together, since this façade has no separate pre-collection phase to
// distinguish the two against (documented in DESIGN.md).
func (n *notifyState) onCollectionComplete(gen heap.GenKind, h *heap.Heap) {
	if gen != heap.Gen2 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.registered {
		return
	}
	n.fired = true
	n.generation++
	n.cond.Broadcast()
}

func (n *notifyState) wait(timeoutMs int64) NotifyStatus {
	n.mu.Lock()
	if !n.registered && !n.fired {
		n.mu.Unlock()
		return NotifyNotApplicable
	}
	startGen := n.generation

	var timedOut bool
	timer := time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
		n.mu.Lock()
		timedOut = true
		n.cond.Broadcast()
		n.mu.Unlock()
	})
	defer timer.Stop()

	for n.generation == startGen && !n.fired && !n.cancelled && !timedOut {
		n.cond.Wait()
	}
	cancelled := n.cancelled
	fired := n.fired
	n.mu.Unlock()

	switch {
	case cancelled:
		return NotifyCancelled
	case fired:
		return NotifySuccess
	default:
		return NotifyTimeout
	}
}

// RegisterForFullGCNotification implements §6.1's operation of the same
// name.
func (g *GC) RegisterForFullGCNotification(gen2Pct, lohPct int) NotifyStatus {
	return g.notify.register(gen2Pct, lohPct)
}

// CancelFullGCNotification implements §6.1's operation of the same name.
func (g *GC) CancelFullGCNotification() NotifyStatus {
	return g.notify.cancel()
}

// WaitForFullGCApproach implements §6.1's wait_for_full_gc_approach(ms).
func (g *GC) WaitForFullGCApproach(timeoutMs int64) NotifyStatus {
	return g.notify.wait(timeoutMs)
}

// WaitForFullGCComplete implements §6.1's wait_for_full_gc_complete(ms).
func (g *GC) WaitForFullGCComplete(timeoutMs int64) NotifyStatus {
	return g.notify.wait(timeoutMs)
}
