// Package cardtable implements the §4.5 write-barrier and card-table
// machinery: a byte-per-card dirty map over the managed address range, the
// write barrier that keeps it sound, the optional software write-watch used
// by the background collector, and the optional debug shadow heap.
//
// Grounded on the teacher's memsys.Slab double-buffer bookkeeping for the
// general shape of "a flat byte array indexed by a cheap arithmetic
// projection of an address", and on cmn/sync.go's atomic-counter idioms for
// the lock-free dirty-set operation required by §5 ("The card table is
// lock-free: dirty is a monotonic set-only operation per cycle").
package cardtable

import (
	"go.uber.org/atomic"
)

// card-sized regions: power of two, spec.md §3.5 example 256/512 bytes.
const defaultCardShift = 9 // 512 bytes

const (
	cardClean byte = 0
	cardDirty byte = 1
)

// Table maps card-sized aligned regions of [lowest, highest) to a
// "possibly contains a pointer to younger generation" dirty flag (§3.5).
type Table struct {
	cardShift uint
	bytes     []byte // one byte per card; cardClean|cardDirty
	lowest    uintptr
	highest   uintptr

	// ephemeral_low/high bound gen 0/1 (§4.5.1 step 2); updated only by
	// the collector via Stomp, read by the write barrier on every store.
	ephLow  atomic.Uintptr
	ephHigh atomic.Uintptr
}

// New builds a card table covering [lowest, highest). The range must
// already be card-aligned. A Table does not grow; covering a different
// range takes a new Table.
func New(lowest, highest uintptr) *Table {
	return newTable(lowest, highest, defaultCardShift)
}

func newTable(lowest, highest uintptr, cardShift uint) *Table {
	span := highest - lowest
	ncards := (span + (1 << cardShift) - 1) >> cardShift
	return &Table{
		cardShift: cardShift,
		bytes:     make([]byte, ncards),
		lowest:    lowest,
		highest:   highest,
	}
}

func (t *Table) cardIndex(addr uintptr) int {
	return int((addr - t.lowest) >> t.cardShift)
}

// CardOf returns the base address of the card covering addr, for use by
// tests and by cmd/gcstat when reporting which card an address lives on.
func (t *Table) CardOf(addr uintptr) uintptr {
	idx := t.cardIndex(addr)
	return t.lowest + uintptr(idx)<<t.cardShift
}

// SetEphemeralRange publishes the [low, high) span that currently hosts
// gen 0/1, per §4.5.1 step 2. Called by heap whenever ephemeral_low/high
// change (a generation-0 collection can move gen1_end).
func (t *Table) SetEphemeralRange(low, high uintptr) {
	t.ephLow.Store(uint64(low))
	t.ephHigh.Store(uint64(high))
}

func (t *Table) inEphemeral(addr uintptr) bool {
	lo := uintptr(t.ephLow.Load())
	hi := uintptr(t.ephHigh.Load())
	return addr >= lo && addr < hi
}

// Dirty marks the card covering fieldAddr as dirty. Lock-free: setting a
// byte to 1 is a monotonic, idempotent operation, satisfying §5's
// "dirty is a monotonic set-only operation per cycle" without a CAS.
func (t *Table) Dirty(fieldAddr uintptr) {
	if fieldAddr < t.lowest || fieldAddr >= t.highest {
		return
	}
	t.bytes[t.cardIndex(fieldAddr)] = cardDirty
}

// IsDirty reports whether the card covering addr is dirty (I2, S3).
func (t *Table) IsDirty(addr uintptr) bool {
	if addr < t.lowest || addr >= t.highest {
		return false
	}
	return t.bytes[t.cardIndex(addr)] == cardDirty
}

// Clear resets the card covering addr to clean. Only the collector may call
// this, and only at a safepoint (§4.4.2 step 6 "Fix cards").
func (t *Table) Clear(addr uintptr) {
	if addr < t.lowest || addr >= t.highest {
		return
	}
	t.bytes[t.cardIndex(addr)] = cardClean
}

// ClearRange clears every card covering [lo, hi) — used when a whole
// generation's survivors are known to no longer hold old->young references
// (§4.4.2 step 6).
func (t *Table) ClearRange(lo, hi uintptr) {
	if lo < t.lowest {
		lo = t.lowest
	}
	if hi > t.highest {
		hi = t.highest
	}
	if lo >= hi {
		return
	}
	start := t.cardIndex(lo)
	end := t.cardIndex(hi-1) + 1
	for i := start; i < end; i++ {
		t.bytes[i] = cardClean
	}
}

// DirtyCards calls fn with the base address of every dirty card overlapping
// [lo, hi). Used by the mark phase to scan old->young references (§4.4.2
// step 2 "Dirty cards").
func (t *Table) DirtyCards(lo, hi uintptr, fn func(cardBase uintptr)) {
	if lo < t.lowest {
		lo = t.lowest
	}
	if hi > t.highest {
		hi = t.highest
	}
	if lo >= hi {
		return
	}
	start := t.cardIndex(lo)
	end := t.cardIndex(hi-1) + 1
	for i := start; i < end; i++ {
		if t.bytes[i] == cardDirty {
			t.bytes[i] = cardClean // Clear, set, iff survivor still points young — caller re-dirties (§4.4.2 step 6)
			fn(t.lowest + uintptr(i)<<t.cardShift)
		}
	}
}

func (t *Table) Lowest() uintptr  { return t.lowest }
func (t *Table) Highest() uintptr { return t.highest }
