// Package freelist implements the §3.6/§4.3 free-list allocator servicing
// non-moving (swept) heap regions: a bucketed collection of free blocks,
// each storing a next-link and an undo-link in its first two words.
//
// Grounded on the teacher's memsys.Slab get/put double-buffering (the
// "thread onto a bucket, unlink on demand" shape is the same idea applied
// to in-place free blocks instead of separately-allocated []byte buffers),
// and on design notes §9's "raw-word writes inside a justified unsafe
// block" guidance: nodes are identified by address (uintptr) and their
// next/undo links are read/written through the Region the caller supplies,
// since the bytes backing a free block live inside a heap segment the
// freelist package does not itself own.
package freelist

import "github.com/tracinggc/gcheap/cmn/debug"

// Region is the minimal word-addressable view of heap memory the allocator
// needs: read/write the next-link and undo-link words stored in a free
// block's first two machine words (§3.1's minimum-object-size invariant
// guarantees every live object can be rewritten this way during sweep).
type Region interface {
	ReadWord(addr uintptr) uintptr
	WriteWord(addr uintptr, v uintptr)
}

// nullAddr is the "no next node" sentinel; freelist never threads the zero
// address (no segment's first_object_offset is 0 after header room).
const nullAddr uintptr = 0

// undoEmpty is the "no undo recorded" sentinel, distinct from every valid
// address or from nullAddr, which a genuine undo value (the old next-link,
// possibly null) might legitimately equal.
const undoEmpty uintptr = ^uintptr(0)

const (
	nextWordOffset = 0
	undoWordOffset = 8 // byte offset of the second machine word; Region is byte-addressed
)

type bucket struct {
	head, tail uintptr
	lo, hi     int64 // size range [lo, hi); hi == 0 means unbounded (last bucket)
}

// Allocator is the §4.3 free-list: one Allocator instance per non-moving
// generation (gen 2, LOH).
type Allocator struct {
	mem             Region
	firstBucketSize int64
	buckets         []bucket
	discardIfNoFit  bool // true iff exactly one bucket (§4.3 policy bit)
	sizeOf          func(addr uintptr) int64 // optional, for debug verification
}

// New builds an Allocator with numBuckets buckets, bucket i spanning
// [firstBucketSize*2^i, firstBucketSize*2^(i+1)), last bucket unbounded.
func New(mem Region, firstBucketSize int64, numBuckets int) *Allocator {
	if numBuckets < 1 {
		numBuckets = 1
	}
	buckets := make([]bucket, numBuckets)
	lo := firstBucketSize
	for i := range buckets {
		hi := lo * 2
		if i == numBuckets-1 {
			hi = 0 // unbounded
		}
		buckets[i] = bucket{lo: lo, hi: hi}
		lo = hi
	}
	return &Allocator{
		mem:             mem,
		firstBucketSize: firstBucketSize,
		buckets:         buckets,
		discardIfNoFit:  numBuckets == 1,
	}
}

// SetSizeOf installs an optional size lookup used only by the debug
// invariant-checking walk (Verify), mirroring design notes §9's
// "accompanied by an invariant-checking walk in debug builds".
func (a *Allocator) SetSizeOf(f func(addr uintptr) int64) { a.sizeOf = f }

// BucketIndex returns the bucket index that a block of the given size
// belongs to.
func (a *Allocator) BucketIndex(size int64) int {
	if size < a.buckets[0].lo {
		return 0
	}
	for i := range a.buckets {
		b := &a.buckets[i]
		if b.hi == 0 || size < b.hi {
			if size >= b.lo {
				return i
			}
		}
	}
	return len(a.buckets) - 1
}

func (a *Allocator) next(addr uintptr) uintptr { return a.mem.ReadWord(addr + nextWordOffset) }
func (a *Allocator) setNext(addr, v uintptr)   { a.mem.WriteWord(addr+nextWordOffset, v) }
func (a *Allocator) undo(addr uintptr) uintptr { return a.mem.ReadWord(addr + undoWordOffset) }
func (a *Allocator) setUndo(addr, v uintptr)   { a.mem.WriteWord(addr+undoWordOffset, v) }

// Thread appends item to the bucket whose range contains size.
func (a *Allocator) Thread(item uintptr, size int64) {
	idx := a.BucketIndex(size)
	b := &a.buckets[idx]
	a.setNext(item, nullAddr)
	a.setUndo(item, undoEmpty)
	if b.tail == nullAddr {
		b.head, b.tail = item, item
		return
	}
	a.setNext(b.tail, item)
	b.tail = item
}

// ThreadFront prepends item to the bucket whose range contains size.
func (a *Allocator) ThreadFront(item uintptr, size int64) {
	idx := a.BucketIndex(size)
	b := &a.buckets[idx]
	a.setUndo(item, undoEmpty)
	if b.head == nullAddr {
		a.setNext(item, nullAddr)
		b.head, b.tail = item, item
		return
	}
	a.setNext(item, b.head)
	b.head = item
}

// Unlink removes item from bucket, given the node preceding it in the
// chain (prev == nullAddr if item is the head). When useUndo is set and
// discardIfNoFit is false, the old next-link of prev is recorded in
// undo(prev) (only if no undo is already pending there), so a later
// CopyFrom can repair a tentative unlink the plan phase decided not to
// keep.
func (a *Allocator) Unlink(bucketIdx int, item, prev uintptr, useUndo bool) {
	b := &a.buckets[bucketIdx]
	next := a.next(item)

	if useUndo && !a.discardIfNoFit && prev != nullAddr {
		if a.undo(prev) == undoEmpty {
			a.setUndo(prev, a.next(prev))
		}
	}

	if prev == nullAddr {
		b.head = next
	} else {
		a.setNext(prev, next)
	}
	if item == b.tail {
		b.tail = prev
	}
}

// Clear resets all buckets to empty.
func (a *Allocator) Clear() {
	for i := range a.buckets {
		a.buckets[i].head, a.buckets[i].tail = nullAddr, nullAddr
	}
}

// CommitChanges walks each bucket and resets every entry's undo slot to
// undoEmpty, discarding rollback information once the plan phase's
// tentative unlinks are known to be final.
func (a *Allocator) CommitChanges() {
	for i := range a.buckets {
		for n := a.buckets[i].head; n != nullAddr; n = a.next(n) {
			a.setUndo(n, undoEmpty)
		}
	}
}

// Snapshot is a shallow save/restore of every bucket's head/tail pair.
type Snapshot struct {
	heads, tails []uintptr
}

// CopyTo captures the current head/tail of every bucket.
func (a *Allocator) CopyTo() *Snapshot {
	s := &Snapshot{heads: make([]uintptr, len(a.buckets)), tails: make([]uintptr, len(a.buckets))}
	for i := range a.buckets {
		s.heads[i] = a.buckets[i].head
		s.tails[i] = a.buckets[i].tail
	}
	return s
}

// CopyFrom restores bucket head/tail pairs from a prior snapshot. When the
// allocator's policy is not discard-on-no-fit, it also repairs next-links
// using any undo slots recorded since the snapshot was taken — reversing
// the plan phase's tentative Unlink calls for nodes that turned out not to
// fit anywhere.
func (a *Allocator) CopyFrom(s *Snapshot) {
	if !a.discardIfNoFit {
		for i := range a.buckets {
			for n := s.heads[i]; n != nullAddr; n = a.next(n) {
				if u := a.undo(n); u != undoEmpty {
					a.setNext(n, u)
				}
			}
		}
	}
	for i := range a.buckets {
		a.buckets[i].head = s.heads[i]
		a.buckets[i].tail = s.tails[i]
	}
}

// DiscardIfNoFit reports the §4.3 policy bit: true iff the allocator has
// exactly one bucket.
func (a *Allocator) DiscardIfNoFit() bool { return a.discardIfNoFit }

// Walk calls fn for every node threaded in bucket idx, head to tail.
func (a *Allocator) Walk(idx int, fn func(addr uintptr)) {
	for n := a.buckets[idx].head; n != nullAddr; n = a.next(n) {
		fn(n)
	}
}

// Verify checks I3 (free-list soundness) for every bucket: every node's
// size falls in its bucket's range, head/tail are consistent, and a node
// doesn't appear twice across buckets (O(n) total via a seen-set; debug
// builds only). isFree reports whether a node's header marks it
// free. Returns the first violation found, or ok=true.
func (a *Allocator) Verify(isFree func(addr uintptr) bool) (violation string, ok bool) {
	if !debug.Enabled {
		return "", true
	}
	seen := make(map[uintptr]bool)
	for i := range a.buckets {
		b := &a.buckets[i]
		if b.head == nullAddr && b.tail == nullAddr {
			continue
		}
		if b.head == nullAddr || b.tail == nullAddr {
			return "bucket has exactly one of head/tail nil", false
		}
		if a.next(b.tail) != nullAddr {
			return "tail.next must be nil", false
		}
		for n := b.head; n != nullAddr; n = a.next(n) {
			if seen[n] {
				return "node threaded in more than one bucket", false
			}
			seen[n] = true
			if isFree != nil && !isFree(n) {
				return "threaded node not marked free", false
			}
			if a.sizeOf != nil {
				sz := a.sizeOf(n)
				if sz < b.lo || (b.hi != 0 && sz >= b.hi) {
					return "node size outside its bucket's range", false
				}
			}
		}
	}
	return "", true
}
