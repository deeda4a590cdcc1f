package heap

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// Kind is the §3.2 segment kind.
type Kind int

const (
	KindEphemeral Kind = iota // hosts gen 0 and gen 1
	KindMature                // gen 2
	KindLarge                 // LOH
	KindFrozen                // externally owned
)

func (k Kind) String() string {
	switch k {
	case KindEphemeral:
		return "ephemeral"
	case KindMature:
		return "mature"
	case KindLarge:
		return "large"
	case KindFrozen:
		return "frozen"
	default:
		return "unknown"
	}
}

// state is the §4.2.1 segment lifecycle state.
type state int

const (
	stateReserved state = iota
	stateCommitted
	stateInUse
	stateReleased
)

// MinSegmentSize is the platform-defined minimum from §4.2.1: "must be
// >= 4 MiB and a megabyte-aligned".
const MinSegmentSize = 4 * 1024 * 1024
const segmentAlign = 1024 * 1024

// Segment is a reserved virtual-address range with monotonically ordered
// offsets base <= first_object <= allocated <= committed <= reserved
// (§3.2). This implementation backs the reservation with an Arena over
// bytes from heap.Backing (ordinary Go memory unless Backing is set to
// unixMemory, see osmemory.go); the state machine and invariants are
// unaffected by that substitution.
type Segment struct {
	Kind Kind

	arena *Arena

	firstObject  uintptr
	allocatedEnd uintptr
	committedEnd uintptr
	reservedEnd  uintptr

	st state

	// Gen1End only meaningful for KindEphemeral segments (§4.2.2): the
	// boundary between gen 1 ([first_object, gen1_end)) and gen 0
	// ([gen1_end, allocated_end)).
	Gen1End uintptr
}

// nextBase hands out non-overlapping logical base addresses for segments
// reserved with base == 0: this implementation backs each segment with
// its own independent []byte (see Arena's doc comment on the virtual
// memory substitution), so base is otherwise just a lookup key and must
// stay unique across every live segment for SegmentList.Find to work.
var nextBase uint64 = 0x10000000

func allocateBase(size int64) uintptr {
	b := atomic.AddUint64(&nextBase, uint64(size))
	return uintptr(b - uint64(size))
}

// Reserve obtains a virtual-address range of at least size bytes
// (rounded up to segmentAlign, and to at least MinSegmentSize),
// transitioning (absent) -> RESERVED (§4.2.1). Pass base == 0 to have a
// fresh, non-overlapping base chosen automatically.
func Reserve(base uintptr, size int64, kind Kind) (*Segment, error) {
	if size < MinSegmentSize {
		size = MinSegmentSize
	}
	aligned := int64(alignUp(uintptr(size), segmentAlign))
	if aligned%segmentAlign != 0 {
		return nil, errors.New("ReserveSegment: size must be megabyte-aligned")
	}
	if base == 0 {
		base = allocateBase(aligned)
	}
	buf, err := Backing.Allocate(aligned)
	if err != nil {
		return nil, err
	}
	arena := NewArena(base, buf)
	s := &Segment{
		Kind:         kind,
		arena:        arena,
		firstObject:  base,
		allocatedEnd: base,
		committedEnd: base,
		reservedEnd:  base + uintptr(aligned),
		st:           stateReserved,
	}
	s.Gen1End = base
	return s, nil
}

func alignUp(n uintptr, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// Commit backs pages from the current committed end toward at least
// uptoAllocated, transitioning RESERVED/COMMITTED -> COMMITTED (§4.2.1).
// Lazily commits only as far as requested plus a small slack, not the
// whole reservation at once.
func (s *Segment) Commit(uptoAllocated uintptr) error {
	if s.st == stateReleased {
		return errors.New("CommitSegmentBegin: segment already released")
	}
	target := alignUp(uptoAllocated, segmentAlign)
	if target > s.reservedEnd {
		return errors.New("CommitEphSegment: commit target exceeds reserved range")
	}
	if target > s.committedEnd {
		s.committedEnd = target
	}
	if s.st == stateReserved {
		s.st = stateCommitted
	}
	return nil
}

// Decommit shrinks committed_end down to allocated_end+slack, never below
// first_object_offset (§4.2.1).
func (s *Segment) Decommit(slack uintptr) error {
	target := s.allocatedEnd + slack
	if target < s.firstObject {
		target = s.firstObject
	}
	target = alignUp(target, segmentAlign)
	if target < s.committedEnd {
		s.committedEnd = target
	}
	return nil
}

// Release unreserves the entire range; legal only for empty, non-frozen
// segments (§4.2.1).
func (s *Segment) Release() error {
	if s.Kind == KindFrozen {
		return errors.New("cannot release a frozen segment")
	}
	if s.allocatedEnd != s.firstObject {
		return errors.New("cannot release a non-empty segment")
	}
	s.st = stateReleased
	return nil
}

func (s *Segment) Arena() *Arena          { return s.arena }
func (s *Segment) Base() uintptr          { return s.arena.Base() }
func (s *Segment) FirstObject() uintptr   { return s.firstObject }
func (s *Segment) AllocatedEnd() uintptr  { return s.allocatedEnd }
func (s *Segment) CommittedEnd() uintptr  { return s.committedEnd }
func (s *Segment) ReservedEnd() uintptr   { return s.reservedEnd }
func (s *Segment) IsReleased() bool       { return s.st == stateReleased }

// Bump advances allocated_end by n bytes, committing more pages first if
// needed. Used by the bump-allocator fast/slow path and by LOH/free-list
// growth alike.
func (s *Segment) Bump(n int64) (addr uintptr, err error) {
	need := s.allocatedEnd + uintptr(n)
	if need > s.committedEnd {
		if err := s.Commit(need); err != nil {
			return 0, err
		}
	}
	if need > s.reservedEnd {
		return 0, errors.New("ReserveSegment: allocation exceeds reserved range")
	}
	addr = s.allocatedEnd
	s.allocatedEnd = need
	s.st = stateInUse
	return addr, nil
}

// Contains reports whether addr lies within [base, allocated_end) — the
// live portion of this segment (I1: "base <= o < allocated").
func (s *Segment) Contains(addr uintptr) bool {
	return addr >= s.Base() && addr < s.allocatedEnd
}
