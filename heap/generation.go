package heap

import (
	"github.com/tracinggc/gcheap/freelist"
)

// GenKind identifies one of the three small-object generations (§3.3).
type GenKind int

const (
	Gen0 GenKind = iota
	Gen1
	Gen2
)

func (g GenKind) String() string {
	switch g {
	case Gen0:
		return "gen0"
	case Gen1:
		return "gen1"
	case Gen2:
		return "gen2"
	default:
		return "unknown"
	}
}

const freelistFirstBucketSize = 32
const freelistNumBuckets = 8

// Generation owns the allocation context for gen 0/1/2 (§3.3). Gen0/Gen1
// are bump-allocated inside the current ephemeral segment; Gen2 is
// serviced by a free-list allocator over its non-moving segments (§4.3).
type Generation struct {
	Kind GenKind

	// Budget is the soft promotion trigger: bytes allocated into this
	// generation since the last collection that examined it (§3.3,
	// §4.4.1's allocation-budget-exceeded trigger).
	Budget int64
	survivedLastGC int64

	free *freelist.Allocator // only set for Gen2

	// Segments lists this generation's non-moving segments (gen2 only);
	// gen0/gen1 live inside whichever ephemeral segment is current and
	// are tracked via SegmentList instead.
	Segments *SegmentList

	// curEphemeral is the segment AcquireSegment is currently bumping
	// within (gen0/gen1 only).
	curEphemeral *Segment
}

// NewEphemeralGeneration constructs a Gen0 or Gen1 tracker. Ephemeral
// generations do not own a free-list: they are bump-allocated and
// reclaimed by a full copy/compact, never by individual frees.
func NewEphemeralGeneration(kind GenKind, budget int64) *Generation {
	return &Generation{Kind: kind, Budget: budget}
}

// NewGen2 constructs the tenured generation, backed by a free-list over
// mem (mem is typically a *Segment's Arena, or a multiplexing Region that
// spans several mature segments).
func NewGen2(mem freelist.Region, budget int64) *Generation {
	g := &Generation{Kind: Gen2, Budget: budget, Segments: NewSegmentList()}
	g.free = freelist.New(mem, freelistFirstBucketSize, freelistNumBuckets)
	return g
}

func (g *Generation) Free() *freelist.Allocator { return g.free }

// RecordSurvivors stores the bytes that survived the last collection,
// reported by SurvivedLastGC. Nothing in this module resizes Budget from
// that count.
func (g *Generation) RecordSurvivors(bytes int64) { g.survivedLastGC = bytes }

func (g *Generation) SurvivedLastGC() int64 { return g.survivedLastGC }

// BudgetExceeded reports whether allocated bytes into this generation
// since its last collection has reached Budget — the allocation-budget
// trigger of §4.4.1.
func (g *Generation) BudgetExceeded(allocatedSinceLastGC int64) bool {
	return allocatedSinceLastGC >= g.Budget
}

// AcquireSegment returns the current ephemeral segment to bump-allocate
// from, reserving a fresh one and registering it in list if none exists
// yet or the existing one cannot satisfy want more bytes. Only meaningful
// for Gen0/Gen1 (ephemeral) generations.
func (g *Generation) AcquireSegment(list *SegmentList, want int64) (*Segment, error) {
	if g.curEphemeral != nil {
		if g.curEphemeral.ReservedEnd()-g.curEphemeral.AllocatedEnd() >= uintptr(want) {
			return g.curEphemeral, nil
		}
	}
	size := g.Budget
	if size < want {
		size = want
	}
	seg, err := Reserve(0, size, KindEphemeral)
	if err != nil {
		return nil, err
	}
	list.Add(seg)
	g.curEphemeral = seg
	return seg, nil
}

// GrowBudget scales Budget by the given factor, clamped to min/max. No
// collector path in this module calls it.
func (g *Generation) GrowBudget(factor float64, min, max int64) {
	n := int64(float64(g.Budget) * factor)
	if n < min {
		n = min
	}
	if n > max {
		n = max
	}
	g.Budget = n
}
