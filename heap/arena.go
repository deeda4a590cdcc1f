// Package heap implements the §4.2 segmented heap: the small-object heap
// with generations 0/1/2, the large-object heap, segment lifecycle
// (reserve/commit/decommit/release), and frozen-segment registration.
//
// Grounded on the teacher's memsys.MMSA/Slab (a pool of same-shaped,
// reusable byte regions with a grow-on-demand policy) for the general
// shape of "own a set of byte regions and hand out pieces of them", and on
// fs/mountfs.go's MountedFS (a copy-on-write, atomically-swapped list of
// mount points, read lock-free by many goroutines and mutated under a
// single mutex by Add/Remove) for the segment-list lifecycle: segments are
// "mountpaths" for managed objects instead of mountpaths for a local
// filesystem, and joining/leaving the segment list follows the exact same
// copy-on-write discipline.
package heap

import (
	"encoding/binary"
)

// wordSize is the machine word width this design assumes throughout:
// mark/forward words, free-list links, and header fields are all one word.
const wordSize = 8

// Arena is a segment's backing bytes: "Segments own their bytes via an
// arena abstraction; objects are addresses into arena validated by
// is_heap_pointer" (design notes §9). An Arena implements freelist.Region
// so the same bytes serve both live objects and, after sweep, free-list
// nodes.
type Arena struct {
	base  uintptr // the address the first byte of buf represents
	buf   []byte
}

// NewArena wraps buf as an arena whose addresses start at base. Reserve
// passes bytes from heap.Backing, which by default is ordinary Go-heap
// memory standing in for a real mmap'd virtual-address reservation (see
// osmemory.go).
func NewArena(base uintptr, buf []byte) *Arena {
	return &Arena{base: base, buf: buf}
}

func (a *Arena) Base() uintptr { return a.base }
func (a *Arena) End() uintptr  { return a.base + uintptr(len(a.buf)) }
func (a *Arena) Len() int      { return len(a.buf) }

// Contains reports whether addr falls inside this arena's committed bytes.
func (a *Arena) Contains(addr uintptr) bool {
	return addr >= a.base && addr < a.End()
}

func (a *Arena) offset(addr uintptr) int { return int(addr - a.base) }

// ReadWord/WriteWord implement freelist.Region: a free block's next/undo
// links live at byte offsets 0 and wordSize within the block.
func (a *Arena) ReadWord(addr uintptr) uintptr {
	off := a.offset(addr)
	return uintptr(binary.LittleEndian.Uint64(a.buf[off : off+wordSize]))
}

func (a *Arena) WriteWord(addr uintptr, v uintptr) {
	off := a.offset(addr)
	binary.LittleEndian.PutUint64(a.buf[off:off+wordSize], uint64(v))
}

// Zero clears [addr, addr+n) — used to zero-initialize a freshly allocated
// object (§4.1 "pointer to a zero-initialized object") and to scrub a
// region turned into a filler object.
func (a *Arena) Zero(addr uintptr, n int64) {
	off := a.offset(addr)
	for i := int64(0); i < n; i++ {
		a.buf[off+int(i)] = 0
	}
}

// Slice exposes the raw bytes of [addr, addr+n) for payload-level access by
// the embedding VM (gcheap never interprets payload bytes itself, per
// §3.1: "The collector never inspects payload bytes directly").
func (a *Arena) Slice(addr uintptr, n int64) []byte {
	off := a.offset(addr)
	return a.buf[off : off+int(n)]
}
