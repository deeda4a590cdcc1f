package heap

import "golang.org/x/sys/unix"

// OSMemory abstracts the virtual-memory service Reserve draws backing
// bytes from (§4.2.1's "RESERVED" transition). Grounded on the
// teacher's memsys.MMSA, which likewise hides the real allocation
// strategy (mmap'd slabs in production, plain slices under test)
// behind one small interface its callers never branch on.
type OSMemory interface {
	// Allocate returns size freshly zeroed bytes backing one segment.
	Allocate(size int64) ([]byte, error)
}

// Backing is the process-wide OSMemory every Reserve call draws from.
// Tests and the in-memory simulation this module runs under use
// simMemory; a VM embedding gcheap on a real OS can swap in
// unixMemory{} to back segments with genuine mmap'd pages instead of
// ordinary Go-heap slices.
var Backing OSMemory = simMemory{}

// simMemory backs segments with plain Go slices, standing in for a
// real virtual-address reservation (see Arena's doc comment).
type simMemory struct{}

func (simMemory) Allocate(size int64) ([]byte, error) {
	return make([]byte, size), nil
}

// unixMemory backs segments with real anonymous mmap'd pages via
// golang.org/x/sys/unix, the production counterpart to simMemory: a
// VM that wants segment memory to actually be demand-paged, protected,
// and returnable to the OS on decommit sets heap.Backing = unixMemory{}
// during gcheap.Initialize instead of running entirely in simulated
// memory.
type unixMemory struct{}

func (unixMemory) Allocate(size int64) ([]byte, error) {
	return unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

// Decommit releases physical pages backing buf back to the OS without
// unmapping the address range, the unixMemory analogue of the
// simulated arena's Zero (§4.2.1's COMMITTED -> RESERVED transition).
func (unixMemory) Decommit(buf []byte) error {
	return unix.Madvise(buf, unix.MADV_DONTNEED)
}

// Release unmaps buf entirely (§4.2.1's RESERVED -> absent transition).
func (unixMemory) Release(buf []byte) error {
	return unix.Munmap(buf)
}
