package gcheap

import (
	"github.com/tracinggc/gcheap/cmn"
	"github.com/tracinggc/gcheap/collector"
)

// wrapOOM classifies a lower-level allocation error into the §7 OOM
// taxonomy and records a FailureRecord so `gcstat dump` can reconstruct
// the failure later. A segment-reservation error is treated as
// OutOfMemory-CantReserve (the only failure mode this module's simulated
// arena-backed segments can actually produce); a real mmap-backed
// implementation would additionally distinguish CantCommit from
// CantReserve based on which OS call failed.
func (g *GC) wrapOOM(cause error, size int64) error {
	kind := cmn.OOMCantReserve
	g.mu.Lock()
	idx := g.gcIndex
	g.mu.Unlock()
	oom := cmn.NewOutOfMemoryError(kind, size, idx)
	_ = g.history.Record(collector.FailureRecord{
		Reason:        kind.String(),
		AttemptedSize: size,
		GCIndex:       idx,
		Size:          size,
	})
	return oom
}
