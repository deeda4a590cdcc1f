package gcheap

import (
	"io"

	"github.com/tracinggc/gcheap/collector"
	"github.com/tracinggc/gcheap/stats"
)

// DumpFromSnapshot assembles a stats.FailureDump from a prior
// Snapshot() and FailureHistory() call, the input gcstat dump writes
// to disk.
func DumpFromSnapshot(snap stats.Snapshot, failures []collector.FailureRecord) stats.FailureDump {
	return stats.FailureDump{Snapshot: snap, Failures: failures}
}

// WriteDump implements §6.5's `gcstat dump --zstd`.
func WriteDump(w io.Writer, dump stats.FailureDump, compress bool) error {
	return stats.WriteDump(w, dump, compress)
}

// ReadDump is WriteDump's inverse.
func ReadDump(r io.Reader, compress bool, tag string) (stats.FailureDump, error) {
	return stats.ReadDump(r, compress, tag)
}

// ListStressDumps lists the per-segment StressHeap dumps written to
// Config.StressHeapDumpDir by the collector's SegmentDumper, for a
// diagnostic tool walking accumulated snapshots (§6.4's StressHeap
// surface). Returns (nil, nil) if StressHeap was never enabled.
func (g *GC) ListStressDumps() ([]string, error) {
	g.mu.Lock()
	d := g.dumper
	g.mu.Unlock()
	if d == nil {
		return nil, nil
	}
	return d.ListDumps()
}
