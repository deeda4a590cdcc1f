package stats_test

import (
	"bytes"
	"testing"

	"github.com/tinylib/msgp/msgp"

	"github.com/tracinggc/gcheap/alloc"
	"github.com/tracinggc/gcheap/cmn"
	"github.com/tracinggc/gcheap/collector"
	"github.com/tracinggc/gcheap/finalizer"
	"github.com/tracinggc/gcheap/handle"
	"github.com/tracinggc/gcheap/heap"
	"github.com/tracinggc/gcheap/stats"
)

type memRegion struct{ words map[uintptr]uintptr }

func newMemRegion() *memRegion { return &memRegion{words: make(map[uintptr]uintptr)} }
func (m *memRegion) ReadWord(addr uintptr) uintptr     { return m.words[addr] }
func (m *memRegion) WriteWord(addr uintptr, v uintptr) { m.words[addr] = v }

func newTestHeap(t *testing.T) *heap.Heap {
	t.Helper()
	cfg := cmn.DefaultConfig()
	return heap.NewHeap(cfg, 0, 1<<40, newMemRegion(), newMemRegion())
}

// TestTrackerObservesCompletedCycles exercises get_gc_count and
// get_last_gc_start/duration(gen): two blocking gen-0 cycles must leave
// GCCount at 2 and LastGCStart/LastGCDuration reflecting the second.
func TestTrackerObservesCompletedCycles(t *testing.T) {
	h := newTestHeap(t)
	handles := handle.NewTable()
	fin := finalizer.NewQueue()
	cycle := collector.NewCycle(h, handles, h.Types, fin)
	tr := stats.NewTracker()

	s1 := cycle.Run(heap.Gen0, collector.TriggerExplicit, collector.ModeBlocking, 100)
	tr.Observe(s1, 100, 10)
	s2 := cycle.Run(heap.Gen0, collector.TriggerExplicit, collector.ModeBlocking, 200)
	tr.Observe(s2, 200, 20)

	if got := tr.GCCount(); got != 2 {
		t.Fatalf("GCCount: got %d, want 2", got)
	}
	if got := tr.LastGCStart(heap.Gen0); got != 200 {
		t.Fatalf("LastGCStart(Gen0): got %d, want 200", got)
	}
	if got := tr.LastGCDuration(heap.Gen0); got != 20 {
		t.Fatalf("LastGCDuration(Gen0): got %d, want 20", got)
	}
}

// TestSnapshotTotalBytesInUse exercises get_total_bytes_in_use: after an
// allocation, the snapshot's TotalBytesInUse must be positive.
func TestSnapshotTotalBytesInUse(t *testing.T) {
	h := newTestHeap(t)
	ctx := alloc.NewContext(h)
	if _, err := ctx.Allocate(64, 0); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	ctx.FixAllocContext()

	tr := stats.NewTracker()
	snap := tr.Snapshot(h)
	if snap.TotalBytesInUse <= 0 {
		t.Fatalf("expected a positive total bytes in use, got %d", snap.TotalBytesInUse)
	}
}

// TestSnapshotMsgPackRoundTrip exercises the hand-written EncodeMsg/
// DecodeMsg pair against the msgp.Writer/msgp.Reader this module's
// remote-query protocol uses (mirroring api/utils.go's
// msgp.Decodable.DecodeMsg(r) call against an msgp.Reader).
func TestSnapshotMsgPackRoundTrip(t *testing.T) {
	want := stats.Snapshot{
		TotalBytesInUse: 4096,
		GCCount:         3,
		Gens: [3]stats.GenSnapshot{
			{BytesInUse: 1024, LastGCStart: 10, LastGCDurNano: 1},
			{BytesInUse: 2048, LastGCStart: 20, LastGCDurNano: 2},
			{BytesInUse: 1024, LastGCStart: 30, LastGCDurNano: 3},
		},
	}

	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := want.EncodeMsg(w); err != nil {
		t.Fatalf("EncodeMsg: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var got stats.Snapshot
	r := msgp.NewReader(&buf)
	if err := got.DecodeMsg(r); err != nil {
		t.Fatalf("DecodeMsg: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

// TestDumpRoundTrip exercises the jsp-backed FailureDump path
// (`gcstat dump --zstd`).
func TestDumpRoundTrip(t *testing.T) {
	want := stats.FailureDump{
		Snapshot: stats.Snapshot{TotalBytesInUse: 128, GCCount: 1},
		Failures: []collector.FailureRecord{
			{Reason: "OutOfMemory-Budget", AttemptedSize: 4096, GCIndex: 1},
		},
	}
	for _, compress := range []bool{false, true} {
		var buf bytes.Buffer
		if err := stats.WriteDump(&buf, want, compress); err != nil {
			t.Fatalf("WriteDump(compress=%v): %v", compress, err)
		}
		got, err := stats.ReadDump(&buf, compress, "test")
		if err != nil {
			t.Fatalf("ReadDump(compress=%v): %v", compress, err)
		}
		if len(got.Failures) != 1 || got.Failures[0].Reason != want.Failures[0].Reason {
			t.Fatalf("ReadDump(compress=%v) mismatch: %+v", compress, got)
		}
	}
}
