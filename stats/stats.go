// Package stats answers the §6.1 Query operations
// (get_total_bytes_in_use, get_gc_count, get_last_gc_start/duration) and
// gives cmd/gcstat a wire format to carry a point-in-time snapshot and a
// failure-history dump over.
//
// Grounded on api/utils.go's msgp.Decodable/DecodeMsg usage: that file
// calls v.(msgp.Decodable).DecodeMsg(r) against a msgp.Reader built over
// an HTTP response body. This package plays the other side of that
// contract by hand-implementing EncodeMsg/DecodeMsg (msgp code
// generation is not run as part of this module's build), since no
// generated _gen.go file ships in the retrieval pack to crib a shape
// from. FailureDump (dump.go) reuses the same hand-written codec for the
// `gcstat dump` payload, wrapped in cmn/jsp's compression/checksum
// envelope rather than jsp's own JSON encoding.
package stats

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/tracinggc/gcheap/collector"
	"github.com/tracinggc/gcheap/heap"
)

// GenSnapshot is one generation's point-in-time sizing, reported for
// each of gen0/gen1/gen2/LOH in a Snapshot.
type GenSnapshot struct {
	BytesInUse    int64
	LastGCStart   int64 // nanoseconds, monotonic (cmn.MonoNow epoch)
	LastGCDurNano int64
}

// Snapshot answers §6.1's get_total_bytes_in_use/get_gc_count/
// get_last_gc_start/duration(gen) in one shot, as the payload the
// cmd/gcstat "stats" subcommand prints and "dump" persists.
type Snapshot struct {
	TotalBytesInUse int64
	GCCount         int64
	Gens            [3]GenSnapshot // indexed by heap.GenKind
}

// Tracker accumulates Snapshot state across collector.Cycle.Run calls;
// the facade package feeds it one collector.Stats per completed cycle.
type Tracker struct {
	gcCount int64
	gens    [3]GenSnapshot
}

func NewTracker() *Tracker { return &Tracker{} }

// Observe folds one completed cycle's collector.Stats into the running
// totals (§6.1 get_last_gc_start/duration(gen) tracks the most recent
// cycle that condemned each generation).
func (t *Tracker) Observe(s collector.Stats, startNano, durationNano int64) {
	t.gcCount++
	g := &t.gens[s.Gen]
	g.LastGCStart = startNano
	g.LastGCDurNano = durationNano
}

// Snapshot reports the current totals. h supplies the live bytes-in-use
// figure, which the Tracker itself does not track (it only has
// reclaimed/surveyed deltas per cycle, not a running live total).
func (t *Tracker) Snapshot(h *heap.Heap) Snapshot {
	snap := Snapshot{GCCount: t.gcCount, Gens: t.gens}
	for _, seg := range []struct {
		gen heap.GenKind
		lo  func() (uintptr, uintptr)
	}{
		{heap.Gen0, h.Ephemeral.Bounds},
		{heap.Gen2, h.Gen2.Segments.Bounds},
	} {
		lo, hi := seg.lo()
		if hi > lo {
			snap.Gens[seg.gen].BytesInUse = int64(hi - lo)
			snap.TotalBytesInUse += int64(hi - lo)
		}
	}
	if lo, hi := h.LOH.Segments.Bounds(); hi > lo {
		snap.TotalBytesInUse += int64(hi - lo)
	}
	return snap
}

// GCCount reports get_gc_count().
func (t *Tracker) GCCount() int64 { return t.gcCount }

// LastGCStart/LastGCDuration report get_last_gc_start/duration(gen).
func (t *Tracker) LastGCStart(gen heap.GenKind) int64    { return t.gens[gen].LastGCStart }
func (t *Tracker) LastGCDuration(gen heap.GenKind) int64 { return t.gens[gen].LastGCDurNano }

// EncodeMsg implements msgp.Encodable by hand, matching the
// field-by-field map encoding a generated _gen.go would produce: a
// top-level map with keys "total", "gc_count", and "gens" (a
// fixed-length array of three per-generation maps).
func (s *Snapshot) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteMapHeader(3); err != nil {
		return err
	}
	if err := w.WriteString("total"); err != nil {
		return err
	}
	if err := w.WriteInt64(s.TotalBytesInUse); err != nil {
		return err
	}
	if err := w.WriteString("gc_count"); err != nil {
		return err
	}
	if err := w.WriteInt64(s.GCCount); err != nil {
		return err
	}
	if err := w.WriteString("gens"); err != nil {
		return err
	}
	if err := w.WriteArrayHeader(uint32(len(s.Gens))); err != nil {
		return err
	}
	for _, g := range s.Gens {
		if err := g.encodeMsg(w); err != nil {
			return err
		}
	}
	return nil
}

func (g GenSnapshot) encodeMsg(w *msgp.Writer) error {
	if err := w.WriteMapHeader(3); err != nil {
		return err
	}
	if err := w.WriteString("bytes_in_use"); err != nil {
		return err
	}
	if err := w.WriteInt64(g.BytesInUse); err != nil {
		return err
	}
	if err := w.WriteString("last_start"); err != nil {
		return err
	}
	if err := w.WriteInt64(g.LastGCStart); err != nil {
		return err
	}
	if err := w.WriteString("last_dur"); err != nil {
		return err
	}
	return w.WriteInt64(g.LastGCDurNano)
}

// DecodeMsg implements msgp.Decodable by hand, the mirror of EncodeMsg.
func (s *Snapshot) DecodeMsg(r *msgp.Reader) error {
	n, err := r.ReadMapHeader()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return err
		}
		switch key {
		case "total":
			if s.TotalBytesInUse, err = r.ReadInt64(); err != nil {
				return err
			}
		case "gc_count":
			if s.GCCount, err = r.ReadInt64(); err != nil {
				return err
			}
		case "gens":
			arrLen, err := r.ReadArrayHeader()
			if err != nil {
				return err
			}
			for j := uint32(0); j < arrLen && j < uint32(len(s.Gens)); j++ {
				if err := s.Gens[j].decodeMsg(r); err != nil {
					return err
				}
			}
		default:
			if err := r.Skip(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *GenSnapshot) decodeMsg(r *msgp.Reader) error {
	n, err := r.ReadMapHeader()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return err
		}
		switch key {
		case "bytes_in_use":
			if g.BytesInUse, err = r.ReadInt64(); err != nil {
				return err
			}
		case "last_start":
			if g.LastGCStart, err = r.ReadInt64(); err != nil {
				return err
			}
		case "last_dur":
			if g.LastGCDurNano, err = r.ReadInt64(); err != nil {
				return err
			}
		default:
			if err := r.Skip(); err != nil {
				return err
			}
		}
	}
	return nil
}
