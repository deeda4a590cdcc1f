package cardtable_test

import (
	"testing"

	"github.com/tracinggc/gcheap/cardtable"
)

func TestDirtyAndClear(t *testing.T) {
	const lowest, highest = 0x1000, 0x10000
	tbl := cardtable.New(lowest, highest)

	addr := uintptr(0x2040)
	if tbl.IsDirty(addr) {
		t.Fatalf("expected clean card before any write")
	}
	tbl.Dirty(addr)
	if !tbl.IsDirty(addr) {
		t.Fatalf("expected dirty card after Dirty")
	}
	tbl.Clear(tbl.CardOf(addr))
	if tbl.IsDirty(addr) {
		t.Fatalf("expected clean card after Clear")
	}
}

func TestDirtyOutOfRangeIgnored(t *testing.T) {
	tbl := cardtable.New(0x1000, 0x2000)
	tbl.Dirty(0xFFFF) // out of range, must not panic or affect in-range cards
	if tbl.IsDirty(0x1010) {
		t.Fatalf("out-of-range dirty must not bleed into range")
	}
}

func TestDirtyCardsIteration(t *testing.T) {
	tbl := cardtable.New(0x1000, 0x10000)
	tbl.Dirty(0x1200)
	tbl.Dirty(0x3400)

	var seen []uintptr
	tbl.DirtyCards(0x1000, 0x10000, func(base uintptr) {
		seen = append(seen, base)
	})
	if len(seen) != 2 {
		t.Fatalf("expected 2 dirty cards, got %d: %v", len(seen), seen)
	}
	// DirtyCards clears as it iterates (collector re-dirties survivors itself).
	if tbl.IsDirty(0x1200) || tbl.IsDirty(0x3400) {
		t.Fatalf("DirtyCards should clear cards it reports")
	}
}

func TestBarrierWriteDirtiesEphemeralTarget(t *testing.T) {
	tbl := cardtable.New(0x1000, 0x10000)
	tbl.SetEphemeralRange(0x1000, 0x5000)
	b := cardtable.NewBarrier(tbl)

	const fieldAddr = 0x1800
	b.Write(fieldAddr, 0, 0x1800) // new ref is within ephemeral range
	if !tbl.IsDirty(fieldAddr) {
		t.Fatalf("write_barrier must dirty the card covering an ephemeral reference")
	}
}

func TestBarrierWriteSkipsNonEphemeralTarget(t *testing.T) {
	tbl := cardtable.New(0x1000, 0x10000)
	tbl.SetEphemeralRange(0x1000, 0x2000)
	b := cardtable.NewBarrier(tbl)

	const fieldAddr = 0x1800
	b.Write(fieldAddr, 0, 0x9000) // mature target, not ephemeral
	if tbl.IsDirty(fieldAddr) {
		t.Fatalf("a reference into the mature generation must not dirty a card")
	}
}

type fakeMarker struct {
	inProgress bool
	pushed     []uintptr
}

func (f *fakeMarker) ConcurrentMarkInProgress() bool { return f.inProgress }
func (f *fakeMarker) PushSATB(old uintptr)           { f.pushed = append(f.pushed, old) }

func TestBarrierSATBPushDuringConcurrentMark(t *testing.T) {
	tbl := cardtable.New(0x1000, 0x10000)
	b := cardtable.NewBarrier(tbl)
	fm := &fakeMarker{inProgress: true}
	b.AttachMarker(fm)

	const fieldAddr = 0xAAA0
	b.Write(fieldAddr, 0xAAA0, 0xBBB0)
	if len(fm.pushed) != 1 || fm.pushed[0] != 0xAAA0 {
		t.Fatalf("expected SATB push of old value, got %v", fm.pushed)
	}
}

func TestSetCardsAfterBulkCopy(t *testing.T) {
	tbl := cardtable.New(0x1000, 0x10000)
	tbl.SetEphemeralRange(0, 0) // irrelevant for bulk copy, which dirties unconditionally
	b := cardtable.NewBarrier(tbl)

	b.SetCardsAfterBulkCopy(0x1000, 0x1000)
	count := 0
	tbl.DirtyCards(0x1000, 0x2000, func(uintptr) { count++ })
	if count == 0 {
		t.Fatalf("bulk copy must dirty every card in range")
	}
}

func TestWriteWatchEnabledOnlyWhileConcurrent(t *testing.T) {
	ww := cardtable.NewWriteWatch(0x1000)
	ww.Record(0x1100) // disabled: must be a no-op
	if len(ww.DrainDirty()) != 0 {
		t.Fatalf("write-watch must record nothing while disabled")
	}

	ww.Enable()
	ww.Record(0x1100)
	ww.Record(0x1100) // same page twice, should still be one entry
	dirty := ww.DrainDirty()
	if len(dirty) != 1 {
		t.Fatalf("expected 1 dirty page, got %d", len(dirty))
	}
	if len(ww.DrainDirty()) != 0 {
		t.Fatalf("DrainDirty must clear the set")
	}
}
