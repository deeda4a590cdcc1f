package handle_test

import (
	"testing"

	"github.com/tracinggc/gcheap/handle"
)

func TestStrongHandleRoundTrip(t *testing.T) {
	tbl := handle.NewTable()
	h := tbl.NewStrong(0x1000)
	target, ok := tbl.Get(h)
	if !ok || target != 0x1000 {
		t.Fatalf("expected (0x1000, true), got (%#x, %v)", target, ok)
	}
	tbl.Free(h)
	if _, ok := tbl.Get(h); ok {
		t.Fatalf("freed handle must no longer resolve")
	}
}

func TestEnumerateRootsFiltersByKind(t *testing.T) {
	tbl := handle.NewTable()
	strong := tbl.NewStrong(0x1000)
	pinned := tbl.NewPinned(0x2000)
	weak := tbl.NewWeak(0x3000)

	var seen []handle.Handle
	tbl.EnumerateRoots([]handle.Kind{handle.Strong, handle.Pinned}, func(h handle.Handle, target uintptr, kind handle.Kind) {
		seen = append(seen, h)
	})
	if len(seen) != 2 {
		t.Fatalf("expected 2 roots (strong+pinned), got %d", len(seen))
	}
	for _, h := range seen {
		if h == weak {
			t.Fatalf("weak handle must not be enumerated as an ordinary root")
		}
	}
	_ = strong
	_ = pinned
}

func TestClearDeadWeak(t *testing.T) {
	tbl := handle.NewTable()
	w := tbl.NewWeak(0x4000)
	tbl.ClearDeadWeak(func(target uintptr) bool { return false })
	target, ok := tbl.Get(w)
	if !ok || target != 0 {
		t.Fatalf("dead weak handle must resolve to the zero target, got (%#x, %v)", target, ok)
	}
}

func TestUpdateTargetAfterRelocate(t *testing.T) {
	tbl := handle.NewTable()
	h := tbl.NewStrong(0x1000)
	tbl.UpdateTarget(h, 0x9000)
	target, ok := tbl.Get(h)
	if !ok || target != 0x9000 {
		t.Fatalf("expected relocated target 0x9000, got (%#x, %v)", target, ok)
	}
}
