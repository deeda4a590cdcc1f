// Package handle implements the §3.7/§6.2 handle table: the GC↔VM root
// enumeration contract for strong, pinned, weak, and dependent handles.
// Grounded on the teacher's xaction/registry package: a mutex-guarded map
// from small integer ids to entries, with a generation counter used to
// detect stale ids, mirroring registry.go's entry bookkeeping for running
// xactions.
package handle

import (
	"sync"
)

// Kind is the handle strength (§6.2's "Handle-table root enumeration
// (strong, pinned, dependent, weak — weak handled after marking)").
type Kind int

const (
	Strong Kind = iota
	Pinned
	Weak
	Dependent
)

func (k Kind) String() string {
	switch k {
	case Strong:
		return "strong"
	case Pinned:
		return "pinned"
	case Weak:
		return "weak"
	case Dependent:
		return "dependent"
	default:
		return "unknown"
	}
}

// Handle is an opaque id into a Table, analogous to heap.Ref but for
// roots rather than heap objects.
type Handle uintptr

const Invalid Handle = 0

type entry struct {
	kind      Kind
	target    uintptr
	secondary uintptr // dependent handles' secondary object, else 0
	freed     bool
}

// Table is the process-wide (or per-heap-instance, in server mode)
// handle table.
type Table struct {
	mu      sync.Mutex
	entries map[Handle]*entry
	next    Handle
}

func NewTable() *Table {
	return &Table{entries: make(map[Handle]*entry), next: 1}
}

func (t *Table) alloc(kind Kind, target, secondary uintptr) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.next
	t.next++
	t.entries[h] = &entry{kind: kind, target: target, secondary: secondary}
	return h
}

func (t *Table) NewStrong(target uintptr) Handle    { return t.alloc(Strong, target, 0) }
func (t *Table) NewPinned(target uintptr) Handle     { return t.alloc(Pinned, target, 0) }
func (t *Table) NewWeak(target uintptr) Handle       { return t.alloc(Weak, target, 0) }
func (t *Table) NewDependent(primary, secondary uintptr) Handle {
	return t.alloc(Dependent, primary, secondary)
}

// Free releases h. Freeing an already-freed or unknown handle is a no-op,
// mirroring registry.go's tolerance of double-unregister during shutdown
// races.
func (t *Table) Free(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[h]; ok {
		e.freed = true
		delete(t.entries, h)
	}
}

// Get returns the current target of h, or (0, false) if h is invalid or
// has been freed. A weak handle whose target died stays valid and
// returns (0, true).
func (t *Table) Get(h Handle) (uintptr, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok || e.freed {
		return 0, false
	}
	return e.target, true
}

// UpdateTarget rewrites h's target, used by the collector's relocate
// phase (I4) to keep handle roots pointing at a moved survivor.
func (t *Table) UpdateTarget(h Handle, newTarget uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[h]; ok {
		e.target = newTarget
	}
}

// EnumerateRoots calls fn for every handle of the given kinds, in the
// order §4.4.2 phase 2 requires: strong and pinned and dependent handles
// are roots during ordinary marking; weak handles are visited only after
// marking completes, by a separate pass that clears dead ones (see
// ClearDeadWeak).
func (t *Table) EnumerateRoots(kinds []Kind, fn func(h Handle, target uintptr, kind Kind)) {
	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	t.mu.Lock()
	snapshot := make([]struct {
		h Handle
		e entry
	}, 0, len(t.entries))
	for h, e := range t.entries {
		if want[e.kind] {
			snapshot = append(snapshot, struct {
				h Handle
				e entry
			}{h, *e})
		}
	}
	t.mu.Unlock()
	for _, s := range snapshot {
		fn(s.h, s.e.target, s.e.kind)
	}
}

// ClearDeadWeak zeroes out every weak handle whose target fails isLive,
// run by the collector after marking completes (§6.2).
func (t *Table) ClearDeadWeak(isLive func(target uintptr) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.kind == Weak && e.target != 0 && !isLive(e.target) {
			e.target = 0
		}
	}
}

// Count reports the number of live handles of each kind, for diagnostics.
func (t *Table) Count() map[Kind]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := make(map[Kind]int)
	for _, e := range t.entries {
		counts[e.kind]++
	}
	return counts
}
