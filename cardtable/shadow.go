package cardtable

import (
	"sync"

	"github.com/tracinggc/gcheap/cmn/debug"
)

// ShadowHeap mirrors every managed-heap write to a shadow region so the
// collector can verify at safepoints that shadow and heap agree, catching
// missed or buggy barriers (§4.5.4, I6). Compiled in behind cmn/debug's
// Enabled flag (the "debug" build tag) — in a release build ShadowHeap's
// methods are cheap no-ops so call sites don't need their own build tags.
type ShadowHeap struct {
	mu     sync.Mutex
	mirror map[uintptr]uintptr // field address -> last written value
}

func NewShadowHeap() *ShadowHeap {
	return &ShadowHeap{mirror: make(map[uintptr]uintptr)}
}

// Mirror records a write for later verification. Only does real work when
// cmn/debug.Enabled, since shadowing every write is far too slow for a
// release build.
func (s *ShadowHeap) Mirror(fieldAddr, value uintptr) {
	if !debug.Enabled {
		return
	}
	s.mu.Lock()
	s.mirror[fieldAddr] = value
	s.mu.Unlock()
}

// Verify checks that liveFn(fieldAddr) — the real heap's current value at
// fieldAddr — matches what was last mirrored. Called at safepoints (I6).
// Returns the first mismatching field address found, or ok=true if none.
func (s *ShadowHeap) Verify(liveFn func(fieldAddr uintptr) uintptr) (mismatch uintptr, ok bool) {
	if !debug.Enabled {
		return 0, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, want := range s.mirror {
		if got := liveFn(addr); got != want {
			return addr, false
		}
	}
	return 0, true
}

// Forget drops a mirrored field, e.g. when its object is collected and the
// address range may be reused for an unrelated free-list entry.
func (s *ShadowHeap) Forget(fieldAddr uintptr) {
	if !debug.Enabled {
		return
	}
	s.mu.Lock()
	delete(s.mirror, fieldAddr)
	s.mu.Unlock()
}
