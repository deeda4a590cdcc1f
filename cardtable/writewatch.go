package cardtable

import (
	"sync"

	metro "github.com/dgryski/go-metro"
)

// pageShift matches a conservative 4KiB OS page; write-watch is
// page-granularity by design (§4.5.3), coarser than the card table.
const pageShift = 12

// WriteWatch is the optional parallel byte-table recording dirty pages,
// used "in lieu of card bytes when the concurrent collector needs
// page-granularity dirtiness over a large range" (§4.5.3). Unlike Table,
// which is one flat array, WriteWatch shards its dirty set across buckets
// hashed with go-metro (distinct from the xxhash used by heap's frozen-set
// lookup, so the two tables' hot paths don't share a hash function and
// can't pathologically collide together). A single mutex guards every
// shard, so concurrent mutators dirtying pages still serialize on it.
type WriteWatch struct {
	mu      sync.Mutex
	enabled bool
	lowest  uintptr
	shards  []map[uintptr]struct{}
}

const numShards = 64

func NewWriteWatch(lowest uintptr) *WriteWatch {
	w := &WriteWatch{lowest: lowest, shards: make([]map[uintptr]struct{}, numShards)}
	for i := range w.shards {
		w.shards[i] = make(map[uintptr]struct{})
	}
	return w
}

func (w *WriteWatch) shardFor(page uintptr) int {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(page >> (8 * i))
	}
	return int(metro.Hash64(buf[:], 0) % uint64(numShards))
}

// Enable is called by bgc on entering ResetWriteWatch (§4.6): the table is
// "enabled only while the concurrent collector is running" (§4.5.3).
func (w *WriteWatch) Enable() {
	w.mu.Lock()
	w.enabled = true
	for i := range w.shards {
		w.shards[i] = make(map[uintptr]struct{})
	}
	w.mu.Unlock()
}

// Disable is called when BGC completes.
func (w *WriteWatch) Disable() {
	w.mu.Lock()
	w.enabled = false
	w.mu.Unlock()
}

func (w *WriteWatch) Enabled() bool {
	w.mu.Lock()
	e := w.enabled
	w.mu.Unlock()
	return e
}

// Record notes that addr's page was written. A no-op when disabled, so a
// mutator's write barrier can call this unconditionally without branching
// on BGC state beyond Enabled()'s own cheap check.
func (w *WriteWatch) Record(addr uintptr) {
	if !w.Enabled() {
		return
	}
	page := (addr - w.lowest) >> pageShift
	shard := w.shardFor(page)
	w.mu.Lock()
	w.shards[shard][page] = struct{}{}
	w.mu.Unlock()
}

// DrainDirty returns and clears the set of dirty page indices accumulated
// since the last DrainDirty, implementing "read and cleared in bulk by the
// collector" (§4.5.3). Called at RevisitSOH/RevisitLOH (§4.6).
func (w *WriteWatch) DrainDirty() []uintptr {
	w.mu.Lock()
	defer w.mu.Unlock()
	var pages []uintptr
	for _, shard := range w.shards {
		for page := range shard {
			pages = append(pages, w.lowest+page<<pageShift)
		}
	}
	for i := range w.shards {
		w.shards[i] = make(map[uintptr]struct{})
	}
	return pages
}
