package gcheap

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/tracinggc/gcheap/alloc"
	"github.com/tracinggc/gcheap/bgc"
	"github.com/tracinggc/gcheap/cmn"
	"github.com/tracinggc/gcheap/collector"
	"github.com/tracinggc/gcheap/finalizer"
	"github.com/tracinggc/gcheap/handle"
	"github.com/tracinggc/gcheap/heap"
	"github.com/tracinggc/gcheap/stats"
)

const failureHistoryCapacity = 64

// memRegion is the plain-Go-memory Region gen2/LOH free lists are built
// over, standing in for a real mmap'd backing store (see heap.Arena's
// doc comment).
type memRegion struct {
	mu    sync.Mutex
	words map[uintptr]uintptr
}

func newMemRegion() *memRegion { return &memRegion{words: make(map[uintptr]uintptr)} }

func (m *memRegion) ReadWord(addr uintptr) uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.words[addr]
}

func (m *memRegion) WriteWord(addr uintptr, v uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.words[addr] = v
}

// GC is the process-wide façade (§6.3's heap_singleton) bundling every
// leaf package into the single object the §6.1 operation table is a
// method set of.
type GC struct {
	mu sync.Mutex

	cb  Callbacks
	cfg *cmn.Config

	h       *heap.Heap
	handles *handle.Table
	fin     *finalizer.Queue
	global  *alloc.Global

	cycle   *collector.Cycle
	noGC    collector.NoGCRegion
	history *collector.FailureHistory
	notify  *notifyState

	tracker *stats.Tracker
	gcIndex int64

	bgcCycle *bgc.Cycle
	dumper   *collector.SegmentDumper
}

// heapSingleton is the §6.3 process-wide instance, published by
// Initialize and read by every package-level convenience function below.
var (
	singletonMu sync.Mutex
	heapSingleton *GC
)

// Initialize implements §6.1's initialize(vm_callbacks) → status: it
// acquires the simulated OS resources (segment arenas), wires cb, and
// publishes lowest/highest_address, card_table, and ephemeral_low/high
// to the VM via the barrier-stomp callbacks.
func Initialize(cb Callbacks) (*GC, error) {
	if cb == nil {
		cb = noopCallbacks{}
	}
	// Lowest-to-highest precedence: built-in defaults, environment
	// overrides, an optional config file the VM points us at, then the
	// VM's own Callbacks config reads (applyCallbackConfig) last.
	if err := cmn.GCO.LoadEnv(); err != nil {
		return nil, cmn.NewInitializationFailure(err)
	}
	if path, ok := cb.ConfigString("GCConfigFile"); ok && path != "" {
		var loadErr error
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			loadErr = cmn.GCO.LoadYAML(path)
		default:
			loadErr = cmn.GCO.LoadJSON(path)
		}
		if loadErr != nil {
			return nil, cmn.NewInitializationFailure(loadErr)
		}
	}

	cfg := *cmn.GCO.Get()
	applyCallbackConfig(&cfg, cb)
	if err := cmn.GCO.Put(&cfg); err != nil {
		return nil, cmn.NewInitializationFailure(err)
	}

	h := heap.NewHeap(cmn.GCO.Get(), 0, 1<<40, newMemRegion(), newMemRegion())
	handles := handle.NewTable()
	fin := finalizer.NewQueue()
	history, err := collector.NewFailureHistory(failureHistoryCapacity)
	if err != nil {
		return nil, cmn.NewInitializationFailure(err)
	}

	gc := &GC{
		cb:      cb,
		cfg:     cmn.GCO.Get(),
		h:       h,
		handles: handles,
		fin:     fin,
		global:  alloc.NewGlobal(h),
		cycle:   collector.NewCycle(h, handles, h.Types, fin),
		history: history,
		notify:  newNotifyState(),
		tracker: stats.NewTracker(),
	}
	gc.bgcCycle = bgc.NewCycle(h, handles, h.Types, gc.cycle)
	if gc.cfg.StressHeap {
		dir := gc.cfg.StressHeapDumpDir
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "gcheap-stress")
		}
		gc.dumper = collector.NewSegmentDumper(dir)
		gc.cycle.SetDumper(gc.dumper)
	}
	publishBounds(h, cb)
	glog.Infof("gcheap: initialized (ServerGC=%v ConcurrentGC=%v)", gc.cfg.ServerGC, gc.cfg.ConcurrentGC)

	singletonMu.Lock()
	heapSingleton = gc
	singletonMu.Unlock()
	return gc, nil
}

// Instance returns the process-wide GC published by the most recent
// Initialize call, or nil if none has run yet.
func Instance() *GC {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	return heapSingleton
}

// Heap exposes the underlying heap.Heap for diagnostic tooling
// (cmd/gcstat) that needs direct segment-level introspection beyond the
// §6.1 query surface.
func (g *GC) Heap() *heap.Heap { return g.h }

// Types exposes the heap's TypeTable so a VM registers its type
// descriptors once at startup.
func (g *GC) Types() *heap.TypeTable { return g.h.Types }

// runBGC drives one full background collection synchronously, used by
// Collect for a gen-2 request in any mode other than ModeCompacting when
// cfg.ConcurrentGC is set (§4.6).
func (g *GC) runBGC() (reclaimed, surveyed int64) {
	return g.bgcCycle.Run()
}

// BGCState reports the background collector's current phase (§4.6),
// for a diagnostic tool polling gcstat watch-style rather than driving
// a collection itself.
func (g *GC) BGCState() bgc.State {
	return g.bgcCycle.Machine().State()
}
