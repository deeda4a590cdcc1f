package cmn

import (
	"io/ioutil"
	"os"
	"strconv"
	"sync/atomic"
	"unsafe"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v2"
)

// GCLatencyMode enumerates §6.4's GCLatencyMode values.
type GCLatencyMode int

const (
	LatencyInteractive GCLatencyMode = iota
	LatencyBatch
	LatencyLowLatency
	LatencySustainedLowLatency
	LatencyNoGC
)

// LOHCompactionMode enumerates §6.4's LOHCompactionMode values.
type LOHCompactionMode int

const (
	LOHCompactNever LOHCompactionMode = iota
	LOHCompactOnce
	LOHCompactEveryBlockingGen2
)

const (
	minHeapSegmentSize = 4 * MiB
	defaultSegmentSize = 16 * MiB
)

// Config is the recognized §6.4 configuration surface. A Config value is
// always treated as immutable once published via GCO.Put: readers that hold
// a pointer never see a torn or half-updated config.
type Config struct {
	ServerGC          bool
	ConcurrentGC      bool
	GCNumaAware       bool
	GCCpuGroup        bool
	LOHCompactionMode LOHCompactionMode
	GCLatencyMode     GCLatencyMode
	HeapSegmentSize   int64
	GCHeapHardLimit   int64
	StressHeap        bool
	StressHeapDumpDir string
}

// DefaultConfig returns the §6.4 defaults.
func DefaultConfig() *Config {
	return &Config{
		ServerGC:          false,
		ConcurrentGC:      true,
		GCNumaAware:       true,
		GCCpuGroup:        false,
		LOHCompactionMode: LOHCompactNever,
		GCLatencyMode:     LatencyInteractive,
		HeapSegmentSize:   defaultSegmentSize,
		GCHeapHardLimit:   0,
		StressHeap:        false,
		StressHeapDumpDir: "",
	}
}

// validate rejects obviously invalid values per the §9 Open Question:
// "choose conservative defaults and reject obviously invalid values
// (negative sizes, non-power-of-two alignments) at initialization."
func (c *Config) validate() error {
	if c.HeapSegmentSize < minHeapSegmentSize {
		return NewInvalidConfigError("HeapSegmentSize", "must be >= 4MiB")
	}
	if c.HeapSegmentSize%MiB != 0 {
		return NewInvalidConfigError("HeapSegmentSize", "must be 1-MiB aligned")
	}
	if c.GCHeapHardLimit < 0 {
		return NewInvalidConfigError("GCHeapHardLimit", "must be non-negative")
	}
	return nil
}

type InvalidConfigError struct {
	Key    string
	Reason string
}

func (e *InvalidConfigError) Error() string { return e.Key + ": " + e.Reason }

func NewInvalidConfigError(key, reason string) *InvalidConfigError {
	return &InvalidConfigError{Key: key, Reason: reason}
}

// gcConfigOwner ("GCO") is the process-wide holder of the current immutable
// *Config snapshot, grounded on aistore's cmn.GCO.Get() singleton visible
// throughout lru.go and fs/mountfs.go. Updates are copy-on-write: a writer
// builds a brand-new *Config and atomically swaps the pointer; readers never
// take a lock.
type gcConfigOwner struct {
	ptr unsafe.Pointer // *Config
}

// GCO is the process-wide config owner (§6.3 process-wide state surface).
var GCO = &gcConfigOwner{}

func init() {
	GCO.Put(DefaultConfig())
}

// Get returns the current config snapshot. Safe to call from any thread,
// including from inlined mutator fast paths, without locking.
func (o *gcConfigOwner) Get() *Config {
	return (*Config)(atomic.LoadPointer(&o.ptr))
}

// Put atomically publishes a new config snapshot after validating it.
// A required-key validation failure is fatal to initialization per §7's
// "Configuration parse errors during init ... abort initialization
// (required keys)"; HeapSegmentSize and GCHeapHardLimit are required keys
// here because a collector cannot run without sane segment sizing.
func (o *gcConfigOwner) Put(c *Config) error {
	if err := c.validate(); err != nil {
		return err
	}
	atomic.StorePointer(&o.ptr, unsafe.Pointer(c))
	return nil
}

// LoadEnv overlays environment-variable overrides onto a copy of the
// current config and republishes it. Numeric/bool keys that fail to parse
// fall back to the existing value (§7: "fall back to defaults"); they are
// not required keys.
func (o *gcConfigOwner) LoadEnv() error {
	cur := *o.Get()
	if v := os.Getenv("GC_SERVER_GC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cur.ServerGC = b
		}
	}
	if v := os.Getenv("GC_CONCURRENT_GC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cur.ConcurrentGC = b
		}
	}
	if v := os.Getenv("GC_HEAP_SEGMENT_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cur.HeapSegmentSize = n
		}
	}
	if v := os.Getenv("GC_HEAP_HARD_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cur.GCHeapHardLimit = n
		}
	}
	return o.Put(&cur)
}

// LoadJSON overlays a JSON config file onto a copy of the current config,
// using gjson for targeted key extraction (no full unmarshal, so an
// unrecognized key in the file is silently ignored rather than rejected).
func (o *gcConfigOwner) LoadJSON(path string) error {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}
	cur := *o.Get()
	if r := gjson.GetBytes(raw, "server_gc"); r.Exists() {
		cur.ServerGC = r.Bool()
	}
	if r := gjson.GetBytes(raw, "concurrent_gc"); r.Exists() {
		cur.ConcurrentGC = r.Bool()
	}
	if r := gjson.GetBytes(raw, "heap_segment_size"); r.Exists() {
		cur.HeapSegmentSize = r.Int()
	}
	if r := gjson.GetBytes(raw, "gc_heap_hard_limit"); r.Exists() {
		cur.GCHeapHardLimit = r.Int()
	}
	if r := gjson.GetBytes(raw, "loh_compaction_mode"); r.Exists() {
		cur.LOHCompactionMode = LOHCompactionMode(r.Int())
	}
	if r := gjson.GetBytes(raw, "stress_heap"); r.Exists() {
		cur.StressHeap = r.Bool()
	}
	if r := gjson.GetBytes(raw, "stress_heap_dump_dir"); r.Exists() {
		cur.StressHeapDumpDir = r.String()
	}
	return o.Put(&cur)
}

// yamlConfig mirrors Config for the YAML node-config format (aistore ships
// both a JSON and a YAML config surface; this module keeps both for the
// same reason: operators pick one file format per deployment).
type yamlConfig struct {
	ServerGC          bool   `yaml:"server_gc"`
	ConcurrentGC      bool   `yaml:"concurrent_gc"`
	HeapSegmentSize   int64  `yaml:"heap_segment_size"`
	GCHeapHardLimit   int64  `yaml:"gc_heap_hard_limit"`
	LOHCompactionMode int    `yaml:"loh_compaction_mode"`
	StressHeap        bool   `yaml:"stress_heap"`
	StressHeapDumpDir string `yaml:"stress_heap_dump_dir"`
}

// LoadYAML overlays a YAML config file onto a copy of the current config.
func (o *gcConfigOwner) LoadYAML(path string) error {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}
	cur := *o.Get()
	// Prefill from cur so keys absent from the file keep their current values.
	y := yamlConfig{
		ServerGC:          cur.ServerGC,
		ConcurrentGC:      cur.ConcurrentGC,
		LOHCompactionMode: int(cur.LOHCompactionMode),
		StressHeap:        cur.StressHeap,
	}
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return err
	}
	cur.ServerGC = y.ServerGC
	cur.ConcurrentGC = y.ConcurrentGC
	if y.HeapSegmentSize != 0 {
		cur.HeapSegmentSize = y.HeapSegmentSize
	}
	if y.GCHeapHardLimit != 0 {
		cur.GCHeapHardLimit = y.GCHeapHardLimit
	}
	cur.LOHCompactionMode = LOHCompactionMode(y.LOHCompactionMode)
	cur.StressHeap = y.StressHeap
	if y.StressHeapDumpDir != "" {
		cur.StressHeapDumpDir = y.StressHeapDumpDir
	}
	return o.Put(&cur)
}
