package collector

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/buntdb"

	"github.com/tracinggc/gcheap/cmn"
)

// FailureRecord is the §7 per-collection OOM diagnostic record: "(reason,
// attempted_size, reserved_ptr, allocated_ptr, gc_index,
// get_memory_failure, size, pagefile_mb, loh_flag)".
type FailureRecord struct {
	Reason           string `json:"reason"`
	AttemptedSize    int64  `json:"attempted_size"`
	ReservedPtr      uintptr `json:"reserved_ptr"`
	AllocatedPtr     uintptr `json:"allocated_ptr"`
	GCIndex          int64  `json:"gc_index"`
	GetMemoryFailure int    `json:"get_memory_failure"`
	Size             int64  `json:"size"`
	PagefileMB       int64  `json:"pagefile_mb"`
	LOHFlag          bool   `json:"loh_flag"`
}

// FailureHistory is an in-memory, ring-bounded log of FailureRecords
// backed by an in-memory buntdb database: buntdb gives ordered key
// iteration for free, which a debugger/diagnostic tool (§7: "so a
// debugger/diagnostic tool can reconstruct the last OOM") can use to walk
// the N most recent entries by key without the caller maintaining its own
// ring index.
type FailureHistory struct {
	db       *buntdb.DB
	capacity int
	next     int64
}

// NewFailureHistory opens an in-memory failure history bounded to
// capacity entries.
func NewFailureHistory(capacity int) (*FailureHistory, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, cmn.NewInitializationFailure(err)
	}
	return &FailureHistory{db: db, capacity: capacity}, nil
}

func recordKey(seq int64) string { return fmt.Sprintf("fail:%020d", seq) }

// Record appends rec, evicting the oldest entry once capacity is exceeded.
func (fh *FailureHistory) Record(rec FailureRecord) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	seq := fh.next
	fh.next++
	err = fh.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(recordKey(seq), string(buf), nil)
		return err
	})
	if err != nil {
		return err
	}
	if fh.next > int64(fh.capacity) {
		evict := fh.next - int64(fh.capacity) - 1
		return fh.db.Update(func(tx *buntdb.Tx) error {
			_, err := tx.Delete(recordKey(evict))
			if err == buntdb.ErrNotFound {
				return nil
			}
			return err
		})
	}
	return nil
}

// Recent returns up to n most-recently-recorded failures, newest first.
func (fh *FailureHistory) Recent(n int) ([]FailureRecord, error) {
	var out []FailureRecord
	err := fh.db.View(func(tx *buntdb.Tx) error {
		return tx.Descend("", func(key, value string) bool {
			var rec FailureRecord
			if err := json.Unmarshal([]byte(value), &rec); err == nil {
				out = append(out, rec)
			}
			return len(out) < n
		})
	})
	return out, err
}

func (fh *FailureHistory) Close() error { return fh.db.Close() }
