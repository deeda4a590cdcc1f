package collector

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"

	"github.com/tracinggc/gcheap/cmn/debug"
	"github.com/tracinggc/gcheap/heap"
)

// SegmentDumper writes a raw snapshot of a segment's live bytes to disk
// when the StressHeap debug dump is enabled, so a post-mortem tool can
// diff successive snapshots of the same segment across collections.
// Grounded on fs.Scanner's godirwalk.NewScanner usage for listing the
// resulting dump files back without building a full directory tree walk.
type SegmentDumper struct {
	Dir string
}

func NewSegmentDumper(dir string) *SegmentDumper {
	return &SegmentDumper{Dir: dir}
}

func (d *SegmentDumper) dumpPath(seg *heap.Segment, gcIndex int64) string {
	return filepath.Join(d.Dir, fmt.Sprintf("seg-%016x-gc%06d.bin", seg.Base(), gcIndex))
}

// DumpSegment writes [seg.Base(), seg.AllocatedEnd()) to a file named
// after the segment's base address and the current gc_index. A no-op
// unless debug.Enabled, matching the other debug-only dump paths in
// this package.
func (d *SegmentDumper) DumpSegment(seg *heap.Segment, gcIndex int64) error {
	if !debug.Enabled {
		return nil
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return err
	}
	n := int64(seg.AllocatedEnd() - seg.Base())
	data := seg.Arena().Slice(seg.Base(), n)
	return ioutil.WriteFile(d.dumpPath(seg, gcIndex), data, 0o644)
}

// ListDumps returns the names of every dump file currently on disk, in
// the order the directory scan yields them, for a diagnostic tool walking accumulated
// StressHeap snapshots.
func (d *SegmentDumper) ListDumps() ([]string, error) {
	scanner, err := godirwalk.NewScanner(d.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for scanner.Scan() {
		dirent, err := scanner.Dirent()
		if err != nil {
			continue
		}
		if !dirent.IsDir() {
			names = append(names, dirent.Name())
		}
	}
	return names, scanner.Err()
}
