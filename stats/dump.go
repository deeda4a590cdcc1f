package stats

import (
	"bytes"
	"io"

	"github.com/tinylib/msgp/msgp"

	"github.com/tracinggc/gcheap/cmn/jsp"
	"github.com/tracinggc/gcheap/collector"
)

// FailureDump is the payload `gcstat dump --zstd` persists: a Snapshot
// plus the most recent failure-history records. §6.5 calls for the dump
// to "serialize the failure history via msgp"; WriteDump/ReadDump honor
// that by msgp-encoding the FailureDump itself and handing the resulting
// bytes to cmn/jsp only for its on-disk envelope (optional zstd
// compression plus an xxhash64 checksum) rather than for the payload
// encoding, so both dependencies do real work on the same dump.
type FailureDump struct {
	Snapshot Snapshot                  `json:"snapshot"`
	Failures []collector.FailureRecord `json:"failures"`
}

// WriteDump writes a FailureDump to w as msgp, wrapped in jsp's
// zstd/checksum envelope (the `--zstd` flag controls compression).
func WriteDump(w io.Writer, dump FailureDump, compress bool) error {
	var buf bytes.Buffer
	mw := msgp.NewWriter(&buf)
	if err := dump.EncodeMsg(mw); err != nil {
		return err
	}
	if err := mw.Flush(); err != nil {
		return err
	}
	return jsp.EncodeBytes(w, buf.Bytes(), jsp.Options{Compression: compress, Checksum: true})
}

// ReadDump is WriteDump's inverse, used by diagnostic tooling that reads
// a previously written dump back in.
func ReadDump(r io.Reader, compress bool, tag string) (FailureDump, error) {
	var dump FailureDump
	body, err := jsp.DecodeBytes(r, jsp.Options{Compression: compress, Checksum: true}, tag)
	if err != nil {
		return dump, err
	}
	mr := msgp.NewReader(bytes.NewReader(body))
	err = dump.DecodeMsg(mr)
	return dump, err
}

// EncodeMsg implements msgp.Encodable by hand, matching Snapshot's
// field-by-field map-encoding style above: a top-level map with keys
// "snapshot" and "failures" (an array of per-record maps).
func (d *FailureDump) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteMapHeader(2); err != nil {
		return err
	}
	if err := w.WriteString("snapshot"); err != nil {
		return err
	}
	if err := d.Snapshot.EncodeMsg(w); err != nil {
		return err
	}
	if err := w.WriteString("failures"); err != nil {
		return err
	}
	if err := w.WriteArrayHeader(uint32(len(d.Failures))); err != nil {
		return err
	}
	for _, f := range d.Failures {
		if err := encodeFailureRecord(w, f); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsg implements msgp.Decodable by hand, the mirror of EncodeMsg.
func (d *FailureDump) DecodeMsg(r *msgp.Reader) error {
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
		case "snapshot":
			if err := d.Snapshot.DecodeMsg(r); err != nil {
				return err
			}
		case "failures":
			arrLen, err := r.ReadArrayHeader()
			if err != nil {
				return err
			}
			d.Failures = make([]collector.FailureRecord, arrLen)
			for j := uint32(0); j < arrLen; j++ {
				if d.Failures[j], err = decodeFailureRecord(r); err != nil {
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

// encodeFailureRecord/decodeFailureRecord mirror collector.FailureRecord's
// json-tag field set (§7's "(reason, attempted_size, reserved_ptr,
// allocated_ptr, gc_index, get_memory_failure, size, pagefile_mb,
// loh_flag)") as an msgp map, matching the map-of-named-fields shape
// EncodeMsg uses throughout this package.
func encodeFailureRecord(w *msgp.Writer, f collector.FailureRecord) error {
	if err := w.WriteMapHeader(9); err != nil {
		return err
	}
	fields := []struct {
		key string
		wr  func() error
	}{
		{"reason", func() error { return w.WriteString(f.Reason) }},
		{"attempted_size", func() error { return w.WriteInt64(f.AttemptedSize) }},
		{"reserved_ptr", func() error { return w.WriteUint64(uint64(f.ReservedPtr)) }},
		{"allocated_ptr", func() error { return w.WriteUint64(uint64(f.AllocatedPtr)) }},
		{"gc_index", func() error { return w.WriteInt64(f.GCIndex) }},
		{"get_memory_failure", func() error { return w.WriteInt(f.GetMemoryFailure) }},
		{"size", func() error { return w.WriteInt64(f.Size) }},
		{"pagefile_mb", func() error { return w.WriteInt64(f.PagefileMB) }},
		{"loh_flag", func() error { return w.WriteBool(f.LOHFlag) }},
	}
	for _, fl := range fields {
		if err := w.WriteString(fl.key); err != nil {
			return err
		}
		if err := fl.wr(); err != nil {
			return err
		}
	}
	return nil
}

func decodeFailureRecord(r *msgp.Reader) (collector.FailureRecord, error) {
	var f collector.FailureRecord
	n, err := r.ReadMapHeader()
	if err != nil {
		return f, err
	}
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return f, err
		}
		switch key {
		case "reason":
			f.Reason, err = r.ReadString()
		case "attempted_size":
			f.AttemptedSize, err = r.ReadInt64()
		case "reserved_ptr":
			var v uint64
			v, err = r.ReadUint64()
			f.ReservedPtr = uintptr(v)
		case "allocated_ptr":
			var v uint64
			v, err = r.ReadUint64()
			f.AllocatedPtr = uintptr(v)
		case "gc_index":
			f.GCIndex, err = r.ReadInt64()
		case "get_memory_failure":
			f.GetMemoryFailure, err = r.ReadInt()
		case "size":
			f.Size, err = r.ReadInt64()
		case "pagefile_mb":
			f.PagefileMB, err = r.ReadInt64()
		case "loh_flag":
			f.LOHFlag, err = r.ReadBool()
		default:
			err = r.Skip()
		}
		if err != nil {
			return f, err
		}
	}
	return f, nil
}
