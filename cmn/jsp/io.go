// Package jsp (JSON persistence) provides utilities to store and load
// arbitrary JSON-encoded structures with optional checksumming and
// compression. Used by the stats package to serialize a point-in-time
// heap/failure-history snapshot for `gcstat dump`.
package jsp

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/OneOfOne/xxhash"
	"github.com/klauspost/compress/zstd"
)

// signature is a magic 4-byte header written ahead of the checksum/body
// when Options.Signature is set, letting Decode reject a file that is
// not a jsp-encoded document before it even looks at the checksum.
var signature = [4]byte{'g', 'c', 'j', 'p'}

// Options selects which of the optional encode/decode stages run.
// Compression and Checksum (and, transitively, Signature) compose
// freely; CCSign turns all three on at once.
type Options struct {
	Compression bool
	Checksum    bool
	Signature   bool
}

// CCSign returns the all-stages-on option set, named after the original
// design's "checksum + compress + sign" shorthand.
func CCSign() Options {
	return Options{Compression: true, Checksum: true, Signature: true}
}

// Encode writes v to w as JSON, optionally zstd-compressed and/or
// preceded by a signature and an xxhash64 checksum of the (possibly
// compressed) body.
func Encode(w io.Writer, v interface{}, opts Options) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return EncodeBytes(w, body, opts)
}

// Decode reads a document written by Encode into v. tag identifies the
// source for error messages (a file path, "benchmark", and so on).
func Decode(r io.Reader, v interface{}, opts Options, tag string) error {
	body, err := DecodeBytes(r, opts, tag)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// EncodeBytes writes a pre-encoded body to w, applying the same
// compression/signature/checksum framing Encode applies around a JSON
// marshal. Lets a caller wrap a non-JSON payload (e.g. an msgp-encoded
// FailureDump) in jsp's on-disk envelope without a JSON round-trip.
func EncodeBytes(w io.Writer, body []byte, opts Options) error {
	if opts.Compression {
		var buf bytes.Buffer
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return err
		}
		if _, err := zw.Write(body); err != nil {
			zw.Close()
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		body = buf.Bytes()
	}
	if opts.Signature {
		if _, err := w.Write(signature[:]); err != nil {
			return err
		}
	}
	if opts.Checksum {
		sum := xxhash.Checksum64(body)
		var sumBuf [8]byte
		binary.LittleEndian.PutUint64(sumBuf[:], sum)
		if _, err := w.Write(sumBuf[:]); err != nil {
			return err
		}
	}
	_, err := w.Write(body)
	return err
}

// DecodeBytes reads a document written by EncodeBytes (or Encode) and
// returns the decoded body, undoing compression/signature/checksum
// framing but leaving the body itself uninterpreted.
func DecodeBytes(r io.Reader, opts Options, tag string) ([]byte, error) {
	raw, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("jsp: reading %s: %w", tag, err)
	}
	if opts.Signature {
		if len(raw) < 4 || !bytes.Equal(raw[:4], signature[:]) {
			return nil, fmt.Errorf("jsp: %s: missing or mismatched signature", tag)
		}
		raw = raw[4:]
	}
	if opts.Checksum {
		if len(raw) < 8 {
			return nil, fmt.Errorf("jsp: %s: truncated checksum", tag)
		}
		want := binary.LittleEndian.Uint64(raw[:8])
		raw = raw[8:]
		if got := xxhash.Checksum64(raw); got != want {
			return nil, fmt.Errorf("jsp: %s: checksum mismatch (got %x, want %x)", tag, got, want)
		}
	}
	body := raw
	if opts.Compression {
		zr, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("jsp: %s: %w", tag, err)
		}
		defer zr.Close()
		body, err = ioutil.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("jsp: %s: %w", tag, err)
		}
	}
	return body, nil
}
