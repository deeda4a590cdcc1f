// Package jsp (JSON persistence) provides utilities to store and load arbitrary
// JSON-encoded structures with optional checksumming and compression.
package jsp_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/tracinggc/gcheap/cmn/jsp"
)

type testStruct struct {
	I  int    `json:"a,omitempty"`
	S  string `json:"zero"`
	B  []byte `json:"bytes,omitempty"`
	ST struct {
		I64 int64 `json:"int64"`
	}
}

func (ts *testStruct) equal(other testStruct) bool {
	return ts.I == other.I &&
		ts.S == other.S &&
		string(ts.B) == string(other.B) &&
		ts.ST.I64 == other.ST.I64
}

func randString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

func makeRandStruct() (ts testStruct) {
	if rand.Intn(2) == 0 {
		ts.I = rand.Int()
	}
	ts.S = randString(rand.Intn(100))
	if rand.Intn(2) == 0 {
		ts.B = []byte(randString(rand.Intn(200)))
	}
	ts.ST.I64 = rand.Int63()
	return
}

func TestDecodeAndEncode(t *testing.T) {
	tests := []struct {
		name string
		v    testStruct
		opts jsp.Options
	}{
		{name: "empty", v: testStruct{}, opts: jsp.Options{}},
		{name: "default", v: makeRandStruct(), opts: jsp.Options{}},
		{name: "compress", v: makeRandStruct(), opts: jsp.Options{Compression: true}},
		{name: "cksum", v: makeRandStruct(), opts: jsp.Options{Checksum: true}},
		{name: "sign", v: makeRandStruct(), opts: jsp.Options{Signature: true, Checksum: true}},
		{name: "compress_cksum", v: makeRandStruct(), opts: jsp.Options{Compression: true, Checksum: true}},
		{name: "ccs", v: makeRandStruct(), opts: jsp.CCSign()},
		{
			name: "special_char",
			v:    testStruct{I: 10, S: "abc\ncd", B: []byte{'a', 'b', '\n', 'c', 'd'}},
			opts: jsp.Options{Checksum: true},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var (
				v testStruct
				b bytes.Buffer
			)
			if err := jsp.Encode(&b, test.v, test.opts); err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if err := jsp.Decode(&b, &v, test.opts, "test"); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !v.equal(test.v) {
				t.Fatalf("structs are not equal, (got: %+v, expected: %+v)", v, test.v)
			}
		})
	}
}

func TestDecodeRejectsMismatchedSignature(t *testing.T) {
	var b bytes.Buffer
	if err := jsp.Encode(&b, testStruct{I: 1}, jsp.Options{Signature: true}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	corrupt := b.Bytes()
	corrupt[0] ^= 0xFF
	var v testStruct
	if err := jsp.Decode(bytes.NewReader(corrupt), &v, jsp.Options{Signature: true}, "test"); err == nil {
		t.Fatalf("expected Decode to reject a corrupted signature")
	}
}

func TestDecodeRejectsMismatchedChecksum(t *testing.T) {
	var b bytes.Buffer
	if err := jsp.Encode(&b, testStruct{I: 1}, jsp.Options{Checksum: true}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	corrupt := b.Bytes()
	corrupt[len(corrupt)-1] ^= 0xFF
	var v testStruct
	if err := jsp.Decode(bytes.NewReader(corrupt), &v, jsp.Options{Checksum: true}, "test"); err == nil {
		t.Fatalf("expected Decode to reject a corrupted checksum")
	}
}
