package heap

// Ref is an opaque handle to a heap object: a newtype over a machine word,
// per design notes §9 ("model as an opaque handle type that is a newtype
// over a machine word, with unsafe conversion functions at the heap/VM
// boundary"). Every dereference of a Ref must go through a TypeDescriptor
// lookup; gcheap never interprets payload bytes itself.
type Ref uintptr

// Nil is the null reference.
const Nil Ref = 0

func (r Ref) Addr() uintptr { return uintptr(r) }

// header word layout, relative to an object's address:
//
//	[0] mark/forward word     (0 = unmarked/not forwarded; else mark bit or forwarding Ref)
//	[1] size (bytes, including header)
//	[2] type descriptor id    (index into the registered TypeDescriptor table)
//	[3] finalization state    (0 = none pending/run; 1 = registered with the finalizer queue)
//
// This is exactly the "reserved word usable by the collector for
// mark/forwarding information" from §3.1, plus the two fields (type
// descriptor, size) §3.1 says every object exposes, plus one extra word
// tracking §4.4.5's finalization-registered state so a resurrected
// object is never queued for finalization twice. A free-list entry
// reuses words [0] and [1] as next/undo links once the object is swept
// (§3.1: "Object size >= a minimum that leaves room for the
// forwarding/mark word and a free-list link").
const (
	hdrMarkWord     = 0
	hdrSizeWord     = 1
	hdrTypeWord     = 2
	hdrFinalizeWord = 3
	headerWords     = 4
)

// HeaderBytes is the fixed header size in bytes.
const HeaderBytes = headerWords * wordSize

// MinObjectSize is the §3.1 minimum: large enough that sweep can always
// rewrite a dead object as a two-word free-list entry without touching
// bytes outside the object.
const MinObjectSize = HeaderBytes

// Flags is the §4.1 allocation flag set.
type Flags uint8

const (
	ContainsRef Flags = 1 << iota
	Finalize
	Align8
	Align8Bias
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// TypeDescriptor is the GC-facing view of a VM type: size and reference
// layout. §6.2 calls this out as a required GC<-VM callback
// ("Type descriptor queries: object size, reference layout, array length").
type TypeDescriptor interface {
	// Name identifies the type for logging/diagnostics.
	Name() string
	// FixedSize is the object's size for non-array types, or the
	// per-element stride for array types.
	FixedSize() int64
	// IsArray reports whether instances carry a runtime length field.
	IsArray() bool
	// ContainsRefs reports whether instances may hold references at all.
	ContainsRefs() bool
	// Finalizable reports whether instances must be registered with the
	// finalizer queue instead of reclaimed immediately once unreachable
	// (§4.4.5).
	Finalizable() bool
	// EnumRefs calls fn with the address of every reference-typed field
	// within the object at addr (whose total size is objSize).
	EnumRefs(arena *Arena, addr uintptr, objSize int64, fn func(fieldAddr uintptr))
}

// TypeTable assigns small integer ids to TypeDescriptors so the 3-word
// header can store a type as one word instead of a full pointer-sized
// interface value, mirroring a real runtime's method-table pointer.
type TypeTable struct {
	types []TypeDescriptor
}

func NewTypeTable() *TypeTable { return &TypeTable{} }

func (t *TypeTable) Register(td TypeDescriptor) uintptr {
	t.types = append(t.types, td)
	return uintptr(len(t.types) - 1)
}

func (t *TypeTable) Lookup(id uintptr) TypeDescriptor {
	return t.types[id]
}

// ObjectView reads/writes the 3-word header of the object at addr within
// arena. It does not validate that addr is actually a live object's
// start; callers (alloc, collector) are responsible for that via
// is_heap_pointer-style segment containment checks.
type ObjectView struct {
	Arena *Arena
	Addr  uintptr
}

func (o ObjectView) Mark() uintptr      { return o.Arena.ReadWord(o.Addr + hdrMarkWord*wordSize) }
func (o ObjectView) SetMark(v uintptr)  { o.Arena.WriteWord(o.Addr+hdrMarkWord*wordSize, v) }
func (o ObjectView) Size() int64        { return int64(o.Arena.ReadWord(o.Addr + hdrSizeWord*wordSize)) }
func (o ObjectView) SetSize(n int64)    { o.Arena.WriteWord(o.Addr+hdrSizeWord*wordSize, uintptr(n)) }
func (o ObjectView) TypeID() uintptr    { return o.Arena.ReadWord(o.Addr + hdrTypeWord*wordSize) }
func (o ObjectView) SetTypeID(id uintptr) {
	o.Arena.WriteWord(o.Addr+hdrTypeWord*wordSize, id)
}

// IsMarked reports whether the mark word's low bit is set. Distinguishing
// "marked" from "forwarded" is the collector's job (a forwarding address
// is always > 1 and word-aligned, so it can never collide with the
// reserved mark-bit value 1).
func (o ObjectView) IsMarked() bool { return o.Mark()&1 == 1 }
func (o ObjectView) SetMarked()     { o.SetMark(1) }
func (o ObjectView) ClearMark()     { o.SetMark(0) }

// Forwarding returns (addr, true) if this object's mark word has been
// overwritten with a forwarding address (§4.4.2 phase 4 Relocate), or
// (0, false) otherwise.
func (o ObjectView) Forwarding() (uintptr, bool) {
	m := o.Mark()
	if m > 1 {
		return m, true
	}
	return 0, false
}

func (o ObjectView) SetForwarding(to uintptr) { o.SetMark(to) }

// FinalizationRegistered reports whether this object has already been
// handed to the finalizer queue this resurrection cycle (§4.4.5).
func (o ObjectView) FinalizationRegistered() bool {
	return o.Arena.ReadWord(o.Addr+hdrFinalizeWord*wordSize) != 0
}

func (o ObjectView) SetFinalizationRegistered(v bool) {
	val := uintptr(0)
	if v {
		val = 1
	}
	o.Arena.WriteWord(o.Addr+hdrFinalizeWord*wordSize, val)
}

// FreeMarker is a reserved type id meaning "this is a dead/free-list
// object, not a live one" — distinguishing free blocks from live objects
// for §3.6's invariant ("their header distinguishes free from live").
const FreeMarker uintptr = ^uintptr(0)

func (o ObjectView) IsFree() bool { return o.TypeID() == FreeMarker }

// MarkFree rewrites this object's header as a dead filler/free block of
// the given size, preserving §3.1's invariant that every byte range is a
// well-formed object even when free.
func (o ObjectView) MarkFree(size int64) {
	o.SetTypeID(FreeMarker)
	o.SetSize(size)
	o.SetMark(0)
}
