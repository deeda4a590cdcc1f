package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// OOMKind enumerates the out-of-memory failure taxonomy from §7 of the
// design: each allocation failure is tagged with exactly one of these so a
// caller (or a diagnostic tool reading the failure history) can tell retry
// strategies apart.
type OOMKind int

const (
	OOMBudget OOMKind = iota + 1
	OOMCantCommit
	OOMCantReserve
	OOMLOH
	OOMLowMem
	OOMUnproductiveFullGC
)

func (k OOMKind) String() string {
	switch k {
	case OOMBudget:
		return "OutOfMemory-Budget"
	case OOMCantCommit:
		return "OutOfMemory-CantCommit"
	case OOMCantReserve:
		return "OutOfMemory-CantReserve"
	case OOMLOH:
		return "OutOfMemory-LOH"
	case OOMLowMem:
		return "OutOfMemory-LowMem"
	case OOMUnproductiveFullGC:
		return "OutOfMemory-UnproductiveFullGC"
	default:
		return "OutOfMemory-Unknown"
	}
}

// OutOfMemoryError is returned by allocation paths that exhaust the slow
// path (§4.1) or a no-GC region (§4.4.4).
type OutOfMemoryError struct {
	Kind         OOMKind
	AttemptedSz  int64
	GCIndex      int64
	ReservedPtr  uintptr
	AllocatedPtr uintptr
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("%s: failed to allocate %d bytes at gc_index=%d", e.Kind, e.AttemptedSz, e.GCIndex)
}

func NewOutOfMemoryError(kind OOMKind, size int64, gcIndex int64) *OutOfMemoryError {
	return &OutOfMemoryError{Kind: kind, AttemptedSz: size, GCIndex: gcIndex}
}

// StoppedError is returned when an allocation inside a no-GC region
// (§4.4.4) cannot be satisfied without violating the region's guarantee.
type StoppedError struct {
	Reason string
}

func (e *StoppedError) Error() string { return "allocation stopped: " + e.Reason }

func NewStoppedError(reason string) *StoppedError { return &StoppedError{Reason: reason} }

// AbortedError reports that an in-progress operation (a collection phase,
// a background-collector cycle) was cancelled by the runtime.
//
// Grounded on lru.go's cmn.NewAbortedError: same calling convention, same
// "who aborted and why" shape, applied here to collector phases instead of
// LRU joggers.
type AbortedError struct {
	what string
}

func (e *AbortedError) Error() string { return e.what + " aborted" }

func NewAbortedError(what string) *AbortedError { return &AbortedError{what: what} }

// NoGCRegionError reports why a no-GC region terminated early (§4.4.4).
type NoGCRegionError struct {
	Reason string // "AllocExceeded" | "Induced"
}

func (e *NoGCRegionError) Error() string { return "no-gc region exceeded: " + e.Reason }

// InitializationFailure is fatal to the embedding runtime (§7).
type InitializationFailure struct {
	Cause error
}

func (e *InitializationFailure) Error() string {
	return errors.Wrap(e.Cause, "gc initialization failed").Error()
}

func (e *InitializationFailure) Unwrap() error { return e.Cause }

func NewInitializationFailure(cause error) *InitializationFailure {
	return &InitializationFailure{Cause: cause}
}

// ErrShutdownInProgress is returned by finalizer.Queue's
// RegisterForFinalization once the queue has been shut down.
var ErrShutdownInProgress = errors.New("shutdown in progress")
