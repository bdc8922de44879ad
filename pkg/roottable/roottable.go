// Package roottable is a thin, runtime-agnostic convenience layer over
// persist.Runtime's GetObject/PutObject: the fixed-size array of root
// pointers every flavor exposes at region index 0..N (§4.J), typed via Go
// generics instead of the original's per-object-type macro boilerplate.
//
// Grounded on the root-table description in §4.J and on how
// mansub1029-go-pmem-transaction's transaction package exposes typed
// access to its own log/root region, adapted to this module's explicit
// Runtime-and-Tx API instead of goroutine-local transaction state.
package roottable

import (
	"unsafe"

	"github.com/pramalhe/durabletx/pkg/persist"
)

// RootAs reads root slot i from rt, reinterpreting it as a *T. A nil slot
// (never written) returns nil.
func RootAs[T any](rt persist.Runtime, i int) *T {
	p := rt.GetObject(i)
	if p == nil {
		return nil
	}
	return (*T)(p)
}

// PutRoot writes p into root slot i within tx.
func PutRoot[T any](rt persist.Runtime, tx persist.Tx, i int, p *T) {
	rt.PutObject(tx, i, unsafe.Pointer(p))
}

// EnsureRoot returns the object already at slot i, or, if the slot is
// empty, allocates sizeof(T) bytes via rt's allocator, zero-initializes
// it, stores it at slot i, and returns the new object — a common
// first-run idiom ("give me the root, creating it if this is a fresh
// region") that every caller of this module would otherwise repeat by
// hand. Must be called from within tx's transaction.
func EnsureRoot[T any](rt persist.Runtime, tx persist.Tx, i int) (*T, error) {
	if existing := RootAs[T](rt, i); existing != nil {
		return existing, nil
	}
	var zero T
	ptr, err := rt.TMMalloc(tx, unsafe.Sizeof(zero))
	if err != nil {
		return nil, err
	}
	// Zeroing a block nothing has published a pointer to yet needs no
	// undo log: a crash here just leaks the block, recovered by no one
	// observing it, since PutObject below is the only transactional (and
	// thus crash-safe) step that makes it reachable.
	obj := (*T)(ptr)
	*obj = zero
	rt.PutObject(tx, i, ptr)
	return obj, nil
}
