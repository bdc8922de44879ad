// Package tl2 implements Trinity-TL2: a global-version-clock PTM allowing
// multiple concurrent writers, each eagerly locking its write-set at
// commit time and validating its read-set against a global clock before
// applying writes. Unlike Trinity-FC's single active writer, TL2 needs a
// per-thread commit counter rather than one global one (§9 redesign
// note), since more than one thread can be mid-commit at once.
//
// Grounded on TrinityFC.hpp's PMetadata/persist<T> two-copy undo
// protocol (reused here for the apply phase) and on the original's
// description of Trinity-TL2's lock/sequence word and global clock,
// translated into Go's CAS-based locking idiom.
package tl2

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/pramalhe/durabletx/pkg/persist"
)

const magic uint64 = 0x54524e54_544c0001 // "TRNT" + "TL2" + version 1

// header is the fixed-size record at the start of the mapped region. It
// holds no sequence itself: the per-thread commit counter array
// (perThreadSeqAt) follows it, and each thread bumps its own slot on
// commit, so no single counter is shared across concurrent committing
// writers (contrast with fc.header, which has exactly one writer at a
// time and so carries a single PSeq).
type header struct {
	Magic    uint64
	NumRoots uint64
	_        [2]uint64 // reserved, keeps header a multiple of 32 bytes
}

var headerSize = uintptr(unsafe.Sizeof(header{}))

var ErrCorruptRegion = persist.ErrCorruptRegion

func headerAt(base unsafe.Pointer) *header { return (*header)(base) }

func perThreadSeqAt(base unsafe.Pointer, maxThreads int) []persist.Cell[uint64] {
	off := uintptr(base) + headerSize
	return unsafe.Slice((*persist.Cell[uint64])(unsafe.Pointer(off)), maxThreads)
}

func rootTableAt(base unsafe.Pointer, maxThreads, numRoots int) []persist.Cell[uint64] {
	off := uintptr(base) + headerSize + uintptr(maxThreads)*uintptr(unsafe.Sizeof(persist.Cell[uint64]{}))
	return unsafe.Slice((*persist.Cell[uint64])(unsafe.Pointer(off)), numRoots)
}

func poolBase(base unsafe.Pointer, maxThreads, numRoots int) unsafe.Pointer {
	off := uintptr(base) + headerSize +
		uintptr(maxThreads)*uintptr(unsafe.Sizeof(persist.Cell[uint64]{})) +
		uintptr(numRoots)*uintptr(unsafe.Sizeof(persist.Cell[uint64]{}))
	return unsafe.Pointer(off)
}

func poolLayoutFor(base unsafe.Pointer, maxThreads, numRoots int) (headerBytes, seqBytes, rootBytes uintptr) {
	cellSize := uintptr(unsafe.Sizeof(persist.Cell[uint64]{}))
	return headerSize, uintptr(maxThreads) * cellSize, uintptr(numRoots) * cellSize
}

func initHeader(base unsafe.Pointer, numRoots int) *header {
	h := headerAt(base)
	h.Magic = magic
	h.NumRoots = uint64(numRoots)
	return h
}

func attachHeader(base unsafe.Pointer, numRoots int) (*header, error) {
	h := headerAt(base)
	if h.Magic != magic {
		return nil, fmt.Errorf("tl2: %w", ErrCorruptRegion)
	}
	if int(h.NumRoots) != numRoots {
		return nil, errors.New("tl2: root table size mismatch on attach")
	}
	return h, nil
}
