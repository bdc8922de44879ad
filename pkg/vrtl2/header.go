// Package vrtl2 implements Trinity-VR-TL2: the same global-clock,
// eager-locking commit protocol as package tl2, specialized for a
// volatile working copy plus a compacted persistent twin. Two things
// distinguish it from tl2: every transaction's hot reads and buffered
// writes go through a volatile replica region (VR) mapped at its own
// fixed address rather than through the PM mapping directly, with three
// consecutive replica words durably backed by one 64-byte PM cache line
// (pcl.go); and concurrency control is a fixed, purely volatile table of
// striped locks (lseq.go) hashed by pcl address, never embedded per
// word the way fc/tl2 pack their lock/version bit into each cell's own
// Seq field.
//
// Grounded on TrinityVRTL2.hpp's PMetadata (per-thread p_seq table),
// PMCacheLine, gHashLock striped lock array, and mapVolatileRegion; on
// tl2's commit protocol, which this package reuses the shape of rather
// than the code of — the concurrency control is the same idea, the data
// path it protects is laid out differently.
package vrtl2

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/pramalhe/durabletx/pkg/persist"
)

const magic uint64 = 0x54524e54_56520002 // "TRNT" + "VR" + version 2 (pcl/striped-lock layout)

// header is the fixed-size PM preamble: identity plus the root count the
// VR-side layout was built with. The bulk of PM past it is the
// per-thread commit-generation table (perSeqAt) followed by the pcl
// array (pclAreaBase) — there is no allocator or root table in PM at
// all; both live in the replica, exactly like the original's EsLoco2 and
// root pointer array living entirely inside VREGION_ADDR.
type header struct {
	Magic    uint64
	NumRoots uint64
	_        [2]uint64
}

var headerSize = uintptr(unsafe.Sizeof(header{}))

var ErrCorruptRegion = persist.ErrCorruptRegion

func headerAt(base unsafe.Pointer) *header { return (*header)(base) }

// perSeqAt returns PM's per-thread commit-generation table, one
// persist.Cell[uint64] per thread slot, directly following the header.
// A pcl's TSeq field stamps the generation its owning thread's slot held
// when the pcl was first touched this transaction; recovery compares the
// two to tell a torn pcl from a forward-completed one (recovery.go),
// exactly as tl2's perSeq does for its own cells.
func perSeqAt(base unsafe.Pointer, maxThreads int) []persist.Cell[uint64] {
	off := uintptr(base) + headerSize
	return unsafe.Slice((*persist.Cell[uint64])(unsafe.Pointer(off)), maxThreads)
}

func perSeqBytes(maxThreads int) uintptr {
	return uintptr(maxThreads) * uintptr(unsafe.Sizeof(persist.Cell[uint64]{}))
}

// pclAreaBase returns the start of PM's pcl array, right after the
// header and per-thread table.
func pclAreaBase(base unsafe.Pointer, maxThreads int) unsafe.Pointer {
	return unsafe.Pointer(uintptr(base) + headerSize + perSeqBytes(maxThreads))
}

// pmCapacity reports how many whole pcls fit in a PM region of size
// bytes once the header and per-thread table are carved out, and in turn
// how many replica cell-stride slots those pcls can back — the quantity
// that sizes the VR mapping (openReplica) and bounds the VR-side root
// table plus allocator pool.
func pmCapacity(size uintptr, maxThreads int) (numPCLs, capCells uintptr) {
	reserved := headerSize + perSeqBytes(maxThreads)
	if size <= reserved {
		return 0, 0
	}
	numPCLs = (size - reserved) / pclSize
	capCells = numPCLs * wordsPerPCL
	return numPCLs, capCells
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
		return nil, fmt.Errorf("vrtl2: %w", ErrCorruptRegion)
	}
	if int(h.NumRoots) != numRoots {
		return nil, errors.New("vrtl2: root table size mismatch on attach")
	}
	return h, nil
}

// rootTableAt and vrPoolBase lay out the replica's own address space:
// a fixed root pointer table followed by the allocator's arena, the same
// shape fc/tl2 use for their PM regions, relocated here into VR.
func rootTableAt(vrBase unsafe.Pointer, numRoots int) []persist.Cell[uint64] {
	return unsafe.Slice((*persist.Cell[uint64])(vrBase), numRoots)
}

func vrPoolBase(vrBase unsafe.Pointer, numRoots int) unsafe.Pointer {
	off := uintptr(vrBase) + uintptr(numRoots)*cellStride
	return unsafe.Pointer(off)
}
