// Package fc implements Trinity-FC: a single-active-writer, flat-combining
// style PTM where every UpdateTx runs under one exclusive lock at a time
// and every persistent word carries its own two-copy-plus-sequence undo
// record, so recovery never needs a global redo/undo log — just a sweep
// of the cells the allocator has ever handed out.
//
// Grounded on TrinityFC.hpp in its entirety: PMetadata (the on-PM header),
// the persist<T> two-copy protocol, ThreadRegistry, and CRWWPSpinLock for
// reader/writer separation around the combiner's exclusive section.
package fc

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/pramalhe/durabletx/pkg/persist"
)

// magic identifies a region as belonging to this runtime, versioned so an
// incompatible on-disk layout fails attach loudly instead of corrupting
// silently (§7: ErrCorruptRegion).
const magic uint64 = 0x54524e54_46430001 // "TRNT" + "FC" + version 1

// header is the fixed-size record at the very start of the mapped region.
// PSeq is the single global commit generation flat-combining's serialized
// writer side needs — unlike TL2, where concurrent writers each need
// their own sequence slot (see pkg/tl2), FC has at most one active writer
// at a time, so one counter suffices (§9 redesign note on per-runtime
// epoch bookkeeping). A cell is mid-update, not yet committed, exactly
// when its own Seq equals the current PSeq; PSeq itself only ever
// advances once per committed transaction, in Tx.commit, which is the
// sole atomic durability point recovery relies on.
type header struct {
	Magic    uint64
	NumRoots uint64
	PSeq     persist.Cell[uint64]
	_        [2]uint64 // reserved, keeps header a multiple of 32 bytes
}

var headerSize = uintptr(unsafe.Sizeof(header{}))

// ErrCorruptRegion is returned (wrapped) by attachHeader when the mapped
// bytes don't carry this runtime's magic.
var ErrCorruptRegion = persist.ErrCorruptRegion

func headerAt(base unsafe.Pointer) *header {
	return (*header)(base)
}

func rootTableAt(base unsafe.Pointer, numRoots int) []persist.Cell[uint64] {
	off := uintptr(base) + headerSize
	return unsafe.Slice((*persist.Cell[uint64])(unsafe.Pointer(off)), numRoots)
}

func poolBase(base unsafe.Pointer, numRoots int) unsafe.Pointer {
	off := uintptr(base) + headerSize + uintptr(numRoots)*uintptr(unsafe.Sizeof(persist.Cell[uint64]{}))
	return unsafe.Pointer(off)
}

func initHeader(base unsafe.Pointer, numRoots int) *header {
	h := headerAt(base)
	h.Magic = magic
	h.NumRoots = uint64(numRoots)
	// PSeq starts at 1, not 0: fresh (mmap-zeroed) cells have Seq == 0,
	// and 0 must never match a live generation or a virgin cell would
	// read as "mid-update" the first time recovery ever looks at it.
	h.PSeq.StoreDirect(1)
	return h
}

func attachHeader(base unsafe.Pointer, numRoots int) (*header, error) {
	h := headerAt(base)
	if h.Magic != magic {
		return nil, fmt.Errorf("fc: %w", ErrCorruptRegion)
	}
	if int(h.NumRoots) != numRoots {
		return nil, errors.New("fc: root table size mismatch on attach")
	}
	return h, nil
}

// poolLayoutFor reports the byte sizes of the header and root table that
// precede the allocator's pool.
func poolLayoutFor(base unsafe.Pointer, numRoots int) (headerBytes, rootTableBytes uintptr) {
	return headerSize, uintptr(numRoots) * uintptr(unsafe.Sizeof(persist.Cell[uint64]{}))
}

