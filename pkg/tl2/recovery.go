package tl2

import (
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/pramalhe/durabletx/pkg/alloc"
	"github.com/pramalhe/durabletx/pkg/persist"
	"github.com/pramalhe/durabletx/pkg/pwb"
)

const recoveryStripes = 8

// Recover sweeps every cell in pool's full range plus the root table. A
// cell whose lock bit is still set survived a crash while some
// transaction held it; its stamped generation (lseqVersion, set by
// encodeLocked to the owning thread's read-version at lock time) decides
// which way it resolves: equal to that thread's *current* p_seq slot
// means the transaction never reached its commit point (tx.go's single
// PWB(&perSeq[tid])+PSYNC), so Main rolls back to Back; different means
// p_seq already advanced past it, so the transaction durably committed
// and only needs its forward cleanup (Back=Main) finished (§4.H, §8).
//
// It also returns the highest p_seq slot observed across every thread,
// so Open can resume the global clock past it rather than reusing old
// version numbers, which would let a stale read-version wrongly validate
// against cells actually written before the restart.
func Recover(perSeq []persist.Cell[uint64], pool *alloc.Pool, roots []persist.Cell[uint64]) (uint64, error) {
	recoverCells(perSeq, roots)

	start, end := pool.FullRange()
	if end > start {
		cellSize := uintptr(unsafe.Sizeof(persist.Cell[uint64]{}))
		numCells := (end - start) / cellSize

		var g errgroup.Group
		stripe := (numCells + recoveryStripes - 1) / recoveryStripes
		if stripe == 0 {
			stripe = 1
		}
		for s := uintptr(0); s < numCells; s += stripe {
			s := s
			lim := s + stripe
			if lim > numCells {
				lim = numCells
			}
			g.Go(func() error {
				recoverRange(perSeq, start, s, lim, cellSize)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return 0, err
		}
	}
	pwb.PSYNC()

	var maxVersion uint64
	for i := range perSeq {
		if v := perSeq[i].LoadDirect(); v > maxVersion {
			maxVersion = v
		}
	}
	return maxVersion, nil
}

// recoverCell resolves a single cell against the owning thread's p_seq
// slot and clears its lock; a cell found unlocked needs no attention at
// all, since only a locked cell can have been mid-commit at crash time.
func recoverCell(perSeq []persist.Cell[uint64], cell *persist.Cell[uint64]) {
	lseq := cell.Seq
	if !lseqLocked(lseq) {
		return
	}
	tid := lseqTid(lseq)
	if lseqVersion(lseq) == perSeq[tid].LoadDirect() {
		cell.Main = cell.Back
	} else {
		cell.Back = cell.Main
	}
	cell.Seq = 0
	pwb.PWB(unsafe.Pointer(cell))
}

func recoverCells(perSeq []persist.Cell[uint64], cells []persist.Cell[uint64]) {
	for i := range cells {
		recoverCell(perSeq, &cells[i])
	}
}

func recoverRange(perSeq []persist.Cell[uint64], rangeStart uintptr, from, to, cellSize uintptr) {
	for i := from; i < to; i++ {
		addr := rangeStart + i*cellSize
		recoverCell(perSeq, (*persist.Cell[uint64])(unsafe.Pointer(addr)))
	}
}
