package fc

import (
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/pramalhe/durabletx/pkg/alloc"
	"github.com/pramalhe/durabletx/pkg/persist"
	"github.com/pramalhe/durabletx/pkg/pwb"
)

// recoveryStripes bounds how many goroutines a Recover call fans out
// across, parallelizing the sweep the same way a multi-threaded recovery
// pass in the original would split the range across worker threads.
const recoveryStripes = 8

// Recover sweeps every 32-byte cell in pool's full range (allocator
// metadata plus every block ever handed out) and rolls back any cell
// still stamped with the region's current commit generation: hdr.PSeq
// only ever advances once, atomically, at the end of a successful
// transaction (Tx.commit), so a cell whose Seq still equals that
// not-yet-advanced generation was touched by a transaction that never
// reached its commit point — exactly the set of cells an interrupted
// Tx.rollback would have restored, applied here to the whole region
// after an unclean shutdown (§8 invariant 1).
func Recover(hdr *header, pool *alloc.Pool, roots []persist.Cell[uint64]) error {
	gen := hdr.PSeq.LoadDirect()

	recoverCells(gen, roots)

	start, end := pool.FullRange()
	if end <= start {
		pwb.PSYNC()
		return nil
	}

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
			recoverRange(gen, start, s, lim, cellSize)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	pwb.PSYNC()
	return nil
}

// recoverCells applies the same torn-cell check to a small, already
// in-hand slice of cells (the root table), which is cheap enough not to
// need the stripe fan-out recoverRange uses for the allocator's much
// larger range.
func recoverCells(gen uint64, cells []persist.Cell[uint64]) {
	for i := range cells {
		cell := &cells[i]
		if cell.Seq == gen {
			cell.Main = cell.Back
			cell.Seq = 0
			pwb.PWB(unsafe.Pointer(cell))
		}
	}
}

func recoverRange(gen uint64, rangeStart uintptr, from, to, cellSize uintptr) {
	for i := from; i < to; i++ {
		addr := rangeStart + i*cellSize
		cell := (*persist.Cell[uint64])(unsafe.Pointer(addr))
		if cell.Seq == gen {
			cell.Main = cell.Back
			cell.Seq = 0
			pwb.PWB(unsafe.Pointer(cell))
		}
	}
}
