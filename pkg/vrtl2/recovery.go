package vrtl2

import (
	"sync"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/pramalhe/durabletx/pkg/persist"
	"github.com/pramalhe/durabletx/pkg/pwb"
)

const recoveryStripes = 8

// Recover sweeps every pcl in PM (there are numPCLs of them starting at
// pmPCLBase), resolving each one against the generation its TSeq field
// stamped it with. A pcl whose TSeq is still zero was never touched and
// needs nothing. Otherwise tseqTid/tseqGen decode which thread stamped
// it and at what generation; comparing that generation to the *current*
// value of that thread's own perSeq slot tells torn from complete: equal
// means the transaction that stamped it never reached its commit point
// (tx.go's single PWB(&perSeq[tid])+PSYNC), so Main rolls back to Back;
// different means perSeq already advanced past it, so the transaction
// durably committed and Main — written into the pcl before the commit
// point, never after, unlike tl2's separate forward-apply step — is
// already correct and is left alone. Every pcl's TSeq is reset to zero
// either way, since a resolved pcl is no longer "mid-transaction" by any
// thread's reckoning.
//
// Lock stripes play no part in this: they are purely volatile and
// rebuilt empty by newLockTable on every Open, so there is nothing in
// them to recover.
//
// Returns the highest perSeq slot observed across every thread, so Open
// can resume the global clock past it.
func Recover(perSeq []persist.Cell[uint64], pmPCLBase unsafe.Pointer, numPCLs uintptr) (uint64, error) {
	var mu sync.Mutex
	var maxVersion uint64
	bump := func(v uint64) {
		mu.Lock()
		if v > maxVersion {
			maxVersion = v
		}
		mu.Unlock()
	}

	if numPCLs > 0 {
		var g errgroup.Group
		stripe := (numPCLs + recoveryStripes - 1) / recoveryStripes
		if stripe == 0 {
			stripe = 1
		}
		for s := uintptr(0); s < numPCLs; s += stripe {
			s := s
			lim := s + stripe
			if lim > numPCLs {
				lim = numPCLs
			}
			g.Go(func() error {
				recoverRange(perSeq, pmPCLBase, s, lim)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return 0, err
		}
	}
	pwb.PSYNC()

	for i := range perSeq {
		bump(perSeq[i].LoadDirect())
	}
	return maxVersion, nil
}

func recoverRange(perSeq []persist.Cell[uint64], pmPCLBase unsafe.Pointer, from, to uintptr) {
	for i := from; i < to; i++ {
		recoverPCL(perSeq, pclAt(pmPCLBase, i))
	}
}

func recoverPCL(perSeq []persist.Cell[uint64], p *pcl) {
	if p.TSeq == 0 {
		return
	}
	tid := tseqTid(p.TSeq)
	gen := tseqGen(p.TSeq)
	if tid >= 0 && tid < len(perSeq) && gen == perSeq[tid].LoadDirect() {
		p.Main = p.Back
	}
	p.TSeq = 0
	pwb.PWB(unsafe.Pointer(p))
}
