package tl2

import (
	"sort"
	"sync/atomic"
	"unsafe"

	"github.com/pramalhe/durabletx/pkg/persist"
	"github.com/pramalhe/durabletx/pkg/pwb"
)

// abortSignal unwinds the active transaction back to its retry loop. Only
// this package's own UpdateTx/ReadTx recover it.
type abortSignal struct{ err error }

var errConflict = errConflictErr{}

type errConflictErr struct{}

func (errConflictErr) Error() string { return "tl2: transaction conflict" }

type readEntry struct {
	cell     *persist.Cell[uint64]
	observed uint64
}

// Tx is Trinity-TL2's persist.Tx. Reads are validated immediately against
// the transaction's snapshot (its read-version rv); writes are buffered
// until commit, where they're applied under a short eager-locked window.
type Tx struct {
	rt       *Runtime
	tid      int
	readOnly bool
	rv       uint64
	writeSet map[*persist.Cell[uint64]]uint64
	order    []*persist.Cell[uint64]
	reads    []readEntry
}

var _ persist.Tx = (*Tx)(nil)

// newTx snapshots the global clock as this transaction's read-version
// and, for an update transaction, durably stamps that same value into
// the calling thread's own p_seq slot (§4.H) — the generation every
// cell this transaction locks will be stamped with, and the value
// recovery compares the slot's *current* contents against to tell an
// in-flight transaction from one that already committed.
func newTx(rt *Runtime, tid int, readOnly bool) *Tx {
	rv := rt.clock.Load()
	if !readOnly {
		rt.perSeq[tid].StoreDirect(rv)
		pwb.PWB(unsafe.Pointer(&rt.perSeq[tid]))
	}
	return &Tx{rt: rt, tid: tid, readOnly: readOnly, rv: rv}
}

// ReadOnly reports whether this Tx came from ReadTx.
func (tx *Tx) ReadOnly() bool { return tx.readOnly }

// LoadWord implements the classic TL2 read: snapshot-read-snapshot, abort
// the whole transaction the instant the cell looks locked or newer than
// the transaction's read-version (§8: TL2 opacity — a transaction must
// never observe a state that never existed at a single point in time).
func (tx *Tx) LoadWord(addr *uint64) uint64 {
	cell := (*persist.Cell[uint64])(unsafe.Pointer(addr))

	if !tx.readOnly {
		if v, ok := tx.writeSet[cell]; ok {
			return v
		}
	}

	seq1 := atomic.LoadUint64(&cell.Seq)
	val := atomic.LoadUint64(&cell.Main)
	seq2 := atomic.LoadUint64(&cell.Seq)

	if seq1 != seq2 || lseqLocked(seq1) || lseqVersion(seq1) > tx.rv {
		panic(abortSignal{err: errConflict})
	}

	tx.reads = append(tx.reads, readEntry{cell: cell, observed: seq1})
	return val
}

// StoreWord buffers the write; nothing touches the cell until commit.
func (tx *Tx) StoreWord(addr *uint64, v uint64) {
	if tx.readOnly {
		panic(abortSignal{err: persist.ErrAPIMisuse})
	}
	cell := (*persist.Cell[uint64])(unsafe.Pointer(addr))
	if tx.writeSet == nil {
		tx.writeSet = make(map[*persist.Cell[uint64]]uint64)
	}
	if _, seen := tx.writeSet[cell]; !seen {
		tx.order = append(tx.order, cell)
	}
	tx.writeSet[cell] = v
}

// commit runs the eager-lock / validate / apply / publish protocol. It
// returns errConflict (never a hard error) when the transaction must be
// retried from scratch.
//
// Back is never snapshotted here: it already holds this cell's last
// committed value, maintained by the previous commit's own forward-apply
// step below, so there is nothing to save before overwriting Main.
//
// The single atomic durability point is this thread's own p_seq slot
// (rt.perSeq[tx.tid]), bumped to the new commit version and PSYNC'd only
// after every touched cell's Main has already been written and flushed.
// A crash before that PWB leaves every locked cell stamped with this
// transaction's rv, which still equals perSeq[tid] (newTx stamped it
// there at the start) — Recover reads that as "never committed" and
// rolls every one of them back to Back together. A crash after it
// leaves perSeq[tid] already advanced past the cells' lock stamp —
// Recover reads that as "committed" and forward-applies every one of
// them together. The transaction is never observed half-applied (§8).
func (tx *Tx) commit() error {
	if len(tx.order) == 0 {
		return nil // read-only in practice: nothing to lock or publish
	}

	locked := sortedCopy(tx.order)
	// prevSeq remembers the exact unlocked word each cell held before
	// this transaction's CAS, so a conflict found before any Main write
	// happens (lock acquisition or read-set validation, both below) can
	// restore cells to precisely their pre-lock state — no p_seq/Back
	// bookkeeping needed, since nothing observable has changed yet.
	prevSeq := make([]uint64, len(locked))
	acquired := 0
	for i, cell := range locked {
		unlocked := atomic.LoadUint64(&cell.Seq)
		// A version newer than rv means another transaction committed this
		// cell after our snapshot; any value we read from it is stale.
		if lseqLocked(unlocked) || lseqVersion(unlocked) > tx.rv {
			unlockAll(locked[:acquired], prevSeq[:acquired])
			return errConflict
		}
		if !atomic.CompareAndSwapUint64(&cell.Seq, unlocked, encodeLocked(tx.tid, tx.rv)) {
			unlockAll(locked[:acquired], prevSeq[:acquired])
			return errConflict
		}
		prevSeq[i] = unlocked
		acquired++
	}

	for _, r := range tx.reads {
		if _, inWriteSet := tx.writeSet[r.cell]; inWriteSet {
			continue // we hold the lock ourselves; our own lock doesn't invalidate the read
		}
		cur := atomic.LoadUint64(&r.cell.Seq)
		if cur != r.observed {
			unlockAll(locked, prevSeq)
			return errConflict
		}
	}

	for _, cell := range tx.order {
		atomic.StoreUint64(&cell.Main, tx.writeSet[cell])
		pwb.PWB(unsafe.Pointer(&cell.Main))
	}
	pwb.PFENCE()

	wv := tx.rt.clock.Add(1)
	tx.rt.perSeq[tx.tid].StoreDirect(wv)
	pwb.PWB(unsafe.Pointer(&tx.rt.perSeq[tx.tid]))
	pwb.PSYNC()

	for _, cell := range tx.order {
		atomic.StoreUint64(&cell.Back, atomic.LoadUint64(&cell.Main))
		pwb.PWB(unsafe.Pointer(&cell.Back))
	}
	for _, cell := range tx.order {
		atomic.StoreUint64(&cell.Seq, encodeCommitted(wv))
	}
	return nil
}

func sortedCopy(cells []*persist.Cell[uint64]) []*persist.Cell[uint64] {
	out := make([]*persist.Cell[uint64], len(cells))
	copy(out, cells)
	sort.Slice(out, func(i, j int) bool { return uintptr(unsafe.Pointer(out[i])) < uintptr(unsafe.Pointer(out[j])) })
	return out
}

// unlockAll restores each cell to the exact unlocked word it held before
// this transaction's lock CAS. Only ever called before any Main write
// has happened for this commit attempt, so there is nothing to roll
// forward or back — the cell simply never changed.
func unlockAll(cells []*persist.Cell[uint64], prevSeq []uint64) {
	for i, cell := range cells {
		atomic.StoreUint64(&cell.Seq, prevSeq[i])
	}
}
