package fc

import (
	"sync/atomic"
	"unsafe"

	"github.com/pramalhe/durabletx/pkg/persist"
	"github.com/pramalhe/durabletx/pkg/pwb"
)

// abortSignal is panicked with by Tx methods that detect an API misuse
// (a StoreWord on a read-only Tx) and is recovered only by this package's
// own UpdateTx/ReadTx loops — it must never be allowed to escape as a
// bare panic to application code.
type abortSignal struct{ err error }

// touchedCell remembers a cell a transaction has written to, so an
// aborted transaction can restore Main from Back without waiting for a
// crash-recovery sweep.
type touchedCell struct {
	cell *persist.Cell[uint64]
}

// Tx is Trinity-FC's persist.Tx. Every word store goes through the
// two-copy-plus-generation protocol directly against the physical cell;
// there is no separate write-set buffer to flush at commit, since the
// protocol's durability is established incrementally, one store at a
// time (§4.G). The single atomic commit point is header.PSeq, bumped
// once at the end of a successful UpdateTx/UpdateTxSeq — never a
// per-cell flag, so a crash can never tear a transaction in two.
type Tx struct {
	rt       *Runtime
	readOnly bool
	touched  []touchedCell
}

var _ persist.Tx = (*Tx)(nil)

// ReadOnly reports whether this Tx came from ReadTx.
func (tx *Tx) ReadOnly() bool { return tx.readOnly }

// LoadWord reads a cell's Main field. Readers never need Back/Seq: C-RW-WP
// guarantees a reader never overlaps the torn window between Back/Seq
// being updated and Main catching up, because that window only opens
// while the combiner holds the exclusive side of the lock (§4.F, §8
// invariant 5).
func (tx *Tx) LoadWord(addr *uint64) uint64 {
	return atomic.LoadUint64(addr)
}

// StoreWord applies Trinity-FC's store interposition: a cell is
// snapshotted into Back and stamped with the generation it was touched
// in (header.PSeq's current, not-yet-committed value) only the first
// time a transaction touches it; every store after that — including
// later stores to the same cell in the same transaction — just
// overwrites Main, because Seq already equals the live generation.
// Comparing Seq against PSeq this way doubles as both the "have I
// already snapshotted this cell" check and, after a crash, recovery's
// "was this cell mid-update when we died" check — there is no separate
// per-cell commit flag to tear (§4.G).
func (tx *Tx) StoreWord(addr *uint64, v uint64) {
	if tx.readOnly {
		panic(abortSignal{err: persist.ErrAPIMisuse})
	}
	cell := (*persist.Cell[uint64])(unsafe.Pointer(addr))

	gen := tx.rt.hdr.PSeq.LoadDirect()
	if atomic.LoadUint64(&cell.Seq) != gen {
		old := atomic.LoadUint64(&cell.Main)
		atomic.StoreUint64(&cell.Back, old)
		atomic.StoreUint64(&cell.Seq, gen)
		tx.touched = append(tx.touched, touchedCell{cell: cell})
	}

	atomic.StoreUint64(&cell.Main, v)
	pwb.PWB(unsafe.Pointer(cell))
}

// commit is the single atomic durable commit point for a successful
// UpdateTx/UpdateTxSeq: every store this transaction made is already on
// PM (each StoreWord flushed its own cell), so all that is left is to
// fence those writes, advance header.PSeq exactly once, flush it, and
// fence again. A crash before this PWB(&PSeq) leaves every cell this
// transaction touched at the old generation, so Recover rolls all of
// them back together; a crash after it leaves PSeq already advanced, so
// Recover leaves all of them alone — the transaction is never observed
// half-applied (§8 invariant 1).
func (tx *Tx) commit() {
	pwb.PFENCE()
	next := tx.rt.hdr.PSeq.LoadDirect() + 1
	tx.rt.hdr.PSeq.StoreDirect(next)
	pwb.PWB(unsafe.Pointer(&tx.rt.hdr.PSeq))
	pwb.PSYNC()
}

// rollback restores every touched cell's Main from Back, in reverse
// order, and resets Seq to the clean sentinel (0, never equal to any
// live PSeq generation) — used when a transaction's own closure returns
// an error, mirroring exactly what Recover does for a crash mid-update.
func (tx *Tx) rollback() {
	for i := len(tx.touched) - 1; i >= 0; i-- {
		cell := tx.touched[i].cell
		atomic.StoreUint64(&cell.Main, atomic.LoadUint64(&cell.Back))
		atomic.StoreUint64(&cell.Seq, 0)
		pwb.PWB(unsafe.Pointer(cell))
	}
	pwb.PSYNC()
}
