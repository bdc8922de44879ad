// Package persist defines the contract shared by every Trinity runtime:
// the transaction handle (Tx) that load/store interposition dispatches
// through, the word-level persistent cell physically shared by the
// flat-combining and TL2 runtimes, and the Runtime interface that lets
// application code (and, eventually, the persistent containers this
// module is a dependency of) be written against an abstract PTM rather
// than a concrete flavor — the Go-idiomatic resolution to §9's
// "Template/macro selection of runtime" design note.
//
// Grounded on TrinityFC.hpp's persist<T> operator bank, translated from
// C++ operator overloading to explicit Go methods (Go has none), and on
// Trinity's own three update_tx/read_tx/update_tx_seq/tm_new/tm_delete/
// get_object/put_object surface (spec §6).
package persist

import (
	"errors"
	"sync/atomic"
	"unsafe"
)

// Sentinel errors surfaced to callers (§7 error taxonomy). TransactionAbort
// is deliberately not exported: it is internal control flow, caught only
// by the owning runtime's retry loop, and must never escape UpdateTx.
var (
	ErrOutOfMemory   = errors.New("persist: out of memory")
	ErrMapping       = errors.New("persist: region mapping failed")
	ErrCorruptRegion = errors.New("persist: magic mismatch on attach")
	ErrAPIMisuse     = errors.New("persist: malloc/free called outside a transaction")
)

// WordAccessor is implemented by every runtime's transaction handle and is
// the interposition point Cell[T] and the allocator's own metadata
// mutations go through. Package vrtl2 builds its ranged loads and stores
// on top of its own LoadWord/StoreWord.
type WordAccessor interface {
	LoadWord(addr *uint64) uint64
	StoreWord(addr *uint64, v uint64)
}

// Tx is the capability closures receive from UpdateTx/ReadTx/UpdateTxSeq.
// Its only job is to let Cell[T] and the allocator find their way back to
// the active transaction; runtime-specific operations live on the
// concrete *fc.Tx / *tl2.Tx / *vrtl2.Tx types.
type Tx interface {
	WordAccessor
	// ReadOnly reports whether the active transaction is a read-only
	// transaction (no write-set, no durability on commit).
	ReadOnly() bool
}

// Runtime is the uniform control surface every Trinity flavor implements.
type Runtime interface {
	// Name identifies the flavor, e.g. "Trinity-FC".
	Name() string

	// Close unmaps the region. It does not delete the backing file.
	Close() error

	// UpdateTx runs fn as a serializable, durable, atomic transaction.
	// fn may be invoked more than once if the runtime must retry after a
	// conflict; it must have no observable side effects beyond the
	// Tx/allocator operations it performs.
	UpdateTx(fn func(Tx) error) error

	// ReadTx runs fn as a read-only transaction: no write-set, no
	// durability fence on return.
	ReadTx(fn func(Tx) error) error

	// UpdateTxSeq runs fn as a durable transaction without any
	// concurrency control, for callers that guarantee no other thread is
	// concurrently transacting against the region.
	UpdateTxSeq(fn func(Tx) error) error

	// TMMalloc/TMFree must be called from within an active update
	// transaction (UpdateTx or UpdateTxSeq); given a ReadTx's Tx, or a Tx
	// from another runtime, they return ErrAPIMisuse.
	TMMalloc(tx Tx, size uintptr) (unsafe.Pointer, error)
	TMFree(tx Tx, ptr unsafe.Pointer) error

	// GetObject/PutObject access the fixed-size root pointer table (§4.J).
	GetObject(i int) unsafe.Pointer
	PutObject(tx Tx, i int, p unsafe.Pointer)
}

// Word is the set of scalar types a word-level Cell can hold: integers
// and raw pointers (stored as their uintptr bit pattern), matching "T is
// typically a pointer to a node, but it can be integers... as long as it
// fits in 64 bits" from the original.
type Word interface {
	~int64 | ~uint64 | ~uintptr
}

// Cell is the physical layout shared by the flat-combining and TL2
// runtimes: a main/back pair plus a sequence word, padded to 32 bytes (one
// half of a 64-byte cache line on x86, matching the original's
// `alignas(32)` persist<T>). The third word's meaning differs by runtime
// (a plain epoch counter for flat-combining, a lock-bit|tid|sequence word
// for TL2) — Cell only stores bytes; runtime packages own that
// interpretation via their Tx.LoadWord/StoreWord implementations, which
// locate Back/Seq by fixed offsets from Main.
type Cell[T Word] struct {
	Main uint64
	Back uint64
	Seq  uint64
	_    uint64 // pad to 32 bytes
}

// NewCell constructs a cell with its main field pre-set to v and seq at
// its zero epoch, the layout a first-time region initialization writes
// directly (outside any transaction, since there is nothing to roll back
// to yet).
func NewCell[T Word](v T) Cell[T] {
	return Cell[T]{Main: uint64(v)}
}

// Load reads the cell's current value through tx's interposition.
func (c *Cell[T]) Load(tx WordAccessor) T {
	return T(tx.LoadWord(&c.Main))
}

// Store writes v through tx's interposition.
func (c *Cell[T]) Store(tx WordAccessor, v T) {
	tx.StoreWord(&c.Main, uint64(v))
}

// Add adds delta and returns the new value, the Go-idiomatic replacement
// for persist<T>::operator+=.
func (c *Cell[T]) Add(tx WordAccessor, delta T) T {
	nv := T(uint64(c.Load(tx)) + uint64(delta))
	c.Store(tx, nv)
	return nv
}

// Inc/Dec are the replacements for persist<T>'s prefix ++/-- operators.
func (c *Cell[T]) Inc(tx WordAccessor) T { return c.Add(tx, 1) }
func (c *Cell[T]) Dec(tx WordAccessor) T {
	allOnes := ^uint64(0)
	return c.Add(tx, T(allOnes)) // delta = -1
}

// LoadDirect reads main with no logging, for use outside any transaction.
// Callers must ensure single-threaded access in that case (§4.F).
func (c *Cell[T]) LoadDirect() T {
	return T(atomic.LoadUint64(&c.Main))
}

// StoreDirect writes main with no logging, for use outside any
// transaction (e.g. first-time region initialization).
func (c *Cell[T]) StoreDirect(v T) {
	atomic.StoreUint64(&c.Main, uint64(v))
}

// BackPtr/SeqPtr expose the sibling words' addresses by fixed offset from
// Main, for runtime Tx implementations that need to manipulate them
// directly (e.g. during recovery, which bypasses the normal Load/Store
// path entirely and operates on raw cells in the allocator's used range).
func (c *Cell[T]) BackPtr() *uint64 { return &c.Back }
func (c *Cell[T]) SeqPtr() *uint64  { return &c.Seq }

// CellAt reinterprets the 32 bytes at addr as a Cell[T], for code that
// walks a range of raw bytes cell by cell.
func CellAt[T Word](addr unsafe.Pointer) *Cell[T] {
	return (*Cell[T])(addr)
}

// Node is an empty marker interface a persistent data structure's node
// type embeds to document that its fields are Cell-backed and its
// lifetime is managed by TMMalloc/TMFree rather than the Go garbage
// collector. Its only method is the unexported isDurableNode marker; it
// exists purely so the type of a
// root object reads as transactional at its declaration, the same
// documentation role the original's empty tmbase struct plays.
type Node interface {
	isDurableNode()
}
