// Package alloc implements the persistent allocator §4.D describes as a
// single Pool type: EsLoco's power-of-two free-lists over a flat pool of
// bytes combined with EsLoco2's per-thread slabs, which cut contention on
// the shared top pointer and shared free-lists. There is no separate
// slab-free EsLoco variant; every runtime uses this same Pool.
//
// Every persistent field this package mutates — the top pointer, a
// free-list head, a block's size header — is a persist.Cell, so its
// mutations are logged/locked through whichever runtime's transaction
// they run under, and a crash mid-allocation recovers exactly like any
// other persistent write (§4.D invariant 3). This costs more header bytes
// per block than the original's bare 16-byte header (each Cell carries
// main/back/seq/pad, not just a word), but it keeps a recovery sweep
// uniform: every live or free byte range in the pool is built from cells
// of the runtime's own shape, so the same "scan every cell" recovery loop
// (§4.G/H/I) that walks application data also walks allocator metadata.
//
// Grounded on TrinityFC.hpp's EsLoco<P> (freelists array, top pointer,
// highestBit, intrusive block header) and on TrinityTL2.hpp/
// TrinityVRTL2.hpp's EsLoco2 (per-thread ~4MB slabs with threshold-based
// migration of overflowing thread-local free-lists to the global one).
package alloc

import (
	"fmt"
	"unsafe"

	"github.com/pramalhe/durabletx/pkg/persist"
)

// MaxBlockSizeExp bounds the free-list array: blocks range from 2^6 (the
// smallest power of two holding the 64-byte block header) to
// 2^(MaxBlockSizeExp-1) bytes, matching EsLoco's kMaxBlockSize = 40 (1TB
// ceiling).
const MaxBlockSizeExp = 40

// SlabSize is the per-thread EsLoco2 slab size. Allocations of at most
// SlabSize/2 bytes are served from the calling thread's slab.
const SlabSize = 4 << 20

// ErrOutOfMemory is returned when the pool has no reusable block and the
// top pointer would exceed the arena.
var ErrOutOfMemory = persist.ErrOutOfMemory

type freelistHead struct {
	next  persist.Cell[uint64]
	count persist.Cell[uint64]
}

type blockHeader struct {
	next persist.Cell[uint64] // address of next free block while on a free-list; 0 = none
	size persist.Cell[uint64] // size-class exponent, set once at creation and never cleared
}

var headerSize = uintptr(unsafe.Sizeof(blockHeader{}))

// Pool is a single arena managed by EsLoco/EsLoco2. The zero value is not
// usable; construct with Init (first time) or Attach (re-attach after a
// restart — the arena's bytes are already valid, only the volatile
// bookkeeping needs rebuilding).
type Pool struct {
	base        uintptr
	size        uintptr
	maxTid      func() int
	metadataOff uintptr

	top    *persist.Cell[uint64]
	global []freelistHead

	perThread [][]freelistHead // [tid][sizeExp]
	slabTop   []persist.Cell[uint64]
	slabEnd   []persist.Cell[uint64]

	validator *Validator
}

// HeaderSize exports the per-block overhead in bytes, for callers sizing
// requests or reasoning about fragmentation.
func HeaderSize() uintptr { return headerSize }

func aligned(addr uintptr) uintptr {
	return (addr &^ 0x3F) + 128
}

func highestBit(v uint64) uint64 {
	var b uint64
	for (v >> (b + 1)) != 0 {
		b++
	}
	if v > (1 << b) {
		return b + 1
	}
	return b
}

func poolLayout(base uintptr, maxThreads int) (globalOff, perThreadOff, slabOff uintptr) {
	globalOff = aligned(base)
	perThreadOff = globalOff + uintptr(MaxBlockSizeExp)*uintptr(unsafe.Sizeof(freelistHead{}))
	slabOff = perThreadOff + uintptr(maxThreads*MaxBlockSizeExp)*uintptr(unsafe.Sizeof(freelistHead{}))
	return
}

func build(base, size uintptr, maxThreads int, maxTid func() int) *Pool {
	globalOff, perThreadOff, slabOff := poolLayout(base, maxThreads)
	cellSize := uintptr(unsafe.Sizeof(persist.Cell[uint64]{}))
	slabTopOff := slabOff
	slabEndOff := slabTopOff + uintptr(maxThreads)*cellSize
	topOff := aligned(slabEndOff + uintptr(maxThreads)*cellSize)
	// Blocks start one cell past the top pointer, so no block header ever
	// shares a word with it.
	dataOff := topOff + cellSize

	p := &Pool{
		base:        dataOff,
		size:        size - (dataOff - base),
		maxTid:      maxTid,
		metadataOff: globalOff,
		top:         (*persist.Cell[uint64])(unsafe.Pointer(topOff)),
	}
	p.global = unsafe.Slice((*freelistHead)(unsafe.Pointer(globalOff)), MaxBlockSizeExp)
	flat := unsafe.Slice((*freelistHead)(unsafe.Pointer(perThreadOff)), maxThreads*MaxBlockSizeExp)
	p.perThread = make([][]freelistHead, maxThreads)
	for t := 0; t < maxThreads; t++ {
		p.perThread[t] = flat[t*MaxBlockSizeExp : (t+1)*MaxBlockSizeExp]
	}
	p.slabTop = unsafe.Slice((*persist.Cell[uint64])(unsafe.Pointer(slabTopOff)), maxThreads)
	p.slabEnd = unsafe.Slice((*persist.Cell[uint64])(unsafe.Pointer(slabEndOff)), maxThreads)
	return p
}

// Init lays out a fresh pool over [base, base+size) and zeroes its
// metadata. Called once, outside any transaction, during first-time
// region creation — there is nothing to roll back to yet.
func Init(base unsafe.Pointer, size uintptr, maxThreads int, maxTid func() int) *Pool {
	p := build(uintptr(base), size, maxThreads, maxTid)
	for i := range p.global {
		p.global[i].next.StoreDirect(0)
		p.global[i].count.StoreDirect(0)
	}
	for _, row := range p.perThread {
		for i := range row {
			row[i].next.StoreDirect(0)
			row[i].count.StoreDirect(0)
		}
	}
	for t := range p.slabTop {
		p.slabTop[t].StoreDirect(0)
		p.slabEnd[t].StoreDirect(0)
	}
	p.top.StoreDirect(uint64(p.base))
	return p
}

// Attach rebuilds a Pool's in-process view over an already-initialized
// arena after a restart. The bytes are already correct; only the Go-level
// slice headers need to be reconstructed.
func Attach(base unsafe.Pointer, size uintptr, maxThreads int, maxTid func() int) *Pool {
	return build(uintptr(base), size, maxThreads, maxTid)
}

// UsedRange returns [base, top) of bytes the allocator has ever handed
// out from the top pointer. Recovery sweeps walk FullRange, which
// contains it.
func (p *Pool) UsedRange() (uintptr, uintptr) {
	return p.base, uintptr(p.top.LoadDirect())
}

// FullRange returns [metadataStart, top): UsedRange plus the allocator's
// own free-list heads, per-thread free-lists, and slab bookkeeping, which
// are themselves laid out as contiguous persist.Cell[uint64] words and so
// need the same crash-recovery sweep as application data (§4.D invariant
// 3: free-list head and slab pointers are transactional metadata, not
// exempt from the undo protocol).
func (p *Pool) FullRange() (uintptr, uintptr) {
	return p.metadataOff, uintptr(p.top.LoadDirect())
}

// Capacity returns [metadataStart, arenaEnd): the full span the pool was
// given, including bytes never yet handed out by the top pointer: the
// span covering every address the pool could ever return, unlike
// FullRange, which stops at the current top.
func (p *Pool) Capacity() (uintptr, uintptr) {
	return p.metadataOff, p.base + p.size
}

func popFreelist(tx persist.WordAccessor, list *freelistHead) (uintptr, bool) {
	head := list.next.Load(tx)
	if head == 0 {
		return 0, false
	}
	blk := (*blockHeader)(unsafe.Pointer(uintptr(head)))
	list.next.Store(tx, blk.next.Load(tx))
	if list.count.Load(tx) > 0 {
		list.count.Dec(tx)
	}
	return uintptr(head), true
}

func pushFreelist(tx persist.WordAccessor, list *freelistHead, blockAddr uintptr) {
	blk := (*blockHeader)(unsafe.Pointer(blockAddr))
	blk.next.Store(tx, list.next.Load(tx))
	list.next.Store(tx, uint64(blockAddr))
	list.count.Inc(tx)
}

// migrationThreshold is the per-thread free-list length (§4.D: "e.g., 64
// blocks") above which a thread's free blocks are spliced to the global
// free-list for that size class.
const migrationThreshold = 64

func migrateToGlobal(tx persist.WordAccessor, local, global *freelistHead) {
	// Find the tail of the thread-local list (bounded by
	// migrationThreshold, so this is O(1) amortized) and splice the
	// global list onto it, then adopt the local list's head as the new
	// global head.
	head := local.next.Load(tx)
	if head == 0 {
		return
	}
	tail := (*blockHeader)(unsafe.Pointer(uintptr(head)))
	for {
		next := tail.next.Load(tx)
		if next == 0 {
			break
		}
		tail = (*blockHeader)(unsafe.Pointer(uintptr(next)))
	}
	tail.next.Store(tx, global.next.Load(tx))
	global.next.Store(tx, head)
	localCount := local.count.Load(tx)
	for i := uint64(0); i < localCount; i++ {
		global.count.Inc(tx)
	}
	local.next.Store(tx, 0)
	local.count.Store(tx, 0)
}

func (p *Pool) bumpTop(tx persist.WordAccessor, nbytes uint64) (uintptr, error) {
	cur := p.top.Load(tx)
	if cur+nbytes > uint64(p.base)+uint64(p.size) {
		return 0, fmt.Errorf("alloc: %w", ErrOutOfMemory)
	}
	p.top.Store(tx, cur+nbytes)
	return uintptr(cur), nil
}

// Malloc returns a pointer to a block of at least size usable bytes,
// aligned per headerSize, or ErrOutOfMemory. tid selects the EsLoco2 slab
// and thread-local free-list to consult first.
func (p *Pool) Malloc(tx persist.WordAccessor, tid int, size uintptr) (unsafe.Pointer, error) {
	bsizeExp := highestBit(uint64(size) + uint64(headerSize))
	blockSize := uint64(1) << bsizeExp

	local := &p.perThread[tid][bsizeExp]
	if addr, ok := popFreelist(tx, local); ok {
		p.record(addr, blockSize)
		return p.userPtr(addr), nil
	}
	global := &p.global[bsizeExp]
	if addr, ok := popFreelist(tx, global); ok {
		p.record(addr, blockSize)
		return p.userPtr(addr), nil
	}

	if blockSize <= SlabSize/2 {
		end := p.slabEnd[tid].Load(tx)
		cur := p.slabTop[tid].Load(tx)
		if cur == 0 || cur+blockSize > end {
			cur = 0
			// No room for a fresh slab: fall through to a direct bump of
			// just this block below.
			if base, err := p.bumpTop(tx, SlabSize); err == nil {
				cur = uint64(base)
				end = uint64(base) + SlabSize
				p.slabEnd[tid].Store(tx, end)
			}
		}
		if cur != 0 {
			p.slabTop[tid].Store(tx, cur+blockSize)
			hdr := (*blockHeader)(unsafe.Pointer(uintptr(cur)))
			hdr.size.Store(tx, bsizeExp)
			p.record(uintptr(cur), blockSize)
			return p.userPtr(uintptr(cur)), nil
		}
	}

	addr, err := p.bumpTop(tx, blockSize)
	if err != nil {
		return nil, err
	}
	hdr := (*blockHeader)(unsafe.Pointer(addr))
	hdr.size.Store(tx, bsizeExp)
	p.record(addr, blockSize)
	return p.userPtr(addr), nil
}

func (p *Pool) userPtr(blockAddr uintptr) unsafe.Pointer {
	return unsafe.Pointer(blockAddr + headerSize)
}

// Free returns ptr's block to the calling thread's free-list, migrating
// it to the global free-list once it grows past migrationThreshold.
func (p *Pool) Free(tx persist.WordAccessor, tid int, ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}
	blockAddr := uintptr(ptr) - headerSize
	hdr := (*blockHeader)(unsafe.Pointer(blockAddr))
	bsizeExp := hdr.size.Load(tx)
	if bsizeExp >= MaxBlockSizeExp {
		return fmt.Errorf("alloc: corrupt block header at %#x", blockAddr)
	}

	local := &p.perThread[tid][bsizeExp]
	pushFreelist(tx, local, blockAddr)
	p.unrecord(blockAddr)

	if local.count.Load(tx) > migrationThreshold {
		migrateToGlobal(tx, local, &p.global[bsizeExp])
	}
	return nil
}

func (p *Pool) record(addr uintptr, size uint64) {
	if p.validator != nil {
		p.validator.MarkAllocated(addr, size)
	}
}

func (p *Pool) unrecord(addr uintptr) {
	if p.validator != nil {
		p.validator.MarkFree(addr)
	}
}

// WithValidator attaches a debug-only allocation-range validator (see
// validator.go); production callers never need this.
func (p *Pool) WithValidator(v *Validator) *Pool {
	p.validator = v
	return p
}
