package vrtl2

import (
	"sync/atomic"
	"unsafe"

	"github.com/pramalhe/durabletx/pkg/persist"
	"github.com/pramalhe/durabletx/pkg/pmregion"
)

// cellStride is the distance between consecutive cell-stride word slots
// in the replica: one full persist.Cell[uint64] (32 bytes) per slot, so
// the allocator's existing Cell-addressed layout (shared with fc/tl2)
// can run over the replica unmodified. Only the Main field of each slot
// is ever meaningful here — Back and Seq go unused, since a cell's
// durable pre-image and generation live in its owning pcl instead
// (pcl.go), not beside it the way fc/tl2 colocate them.
var cellStride = unsafe.Sizeof(persist.Cell[uint64]{})

// replica is Trinity-VR-TL2's volatile region (VR): a separate,
// fixed-address mapping distinct from the PM region. Every transaction's
// reads and buffered writes go through it; only commit (tx.go) copies a touched slot's value into its pcl twin, and only
// Recover ever touches the PM pcl array directly.
//
// Grounded on TrinityVRTL2.hpp's mapVolatileRegion/VREGION_ADDR and the
// VR_2_PCL/PM_2_VR address arithmetic: three consecutive replica slots
// back one 64-byte pcl, the same 3-words-per-line compaction the
// original's 24/64 VR-to-PM ratio describes, expressed here in
// cell-stride slots rather than raw 8-byte words.
type replica struct {
	region *pmregion.Region
	base   uintptr
	cells  uintptr
}

// openReplica maps (creating if needed) the VR file sized to hold
// capCells cell-stride slots.
func openReplica(cfg Config, capCells uintptr) (*replica, bool, error) {
	size := capCells * cellStride
	region, created, err := pmregion.Map(pmregion.Config{
		Path: cfg.vrPath(), Addr: cfg.vrAddr(), Size: size, DAX: false,
	})
	if err != nil {
		return nil, false, err
	}
	return &replica{
		region: region,
		base:   uintptr(unsafe.Pointer(&region.Bytes()[0])),
		cells:  capCells,
	}, created, nil
}

func (r *replica) close() error { return r.region.Close() }

func (r *replica) cellIndex(addr uintptr) uintptr { return (addr - r.base) / cellStride }

func (r *replica) mainPtr(addr uintptr) *uint64 {
	return (*uint64)(unsafe.Pointer(r.base + r.cellIndex(addr)*cellStride))
}

func (r *replica) load(addr uintptr) uint64     { return atomic.LoadUint64(r.mainPtr(addr)) }
func (r *replica) store(addr uintptr, v uint64) { atomic.StoreUint64(r.mainPtr(addr), v) }

// pclFor returns the PM-resident cache line backing the replica slot at
// addr, and that slot's word offset (0, 1 or 2) within it.
func (r *replica) pclFor(pmBase unsafe.Pointer, addr uintptr) (*pcl, int) {
	idx := r.cellIndex(addr)
	return pclAt(pmBase, idx/wordsPerPCL), int(idx % wordsPerPCL)
}

// rebuild repopulates every replica main word from its pcl twin in PM,
// called at Open once Recover has resolved every torn pcl — the mirror
// of the original's post-recover() bulk memcpy from PM to VR.
func (r *replica) rebuild(pmBase unsafe.Pointer) {
	numPCLs := (r.cells + wordsPerPCL - 1) / wordsPerPCL
	for i := uintptr(0); i < numPCLs; i++ {
		p := pclAt(pmBase, i)
		for w := uintptr(0); w < wordsPerPCL; w++ {
			cellIdx := i*wordsPerPCL + w
			if cellIdx >= r.cells {
				break
			}
			atomic.StoreUint64((*uint64)(unsafe.Pointer(r.base+cellIdx*cellStride)), p.Main[w])
		}
	}
}
