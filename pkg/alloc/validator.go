package alloc

import (
	"fmt"
	"sync"

	"github.com/google/btree"
)

// Validator is a debug-only cross-check that the set of blocks handed out
// by Malloc never overlaps and that every Free corresponds to a block
// that is currently live. Grounded on the debug "is_allocated"-style
// consistency sweep TrinityFC.hpp gates behind its DEBUG builds; here it's
// an explicit opt-in (Pool.WithValidator) rather than a compile flag, kept
// out of the hot path of ordinary Malloc/Free calls.
//
// google/btree orders allocations by start address, letting AssertNoOverlap
// walk them in a single pass to check for overlap in O(n log n) instead of
// the O(n^2) a naive scan would cost.
type Validator struct {
	mu   sync.Mutex
	tree *btree.BTreeG[allocRange]
}

type allocRange struct {
	start, end uintptr
}

func rangeLess(a, b allocRange) bool { return a.start < b.start }

// NewValidator constructs an empty validator.
func NewValidator() *Validator {
	return &Validator{tree: btree.NewG(32, rangeLess)}
}

// MarkAllocated records that [addr, addr+size) is now live.
func (v *Validator) MarkAllocated(addr uintptr, size uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tree.ReplaceOrInsert(allocRange{start: addr, end: addr + uintptr(size)})
}

// MarkFree removes the live range starting at addr. It does not verify the
// range was actually present; AssertNoOverlap is what catches corruption.
func (v *Validator) MarkFree(addr uintptr) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tree.Delete(allocRange{start: addr})
}

// AssertNoOverlap walks the live set in address order and reports the
// first pair of ranges found overlapping. Intended for tests, not
// production use — it takes time proportional to the live allocation
// count.
func (v *Validator) AssertNoOverlap() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var prev allocRange
	first := true
	var err error
	v.tree.Ascend(func(r allocRange) bool {
		if !first && r.start < prev.end {
			err = fmt.Errorf("alloc: overlapping blocks [%#x,%#x) and [%#x,%#x)", prev.start, prev.end, r.start, r.end)
			return false
		}
		prev, first = r, false
		return true
	})
	return err
}

// Len reports the number of currently-live blocks the validator is
// tracking.
func (v *Validator) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tree.Len()
}
