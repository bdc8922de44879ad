// Package pwb provides the three persistence primitives every PTM runtime
// builds on: cache-line write-back, an ordering fence, and a durability
// fence. See the per-architecture files for the concrete instruction
// sequence; this file documents the contract all of them must satisfy.
//
// Contract:
//   - PWB is idempotent: calling it twice on the same line is safe and
//     merely redundant.
//   - PFENCE orders preceding stores/write-backs against subsequent stores,
//     both at compile time and at the CPU level, but makes no durability
//     guarantee by itself.
//   - PSYNC implies PFENCE and additionally guarantees that every PWB
//     issued before it has reached the persistence domain once it returns.
package pwb

import "unsafe"

// CacheLineSize is the granularity PWB operates at. The pwb backends pass
// addr through unrounded (CLWB acts on the line containing it); PWBRange
// aligns its start down to this boundary and steps by it.
const CacheLineSize = 64

// PWB requests write-back of the cache line containing addr. It does not
// block until the line is durable; pair it with PSYNC when durability is
// required.
func PWB(addr unsafe.Pointer) {
	pwb(addr)
}

// PFENCE is a compiler- and CPU-ordering fence between preceding stores or
// write-backs and subsequent stores. It provides no durability guarantee.
func PFENCE() {
	pfence()
}

// PSYNC orders like PFENCE and additionally guarantees that, once it
// returns, every PWB issued before it is durable.
func PSYNC() {
	psync()
}

// PWBRange issues PWB for every cache line spanned by [addr, addr+size).
func PWBRange(addr unsafe.Pointer, size uintptr) {
	if size == 0 {
		return
	}
	start := uintptr(addr) &^ (CacheLineSize - 1)
	end := (uintptr(addr) + size + CacheLineSize - 1) &^ (CacheLineSize - 1)
	for a := start; a < end; a += CacheLineSize {
		pwb(unsafe.Pointer(a))
	}
}
