// Package threadreg assigns a dense, reusable integer id to each thread
// (goroutine) that participates in transactions, and tracks the
// high-watermark of ids ever handed out. Each PTM runtime's Open builds
// its own Registry, whose ids index that runtime's per-thread arrays (the
// TL2 per-thread sequence table, the C-RW-WP reader-indicator array).
//
// Grounded on TrinityFC.hpp's ThreadRegistry/ThreadCheckInCheckOut: a
// wait-free-bounded, CAS-acquired slot array plus a CAS-updated
// high-watermark.
package threadreg

import "sync/atomic"

// DefaultMaxThreads matches REGISTRY_MAX_THREADS in the original.
const DefaultMaxThreads = 128

// Registry assigns ids in [0, MaxThreads) to threads on first use.
type Registry struct {
	MaxThreads int
	used       []atomic.Bool
	maxTid     atomic.Int32
}

// NewRegistry builds a registry sized for maxThreads concurrent
// participants. maxThreads <= 0 uses DefaultMaxThreads.
func NewRegistry(maxThreads int) *Registry {
	if maxThreads <= 0 {
		maxThreads = DefaultMaxThreads
	}
	r := &Registry{
		MaxThreads: maxThreads,
		used:       make([]atomic.Bool, maxThreads),
	}
	r.maxTid.Store(-1)
	return r
}

// CheckInCheckOut holds the tid assigned to the calling goroutine's
// transactional work and releases it exactly once. The zero value is not
// checked in; call Registry.CheckIn to obtain one.
type CheckInCheckOut struct {
	reg *Registry
	tid int
	in  bool
}

// CheckIn allocates a free slot, wait-free and bounded by MaxThreads.
func (r *Registry) CheckIn() *CheckInCheckOut {
	for tid := 0; tid < r.MaxThreads; tid++ {
		if r.used[tid].Load() {
			continue
		}
		if !r.used[tid].CompareAndSwap(false, true) {
			continue
		}
		for {
			curMax := r.maxTid.Load()
			if curMax > int32(tid) {
				break
			}
			if r.maxTid.CompareAndSwap(curMax, int32(tid+1)) {
				break
			}
		}
		return &CheckInCheckOut{reg: r, tid: tid, in: true}
	}
	panic("threadreg: too many concurrent threads registered")
}

// TID returns the id assigned to this check-in.
func (c *CheckInCheckOut) TID() int { return c.tid }

// CheckOut releases the slot so it can be reused by a later thread.
// Population-oblivious and wait-free. Safe to call more than once.
func (c *CheckInCheckOut) CheckOut() {
	if !c.in {
		return
	}
	c.in = false
	c.reg.used[c.tid].Store(false)
}

// MaxTid returns one past the highest tid ever handed out (i.e. the number
// of slots that have ever been in use), used by callers that must iterate
// every slot that could hold live state (e.g. the C-RW-WP reader-indicator
// scan, or a TL2 per-thread sequence table scan during recovery).
func (r *Registry) MaxTid() int {
	v := r.maxTid.Load()
	if v < 0 {
		return 0
	}
	return int(v)
}
