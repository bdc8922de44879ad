// Package rwlock implements C-RW-WP, a writer-preference reader-writer
// spinlock: multiple readers may hold the lock concurrently, but a
// waiting writer stops new readers from entering. WaitForReaders drains
// readers without touching the writer mutex; package fc does not call it
// and uses only ExclusiveLock and SharedLock.
//
// Grounded on TrinityFC.hpp's CRWWPSpinLock (a Ticket/spin writer mutex
// plus a per-thread reader-indicator array).
package rwlock

import (
	"runtime"
	"sync/atomic"
)

const (
	notReading = 0
	reading    = 1
)

// Lock is a C-RW-WP lock. The zero value is not usable; construct with
// New, sized for the number of threads the caller's thread registry can
// ever hand out.
type Lock struct {
	writer   atomic.Int32 // 0 = free, 2 = held (matches the original's sentinel)
	indicator []atomic.Int32
	maxTid    func() int
}

// New builds a lock whose reader-indicator array is sized by maxThreads.
// maxTid, if non-nil, is consulted by WaitForReaders/ExclusiveLock to
// avoid scanning slots that were never checked in; pass nil to always
// scan the full array.
func New(maxThreads int, maxTid func() int) *Lock {
	return &Lock{
		indicator: make([]atomic.Int32, maxThreads),
		maxTid:    maxTid,
	}
}

func pause() { runtime.Gosched() }

func (l *Lock) scanBound() int {
	if l.maxTid != nil {
		if n := l.maxTid(); n < len(l.indicator) {
			return n
		}
	}
	return len(l.indicator)
}

func (l *Lock) readersPresent() bool {
	n := l.scanBound()
	for tid := 0; tid < n; tid++ {
		if l.indicator[tid].Load() != notReading {
			return true
		}
	}
	return false
}

// SharedLock arrives on the reader indicator for tid, then backs off and
// retries if a writer is active, so writers are never overtaken.
func (l *Lock) SharedLock(tid int) {
	for {
		l.indicator[tid].Store(reading)
		if l.writer.Load() == 0 {
			return
		}
		l.indicator[tid].Store(notReading)
		for l.writer.Load() != 0 {
			pause()
		}
	}
}

// SharedUnlock departs the reader indicator for tid.
func (l *Lock) SharedUnlock(tid int) {
	l.indicator[tid].Store(notReading)
}

func (l *Lock) tryWriterMutex() bool {
	return l.writer.CompareAndSwap(0, 2)
}

// ExclusiveLock acquires the writer mutex, then waits for every reader to
// depart.
func (l *Lock) ExclusiveLock() {
	for !l.tryWriterMutex() {
		pause()
	}
	for l.readersPresent() {
		pause()
	}
}

// TryExclusiveLock attempts to acquire the writer mutex without blocking.
// On success the caller must still ensure readers have drained (e.g. via
// WaitForReaders) before mutating reader-visible state.
func (l *Lock) TryExclusiveLock() bool {
	return l.tryWriterMutex()
}

// ExclusiveUnlock releases the writer mutex.
func (l *Lock) ExclusiveUnlock() {
	l.writer.Store(0)
}

// WaitForReaders spins until every reader indicator is empty, without
// touching the writer mutex, so new readers are not blocked. No runtime
// in this module calls it; package fc uses ExclusiveLock instead.
func (l *Lock) WaitForReaders() {
	for l.readersPresent() {
		pause()
	}
}
