package tl2

// lseq packs a cell's lock-and-version word: a lock bit, the id of the
// thread currently holding it (while locked), and a version number —
// the global clock value of the transaction that last committed this
// cell. Grounded on the original's lock/sequence word description;
// packing the owner tid alongside the version costs nothing extra (both
// fit comfortably under 64 bits) and lets a stuck-lock diagnostic name
// the offending thread.
const (
	lockBit    = uint64(1) << 63
	tidShift   = 55
	tidMask    = uint64(0x7F) << tidShift // 7 bits, up to 128 threads
	versionMax = uint64(1)<<tidShift - 1
)

func lseqLocked(v uint64) bool { return v&lockBit != 0 }

func lseqVersion(v uint64) uint64 { return v & versionMax }

func lseqTid(v uint64) int { return int((v & tidMask) >> tidShift) }

// encodeLocked flips the lock bit on and stamps the locking thread's id
// together with that thread's own per-thread commit generation (its
// p_seq slot, == the read-version the locking transaction began at) —
// not the cell's prior committed version. Recovery tells a torn cell
// from a forward-completed one by comparing this stamped generation
// against the owner thread's current p_seq slot (§4.H): equal means the
// owning transaction never reached its commit point; different means
// p_seq has already advanced past it, so the transaction committed and
// only the cell's own forward cleanup is missing.
func encodeLocked(tid int, gen uint64) uint64 {
	return lockBit | (uint64(tid&0x7F) << tidShift) | lseqVersion(gen)
}

// encodeCommitted builds the unlocked word for a cell that just
// committed at version wv.
func encodeCommitted(wv uint64) uint64 {
	return wv & versionMax
}
