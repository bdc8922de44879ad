package vrtl2

import "unsafe"

// pcl is one persistent memory cache line, the durable twin of three
// consecutive cell-stride slots in the volatile replica: three "main"
// words, their three "back" (pre-image) words, one shared tseq
// (tid|sequence) durability marker, and padding out to 64 bytes. A
// single PWB on a pcl durably covers all three of its words at once,
// the same compaction the original's PMCacheLine buys by packing raw
// 8-byte words instead of this module's 32-byte cell-stride slots.
//
// Grounded on TrinityVRTL2.hpp's PMCacheLine and the storeRange/recover
// pair that reads and writes it.
type pcl struct {
	Main [3]uint64
	Back [3]uint64
	TSeq uint64
	_    uint64
}

const pclSize = unsafe.Sizeof(pcl{})

// wordsPerPCL is the number of replica cell slots one pcl backs.
const wordsPerPCL = 3

// tseq packs the id of the thread that last touched a pcl's main words
// together with that thread's commit generation at the time, mirroring
// the original's composeTseq/tseq2tid/tseq2seq. tid occupies the top 8
// bits, leaving 56 bits for the generation.
const (
	tseqTidShift = 56
	tseqMask     = uint64(1)<<tseqTidShift - 1
)

func composeTSeq(tid int, gen uint64) uint64 {
	return (uint64(tid&0xFF) << tseqTidShift) | (gen & tseqMask)
}

func tseqTid(t uint64) int    { return int(t >> tseqTidShift) }
func tseqGen(t uint64) uint64 { return t & tseqMask }

func pclAt(base unsafe.Pointer, idx uintptr) *pcl {
	return (*pcl)(unsafe.Pointer(uintptr(base) + idx*pclSize))
}
