package alloc

import (
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// directAccessor is the simplest possible persist.WordAccessor: it applies
// every store immediately with no undo-logging or locking. It stands in
// for a runtime's Tx in tests that only care about the allocator's own
// bookkeeping, not crash recovery or conflict detection.
type directAccessor struct{}

func (directAccessor) LoadWord(addr *uint64) uint64     { return atomic.LoadUint64(addr) }
func (directAccessor) StoreWord(addr *uint64, v uint64) { atomic.StoreUint64(addr, v) }

func newTestPool(t *testing.T, arenaSize uintptr) *Pool {
	t.Helper()
	buf := make([]byte, arenaSize)
	base := unsafe.Pointer(&buf[0])
	t.Cleanup(func() { _ = buf }) // keep buf alive for the pool's lifetime
	return Init(base, arenaSize, 4, func() int { return 4 })
}

func TestMallocReturnsDistinctNonOverlappingBlocks(t *testing.T) {
	p := newTestPool(t, 1<<20)
	v := NewValidator()
	p.WithValidator(v)
	tx := directAccessor{}

	var ptrs []unsafe.Pointer
	for i := 0; i < 100; i++ {
		ptr, err := p.Malloc(tx, 0, 64)
		require.NoError(t, err)
		require.NotNil(t, ptr)
		ptrs = append(ptrs, ptr)
	}
	require.NoError(t, v.AssertNoOverlap())
	require.Equal(t, 100, v.Len())

	seen := make(map[unsafe.Pointer]bool)
	for _, p := range ptrs {
		require.False(t, seen[p], "duplicate pointer returned")
		seen[p] = true
	}
}

func TestFreeThenMallocReusesBlock(t *testing.T) {
	p := newTestPool(t, 1<<20)
	tx := directAccessor{}

	first, err := p.Malloc(tx, 0, 128)
	require.NoError(t, err)

	require.NoError(t, p.Free(tx, 0, first))
	second, err := p.Malloc(tx, 0, 128)
	require.NoError(t, err)

	require.Equal(t, first, second, "freed block should be reused before growing the arena")
}

func TestMallocFailsWhenArenaExhausted(t *testing.T) {
	p := newTestPool(t, 256<<10)
	tx := directAccessor{}

	var lastErr error
	for i := 0; i < 1000; i++ {
		_, err := p.Malloc(tx, 0, 1<<20)
		if err != nil {
			lastErr = err
			break
		}
	}
	require.Error(t, lastErr)
}

func TestFreeMigratesToGlobalFreelistPastThreshold(t *testing.T) {
	p := newTestPool(t, 4<<20)
	tx := directAccessor{}

	const size = 32
	var ptrs []unsafe.Pointer
	for i := 0; i < migrationThreshold+5; i++ {
		ptr, err := p.Malloc(tx, 0, size)
		require.NoError(t, err)
		ptrs = append(ptrs, ptr)
	}
	for _, ptr := range ptrs {
		require.NoError(t, p.Free(tx, 0, ptr))
	}

	bsizeExp := highestBit(uint64(size) + uint64(headerSize))
	require.LessOrEqual(t, p.perThread[0][bsizeExp].count.Load(tx), uint64(migrationThreshold))
	require.Greater(t, p.global[bsizeExp].count.Load(tx), uint64(0))
}

func TestHighestBitRoundsUpToPowerOfTwo(t *testing.T) {
	require.Equal(t, uint64(4), highestBit(16))
	require.Equal(t, uint64(5), highestBit(17))
	require.Equal(t, uint64(5), highestBit(32))
	require.Equal(t, uint64(6), highestBit(33))
}
