package tl2

import (
	"path/filepath"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/pramalhe/durabletx/pkg/persist"
)

const testAddr = 0x720000000000

func openTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	cfg := Config{
		Path: filepath.Join(t.TempDir(), "region"),
		Addr: testAddr,
		Size: 16 << 20,
	}
	rt, err := Open(cfg)
	if err != nil {
		t.Skipf("fixed-address mmap unavailable in this environment: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestUpdateTxCommitsAndReadTxObservesIt(t *testing.T) {
	rt := openTestRuntime(t)

	var cellAddr unsafe.Pointer
	require.NoError(t, rt.UpdateTx(func(tx persist.Tx) error {
		ptr, err := rt.TMMalloc(tx, 8)
		if err != nil {
			return err
		}
		cellAddr = ptr
		cell := (*persist.Cell[uint64])(ptr)
		cell.Store(tx, 7)
		rt.PutObject(tx, 0, ptr)
		return nil
	}))

	require.NoError(t, rt.ReadTx(func(tx persist.Tx) error {
		cell := (*persist.Cell[uint64])(cellAddr)
		require.Equal(t, uint64(7), cell.Load(tx))
		return nil
	}))
}

func TestReadTxRejectsStores(t *testing.T) {
	rt := openTestRuntime(t)

	err := rt.ReadTx(func(tx persist.Tx) error {
		var v uint64
		tx.StoreWord(&v, 1)
		return nil
	})
	require.ErrorIs(t, err, persist.ErrAPIMisuse)
}

func TestConcurrentUpdateTxSerializesIncrements(t *testing.T) {
	rt := openTestRuntime(t)

	var cell persist.Cell[uint64]
	require.NoError(t, rt.UpdateTxSeq(func(tx persist.Tx) error {
		cell.Store(tx, 0)
		return nil
	}))

	const goroutines, perGoroutine = 8, 50
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				err := rt.UpdateTx(func(tx persist.Tx) error {
					cell.Inc(tx)
					return nil
				})
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, rt.ReadTx(func(tx persist.Tx) error {
		require.Equal(t, uint64(goroutines*perGoroutine), cell.Load(tx))
		return nil
	}))
}
