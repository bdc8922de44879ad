package fc

import (
	"errors"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/pramalhe/durabletx/pkg/persist"
)

const testAddr = 0x710000000000

var errBoom = errors.New("boom")

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
		cell.Store(tx, 42)
		rt.PutObject(tx, 0, ptr)
		return nil
	}))

	require.NoError(t, rt.ReadTx(func(tx persist.Tx) error {
		cell := (*persist.Cell[uint64])(cellAddr)
		require.Equal(t, uint64(42), cell.Load(tx))
		return nil
	}))
	require.Equal(t, cellAddr, rt.GetObject(0))
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

func TestUpdateTxRollsBackOnError(t *testing.T) {
	rt := openTestRuntime(t)

	var cell persist.Cell[uint64]
	require.NoError(t, rt.UpdateTxSeq(func(tx persist.Tx) error {
		cell.Store(tx, 1)
		return nil
	}))

	sentinel := require.New(t)
	err := rt.UpdateTx(func(tx persist.Tx) error {
		cell.Store(tx, 2)
		return errBoom
	})
	sentinel.ErrorIs(err, errBoom)

	require.NoError(t, rt.ReadTx(func(tx persist.Tx) error {
		sentinel.Equal(uint64(1), cell.Load(tx))
		return nil
	}))
}
