package vrtl2

import (
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/pramalhe/durabletx/pkg/persist"
)

const testAddr = 0x740000000000

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
		cell.Store(tx, 99)
		rt.PutObject(tx, 0, ptr)
		return nil
	}))

	require.NoError(t, rt.ReadTx(func(tx persist.Tx) error {
		cell := (*persist.Cell[uint64])(cellAddr)
		require.Equal(t, uint64(99), cell.Load(tx))
		return nil
	}))
}

func TestRangeStoreAndRangeLoadRoundTrip(t *testing.T) {
	rt := openTestRuntime(t)

	const n = 37 // deliberately not a multiple of 8, to exercise the split path
	want := make([]byte, n)
	for i := range want {
		want[i] = byte(i*7 + 3)
	}

	var bufAddr unsafe.Pointer
	require.NoError(t, rt.UpdateTx(func(tx persist.Tx) error {
		ptr, err := rt.TMMalloc(tx, RangeSize(n))
		if err != nil {
			return err
		}
		bufAddr = ptr
		vtx := tx.(*Tx)
		vtx.RangeStore(ptr, want)
		return nil
	}))

	require.NoError(t, rt.ReadTx(func(tx persist.Tx) error {
		vtx := tx.(*Tx)
		got := make([]byte, n)
		vtx.RangeLoad(bufAddr, got)
		require.Equal(t, want, got)
		return nil
	}))
}

func TestRangeSetFillsEveryByte(t *testing.T) {
	rt := openTestRuntime(t)

	const n = 20
	var bufAddr unsafe.Pointer
	require.NoError(t, rt.UpdateTx(func(tx persist.Tx) error {
		ptr, err := rt.TMMalloc(tx, RangeSize(n))
		if err != nil {
			return err
		}
		bufAddr = ptr
		tx.(*Tx).RangeSet(ptr, n, 0xAB)
		return nil
	}))

	require.NoError(t, rt.ReadTx(func(tx persist.Tx) error {
		got := make([]byte, n)
		tx.(*Tx).RangeLoad(bufAddr, got)
		for _, b := range got {
			require.Equal(t, byte(0xAB), b)
		}
		return nil
	}))
}
