package roottable_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pramalhe/durabletx/pkg/fc"
	"github.com/pramalhe/durabletx/pkg/persist"
	"github.com/pramalhe/durabletx/pkg/roottable"
)

type counter struct {
	Value persist.Cell[uint64]
}

func openTestRuntime(t *testing.T) *fc.Runtime {
	t.Helper()
	rt, err := fc.Open(fc.Config{
		Path: filepath.Join(t.TempDir(), "region"),
		Addr: 0x730000000000,
		Size: 16 << 20,
	})
	if err != nil {
		t.Skipf("fixed-address mmap unavailable in this environment: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestEnsureRootCreatesOnceAndReusesAfter(t *testing.T) {
	rt := openTestRuntime(t)

	var first *counter
	require.NoError(t, rt.UpdateTx(func(tx persist.Tx) error {
		c, err := roottable.EnsureRoot[counter](rt, tx, 0)
		if err != nil {
			return err
		}
		first = c
		c.Value.Store(tx, 5)
		return nil
	}))

	require.NoError(t, rt.UpdateTx(func(tx persist.Tx) error {
		c, err := roottable.EnsureRoot[counter](rt, tx, 0)
		if err != nil {
			return err
		}
		require.Equal(t, first, c)
		require.Equal(t, uint64(5), c.Value.Load(tx))
		return nil
	}))
}
