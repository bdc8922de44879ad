//go:build linux

package pmregion

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testAddr is a high, rarely-mapped address used only by this package's
// own tests; production callers pick their own per-runtime constant (see
// pkg/fc, pkg/tl2, pkg/vrtl2).
const testAddr = 0x700000000000

func TestMapCreatesAndZeroesOnFirstUse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")
	cfg := Config{Path: path, Addr: testAddr, Size: 4 << 20}

	r, created, err := Map(cfg)
	if err != nil {
		t.Skipf("fixed-address mmap unavailable in this environment: %v", err)
	}
	defer r.Close()

	require.True(t, created)
	require.Equal(t, cfg.Size, uintptr(len(r.Bytes())))
	require.Equal(t, byte(0), r.Bytes()[0])
}

func TestReattachDoesNotReportCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")
	cfg := Config{Path: path, Addr: testAddr, Size: 4 << 20}

	r1, created, err := Map(cfg)
	if err != nil {
		t.Skipf("fixed-address mmap unavailable in this environment: %v", err)
	}
	require.True(t, created)
	r1.Bytes()[0] = 0x42
	require.NoError(t, r1.Close())

	r2, created2, err := Map(cfg)
	require.NoError(t, err)
	defer r2.Close()
	require.False(t, created2)
	require.Equal(t, byte(0x42), r2.Bytes()[0])
}
