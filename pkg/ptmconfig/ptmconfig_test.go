package ptmconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFillsDefaultsForUnsetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "region.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
flavor = "tl2"
path = "/dev/shm/custom_region"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, FlavorTL2, cfg.Flavor)
	require.Equal(t, "/dev/shm/custom_region", cfg.Path)
	require.Equal(t, uint64(DefaultAddr), cfg.Addr)
	require.Equal(t, uint64(DefaultSize), cfg.Size)
	require.Equal(t, DefaultNumRoots, cfg.NumRoots)
	require.Equal(t, DefaultMaxThreads, cfg.MaxThreads)
}

func TestLoadHonorsExplicitOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "region.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
flavor = "vrtl2"
path = "/dev/shm/vr_region"
size = 67108864
max_threads = 16
num_roots = 8
dax = true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, FlavorVRTL2, cfg.Flavor)
	require.Equal(t, uint64(64<<20), cfg.Size)
	require.Equal(t, 16, cfg.MaxThreads)
	require.Equal(t, 8, cfg.NumRoots)
	require.True(t, cfg.DAX)
}

func TestDefaultUsesFlavorSpecificPath(t *testing.T) {
	cfg := Default(FlavorFC)
	require.Equal(t, "/dev/shm/trinityfc_shared", cfg.Path)
	require.Equal(t, uint64(DefaultAddr), cfg.Addr)
}
