// Package ptmconfig loads the region settings the original hard-coded as
// compile-time macros (PM_REGION_SIZE, PM_REGION_BEGIN, PM_FILE_NAME,
// REGISTRY_MAX_THREADS, MAX_ROOT_POINTERS) from an optional TOML file.
// Default(flavor) returns Trinity's own defaults, and Load fills every
// field the file leaves at zero from them; a zero RegionConfig itself
// holds no defaults.
//
// Grounded on original_source/ptms/trinity/TrinityFC.hpp's and
// TrinityTL2.hpp's macro bank; there is no direct analog in the C++
// original (it's all #define), so this is the Go-idiomatic replacement
// the teacher's own config-file conventions (BurntSushi/toml, present in
// its go.mod) point to.
package ptmconfig

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/pramalhe/durabletx/pkg/fc"
	"github.com/pramalhe/durabletx/pkg/persist"
	"github.com/pramalhe/durabletx/pkg/tl2"
	"github.com/pramalhe/durabletx/pkg/vrtl2"
)

// Default* match the original's macros: PM_REGION_SIZE (1GiB for the
// Trinity flavors), PM_REGION_BEGIN, REGISTRY_MAX_THREADS, and
// MAX_ROOT_POINTERS in TrinityFC.hpp/TrinityTL2.hpp/TrinityVRTL2.hpp.
const (
	DefaultSize       = 1024 * 1024 * 1024
	DefaultAddr       = 0x7fea00000000
	DefaultMaxThreads = 128
	DefaultNumRoots   = 64
)

// Flavor selects which Trinity runtime a RegionConfig opens.
type Flavor string

const (
	FlavorFC    Flavor = "fc"
	FlavorTL2   Flavor = "tl2"
	FlavorVRTL2 Flavor = "vrtl2"
)

// RegionConfig is the TOML-decodable settings a Trinity region opens
// with. The zero value holds no defaults; Default returns them, and Load
// fills every zero field (Path included) from Default after decoding.
type RegionConfig struct {
	Flavor     Flavor `toml:"flavor"`
	Path       string `toml:"path"`
	Addr       uint64 `toml:"addr"`
	Size       uint64 `toml:"size"`
	DAX        bool   `toml:"dax"`
	NumRoots   int    `toml:"num_roots"`
	MaxThreads int    `toml:"max_threads"`
}

// Default returns the original's hard-coded defaults for flavor f, with
// path set to /dev/shm/trinity<flavor>_shared, following the
// PM_FILE_NAME convention.
func Default(f Flavor) RegionConfig {
	return RegionConfig{
		Flavor:     f,
		Path:       fmt.Sprintf("/dev/shm/trinity%s_shared", f),
		Addr:       DefaultAddr,
		Size:       DefaultSize,
		NumRoots:   DefaultNumRoots,
		MaxThreads: DefaultMaxThreads,
	}
}

// Load decodes path into a RegionConfig, filling any field the file
// leaves at its zero value with Default(cfg.Flavor)'s value (so a config
// file only needs to override what it actually cares about).
func Load(path string) (RegionConfig, error) {
	var cfg RegionConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return RegionConfig{}, fmt.Errorf("ptmconfig: decoding %s: %w", path, err)
	}
	return cfg.withDefaults(), nil
}

func (cfg RegionConfig) withDefaults() RegionConfig {
	def := Default(cfg.Flavor)
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.Addr == 0 {
		cfg.Addr = def.Addr
	}
	if cfg.Size == 0 {
		cfg.Size = def.Size
	}
	if cfg.NumRoots == 0 {
		cfg.NumRoots = def.NumRoots
	}
	if cfg.MaxThreads == 0 {
		cfg.MaxThreads = def.MaxThreads
	}
	return cfg
}

// FCConfig, TL2Config, and VRTL2Config adapt a RegionConfig into the
// concrete Config type each runtime's Open expects.
func (cfg RegionConfig) FCConfig() fc.Config {
	return fc.Config{
		Path: cfg.Path, Addr: uintptr(cfg.Addr), Size: uintptr(cfg.Size),
		DAX: cfg.DAX, NumRoots: cfg.NumRoots, MaxThreads: cfg.MaxThreads,
	}
}

func (cfg RegionConfig) TL2Config() tl2.Config {
	return tl2.Config{
		Path: cfg.Path, Addr: uintptr(cfg.Addr), Size: uintptr(cfg.Size),
		DAX: cfg.DAX, NumRoots: cfg.NumRoots, MaxThreads: cfg.MaxThreads,
	}
}

func (cfg RegionConfig) VRTL2Config() vrtl2.Config {
	return vrtl2.Config{
		Path: cfg.Path, Addr: uintptr(cfg.Addr), Size: uintptr(cfg.Size),
		DAX: cfg.DAX, NumRoots: cfg.NumRoots, MaxThreads: cfg.MaxThreads,
	}
}

// Open opens cfg's region under whichever runtime cfg.Flavor names.
func Open(cfg RegionConfig) (persist.Runtime, error) {
	switch cfg.Flavor {
	case FlavorFC, "":
		return fc.Open(cfg.FCConfig())
	case FlavorTL2:
		return tl2.Open(cfg.TL2Config())
	case FlavorVRTL2:
		return vrtl2.Open(cfg.VRTL2Config())
	default:
		return nil, fmt.Errorf("ptmconfig: unknown flavor %q", cfg.Flavor)
	}
}
