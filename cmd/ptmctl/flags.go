package main

import (
	"flag"
	"fmt"

	"github.com/pramalhe/durabletx/pkg/ptmconfig"
)

// regionFlags are the region-selection flags inspect and recover share:
// which flavor to open as, and the config file (if any) to load
// RegionConfig overrides from.
type regionFlags struct {
	flavor     string
	configPath string
	path       string
	addr       uint64
	size       uint64
	numRoots   int
	maxThreads int
}

func (f *regionFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.flavor, "flavor", "fc", "region flavor: fc, tl2, or vrtl2")
	fs.StringVar(&f.configPath, "config", "", "optional TOML config file (see pkg/ptmconfig)")
	fs.StringVar(&f.path, "path", "", "backing file path (overrides config/defaults)")
	fs.Uint64Var(&f.addr, "addr", 0, "fixed mapping address (overrides config/defaults)")
	fs.Uint64Var(&f.size, "size", 0, "region size in bytes (overrides config/defaults)")
	fs.IntVar(&f.numRoots, "num-roots", 0, "root pointer table size (overrides config/defaults)")
	fs.IntVar(&f.maxThreads, "max-threads", 0, "thread registry capacity (overrides config/defaults)")
}

func (f *regionFlags) resolve() (ptmconfig.RegionConfig, error) {
	var cfg ptmconfig.RegionConfig
	if f.configPath != "" {
		var err error
		cfg, err = ptmconfig.Load(f.configPath)
		if err != nil {
			return ptmconfig.RegionConfig{}, err
		}
	} else {
		cfg = ptmconfig.Default(ptmconfig.Flavor(f.flavor))
	}
	if f.flavor != "" {
		cfg.Flavor = ptmconfig.Flavor(f.flavor)
	}
	if f.path != "" {
		cfg.Path = f.path
	}
	if f.addr != 0 {
		cfg.Addr = f.addr
	}
	if f.size != 0 {
		cfg.Size = f.size
	}
	if f.numRoots != 0 {
		cfg.NumRoots = f.numRoots
	}
	if f.maxThreads != 0 {
		cfg.MaxThreads = f.maxThreads
	}
	if cfg.Path == "" {
		return ptmconfig.RegionConfig{}, fmt.Errorf("ptmctl: -path or -config is required")
	}
	return cfg, nil
}
