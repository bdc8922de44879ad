package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/pramalhe/durabletx/pkg/fc"
	"github.com/pramalhe/durabletx/pkg/ptmconfig"
	"github.com/pramalhe/durabletx/pkg/tl2"
	"github.com/pramalhe/durabletx/pkg/vrtl2"
)

type inspectCmd struct {
	flags regionFlags
}

func (*inspectCmd) Name() string     { return "inspect" }
func (*inspectCmd) Synopsis() string { return "dump a region's header and root pointer table" }
func (*inspectCmd) Usage() string {
	return "inspect -path <file> [-flavor fc|tl2|vrtl2] [-config <file>]\n"
}

func (c *inspectCmd) SetFlags(fs *flag.FlagSet) { c.flags.register(fs) }

func (c *inspectCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := c.flags.resolve()
	if err != nil {
		fmt.Println(err)
		return subcommands.ExitUsageError
	}

	rt, err := ptmconfig.Open(cfg)
	if err != nil {
		fmt.Printf("ptmctl: open failed: %v\n", err)
		return subcommands.ExitFailure
	}
	defer rt.Close()

	fmt.Printf("region: %s\n", cfg.Path)
	fmt.Printf("flavor: %s\n", rt.Name())

	switch r := rt.(type) {
	case *fc.Runtime:
		info := r.Inspect()
		fmt.Printf("magic:     %#x\n", info.Magic)
		fmt.Printf("num_roots: %d\n", info.NumRoots)
		fmt.Printf("p_seq:     %d\n", info.PSeq)
		printRoots(info.Roots)
	case *tl2.Runtime:
		info := r.Inspect()
		fmt.Printf("magic:     %#x\n", info.Magic)
		fmt.Printf("num_roots: %d\n", info.NumRoots)
		fmt.Printf("clock:     %d\n", info.Clock)
		printRoots(info.Roots)
	case *vrtl2.Runtime:
		info := r.Inspect()
		fmt.Printf("magic:     %#x\n", info.Magic)
		fmt.Printf("num_roots: %d\n", info.NumRoots)
		fmt.Printf("clock:     %d\n", info.Clock)
		printRoots(info.Roots)
	default:
		fmt.Println("ptmctl: unrecognized runtime type")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printRoots(roots []uint64) {
	for i, r := range roots {
		if r == 0 {
			continue
		}
		fmt.Printf("root[%d]:   %#x\n", i, r)
	}
}
