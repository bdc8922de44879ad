// Command ptmctl is an operational tool over a Trinity region file: it
// does not benchmark (that stays out of scope, see spec.md §1), it
// inspects and repairs one already on disk, analogous to the teacher's
// own runsc subcommand tree.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&inspectCmd{}, "")
	subcommands.Register(&recoverCmd{}, "")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}
