// Command autosync runs and inspects the local-first autosave and sync engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/autosync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
