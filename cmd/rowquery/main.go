// Command rowquery is the CLI for the rowquery data access toolkit.
package main

import (
	"os"

	"github.com/rowquery/rowquery-go/cli/commands"
	"github.com/rowquery/rowquery-go/internal/cli/ui"
)

func main() {
	if err := commands.Execute(); err != nil {
		ui.PrintError("%v", err)
		os.Exit(1)
	}
}
