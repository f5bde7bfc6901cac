// Command metamcp runs the MetaMCP aggregation gateway: one process that
// fans a set of namespaces, each backed by its own group of downstream MCP
// servers, out to upstream clients behind a single mangled tool surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "metamcp",
		Short:         "MetaMCP aggregation gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newConfigCommand())
	root.AddCommand(newContainerCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "metamcp:", err)
		os.Exit(1)
	}
}
