package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docker/metamcp-gateway/pkg/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate the runtime configuration file",
	}
	cmd.AddCommand(newConfigValidateCommand())
	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Load and validate a configuration file without starting the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := config.NewService(args[0])
			if err != nil {
				return err
			}
			cur := svc.Current()
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: mcp_timeout=%s mcp_max_attempts=%d port=%d\n",
				args[0], cur.MCPTimeout, cur.MCPMaxAttempts, cur.Port)
			return nil
		},
	}
}
