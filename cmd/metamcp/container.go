package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

func newContainerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "container",
		Short: "Manage supervised backend containers on a running gateway",
	}
	cmd.AddCommand(newContainerRetryCommand())
	return cmd
}

func newContainerRetryCommand() *cobra.Command {
	var (
		addr  string
		token string
	)

	cmd := &cobra.Command{
		Use:   "retry <server-uuid>",
		Short: "Ask a running gateway to retry a backend container stuck in an error state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return retryContainer(cmd, addr, token, args[0])
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "base URL of the running gateway")
	cmd.Flags().StringVar(&token, "token", "", "gateway auth token (MCP_GATEWAY_AUTH_TOKEN), if the gateway requires one")
	return cmd
}

// retryContainer reaches into a separate, already-running `metamcp serve`
// process over HTTP: there's no other IPC path to its in-memory
// supervisor.Supervisor, so a CLI-only retry has to go through the admin
// route gateway.Registry.Mux exposes.
func retryContainer(cmd *cobra.Command, addr, token, serverUUID string) error {
	url := fmt.Sprintf("%s/admin/containers/%s/retry", addr, serverUUID)
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("contacting gateway at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway returned %s: %s", resp.Status, body)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "retry requested for %s\n", serverUUID)
	return nil
}
