// ABOUTME: health subcommand probing a running relay
// ABOUTME: Exits non-zero when /health does not answer 200

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/2389/clonepilot/internal/client"
)

func newHealthCmd(opts *rootOptions) *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check relay health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				cfg, _, err := opts.loadConfig()
				if err != nil {
					return err
				}
				url = relayURL(cfg)
			}

			if err := client.New(url).Health(cmd.Context()); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return err
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "relay base URL (default from config)")
	return cmd
}
