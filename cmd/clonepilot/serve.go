// ABOUTME: serve subcommand running the relay HTTP API
// ABOUTME: Prints the startup banner, builds the gateway and blocks until a signal

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/clonepilot/internal/config"
	"github.com/2389/clonepilot/internal/gateway"
	"github.com/2389/clonepilot/internal/logging"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, configPath, err := opts.loadConfig()
			if err != nil {
				return err
			}

			printStartup(cfg, configPath)

			logger := logging.New(cfg.Logging)
			logger.Info("starting clonepilot",
				"config", configPath,
				"http_addr", cfg.Server.HTTPAddr,
				"endpoint", cfg.DirectLine.Endpoint,
				"policy", cfg.Polling.Policy,
			)

			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}

func printStartup(cfg *config.Config, configPath string) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Direct Line: %s\n", cfg.DirectLine.Endpoint)
	green.Print("    ▶ ")
	fmt.Printf("Policy:     %s\n", cfg.Polling.Policy)

	green.Print("    ▶ ")
	if cfg.Database.InMemory() {
		fmt.Println("Sessions:   in memory")
	} else {
		fmt.Printf("Sessions:   %s\n", cfg.Database.Path)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale:  ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:       %s\n", cfg.Server.HTTPAddr)
	}

	if cfg.DirectLine.Secret == "" && !cfg.DirectLine.OAuth.Enabled() {
		yellow.Println("    ! no directline.secret or oauth configured, relay calls will fail")
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! auth.jwt_secret not set, the API is open")
	}
	fmt.Println()
}
