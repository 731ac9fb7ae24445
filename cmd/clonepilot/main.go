// ABOUTME: Entry point for the clonepilot relay CLI
// ABOUTME: Cobra root command wiring serve, init, token, health, send and version

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/clonepilot/internal/config"
	"github.com/2389/clonepilot/internal/gateway"
)

// version is set with -ldflags "-X main.version=..." at build time.
var version = "dev"

const banner = `
       _                        _ _       _
   ___| | ___  _ __   ___ _ __ (_) | ___ | |_
  / __| |/ _ \| '_ \ / _ \ '_ \| | |/ _ \| __|
 | (__| | (_) | | | |  __/ |_) | | | (_) | |_
  \___|_|\___/|_| |_|\___| .__/|_|_|\___/ \__|
                         |_|
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// rootOptions are flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	gateway.Version = version

	rootCmd := &cobra.Command{
		Use:          "clonepilot",
		Short:        "Relay contacts to a Direct Line agent over HTTP",
		Long:         "clonepilot serves a small HTTP API that relays contact messages to a Copilot Studio / Bot Framework agent over the Direct Line REST protocol and returns the agent's reply.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default $CLONEPILOT_CONFIG or ./config.yaml)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newInitCmd(opts),
		newTokenCmd(opts),
		newHealthCmd(opts),
		newSendCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig loads the resolved config file. When no path was given and the
// default file does not exist, defaults plus environment overrides are used.
func (o *rootOptions) loadConfig() (*config.Config, string, error) {
	path := config.ResolvePath(o.configPath)

	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if o.configPath == "" && os.Getenv("CLONEPILOT_CONFIG") == "" && errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Parse(nil)
		if err != nil {
			return nil, "", fmt.Errorf("loading default config: %w", err)
		}
		return cfg, "(defaults + environment)", nil
	}
	return nil, "", fmt.Errorf("loading config: %w", err)
}

// relayURL is the base URL of a relay running with cfg.
func relayURL(cfg *config.Config) string {
	if cfg.Tailscale.Enabled {
		scheme := "http"
		if cfg.Tailscale.HTTPS || cfg.Tailscale.Funnel {
			scheme = "https"
		}
		return scheme + "://" + cfg.Tailscale.Hostname
	}
	return "http://" + cfg.Server.HTTPAddr
}
