// ABOUTME: Entry point for the clonepilot-matrix bridge
// ABOUTME: Relays Matrix room messages to a clonepilot relay and posts the agent's replies

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/clonepilot/internal/bridge"
	"github.com/2389/clonepilot/internal/config"
	"github.com/2389/clonepilot/internal/logging"
)

const banner = `
    ╭──────────────────────────────────╮
    │                                  │
    │     clonepilot  ⇄  matrix        │
    │                                  │
    ╰──────────────────────────────────╯
`

// getConfigPath returns the path to the matrix bridge config file.
// Priority: CLONEPILOT_MATRIX_CONFIG > XDG_CONFIG_HOME/clonepilot/matrix-bridge.toml > ~/.config/clonepilot/matrix-bridge.toml
func getConfigPath() string {
	if envPath := os.Getenv("CLONEPILOT_MATRIX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "matrix-bridge.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "clonepilot", "matrix-bridge.toml")
}

func main() {
	run := runBridge
	if len(os.Args) > 1 && os.Args[1] == "init" {
		run = runInit
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runBridge() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()
	cfg, err := bridge.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := logging.New(config.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("User:       %s\n", cfg.Matrix.UserID)
	green.Print("    ▶ ")
	fmt.Printf("Relay:      %s\n", cfg.Relay.URL)
	if len(cfg.Bridge.AllowedRooms) > 0 {
		green.Print("    ▶ ")
		fmt.Printf("Rooms:      %s\n", strings.Join(cfg.Bridge.AllowedRooms, ", "))
	}
	fmt.Println()

	b, err := bridge.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return b.Run(ctx)
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		fmt.Print("    Overwrite? [y/N]: ")
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Println("    Aborted.")
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(bridge.Sample), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println("      Fill in the Matrix access token and relay URL, then run clonepilot-matrix.")
	return nil
}
