// ABOUTME: Entry point for unconv-server, the environmental sensor reading backend
// ABOUTME: Dispatches serve, init, bootstrap, issue-token and health commands

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/unconv/unconv-server/internal/config"
	"github.com/unconv/unconv-server/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                                    
 _   _ _ __   ___ ___  _ ____   __      ___  ___ _ ____   _____ _ __ 
| | | | '_ \ / __/ _ \| '_ \ \ / /____ / __|/ _ \ '__\ \ / / _ \ '__|
| |_| | | | | (_| (_) | | | \ V /_____|\__ \  __/ |   \ V /  __/ |   
 \__,_|_| |_|\___\___/|_| |_|\_/       |___/\___|_|    \_/ \___|_|   
`

// getConfigPath returns the path to the server config file.
// Priority: UNCONV_CONFIG env var > XDG_CONFIG_HOME/unconv/server.yaml > ~/.config/unconv/server.yaml
func getConfigPath() string {
	if envPath := os.Getenv("UNCONV_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "server.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "unconv", "server.yaml")
}

// getDataPath returns the path to the unconv data directory.
// Priority: XDG_DATA_HOME/unconv > ~/.local/share/unconv
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "unconv")
}

func usage() {
	fmt.Println("Usage: unconv-server <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                                     Start the server")
	fmt.Println("  init                                      Write a config file with a random JWT secret")
	fmt.Println("  bootstrap --name USER --password PW       Create a user and print a bearer token")
	fmt.Println("  issue-token --user USER --sensor ID       Issue a sensor API token (--ttl 720h)")
	fmt.Println("  health                                    Check server health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(args)
	case "bootstrap":
		err = runBootstrap(ctx, args)
	case "issue-token":
		err = runIssueToken(ctx, args)
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Driver)
	if !cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	if cfg.Sink.ClickHouseDSN != "" {
		green.Print("    ▶ ")
		fmt.Println("Sink:      clickhouse")
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting unconv-server",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Driver,
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
