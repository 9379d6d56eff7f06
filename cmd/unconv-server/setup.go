// ABOUTME: Offline setup commands: config generation, first user bootstrap and sensor token issuance
// ABOUTME: These open the store directly and never talk to a running server

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"

	"github.com/unconv/unconv-server/internal/admin"
	"github.com/unconv/unconv-server/internal/auth"
	"github.com/unconv/unconv-server/internal/config"
	"github.com/unconv/unconv-server/internal/store"
)

const configTemplate = `# unconv-server configuration
# Generated by unconv-server %s

server:
  http_addr: "%s"

database:
  driver: "sqlite"
  path: "%s"

auth:
  jwt_secret: "%s"
  jwt_issuer: "UNCONV"
  jwt_ttl: "24h"
  sensor_token_param: "access_token"
  sensor_token_ttl: "2160h"
  token_cleanup_interval: "1h"

ingest:
  max_batch: 1000
  idempotency_ttl: "10m"

sink:
  # clickhouse_dsn: "clickhouse://default:@localhost:9000/unconv"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: false
  path: "/metrics"
`

// randomSecret returns a base64 encoded 32 byte secret.
func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// writeDefaultConfig writes a config with a fresh JWT secret to configPath.
func writeDefaultConfig(configPath, dataPath, httpAddr, generatedBy string) error {
	secret, err := randomSecret()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "unconv.db")
	content := fmt.Sprintf(configTemplate, generatedBy, httpAddr, dbPath, secret)
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	httpAddr := fs.String("http-addr", "localhost:8080", "HTTP listen address")
	force := fs.Bool("force", false, "overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil && !*force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
	}

	if err := writeDefaultConfig(configPath, getDataPath(), *httpAddr, "init"); err != nil {
		return err
	}

	color.New(color.FgGreen).Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println()
	fmt.Println("  Next:")
	fmt.Println("    unconv-server bootstrap --name USER --password PW")
	fmt.Println("    unconv-server serve")
	return nil
}

// openStore loads the config and opens its store.
func openStore(configPath string) (*config.Config, store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := store.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, s, nil
}

// quietLogger discards service logs so command output stays readable.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runBootstrap performs first-time setup:
// 1. Creates a config file with a random JWT secret (if none exists)
// 2. Registers the first user
// 3. Prints a bearer token for that user
func runBootstrap(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	name := fs.String("name", "", "username to create")
	password := fs.String("password", "", "password for the new user")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if *name == "" {
		return errors.New("--name flag is required")
	}
	if *password == "" {
		return errors.New("--password flag is required")
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeDefaultConfig(configPath, getDataPath(), "localhost:8080", "bootstrap"); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	res, err := bootstrapUser(ctx, configPath, *name, *password)
	if err != nil {
		return err
	}

	green.Printf("  ✓ Created user: %s\n", *name)
	fmt.Println()
	cyan.Println("  Bearer Token")
	cyan.Println("  ------------")
	fmt.Printf("  %s\n", res.Token)
	fmt.Printf("  expires %s\n", res.ExpiresAt.Format("Jan 02, 2006 15:04 MST"))
	fmt.Println()
	return nil
}

// bootstrapUser registers username and logs it in.
func bootstrapUser(ctx context.Context, configPath, username, password string) (*admin.LoginResult, error) {
	cfg, s, err := openStore(configPath)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTIssuer)
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	accounts := admin.NewAccountService(s, auth.NewBcryptHasher(cfg.Auth.BcryptCost), verifier, cfg.Auth.JWTTTL, quietLogger())
	if _, err := accounts.Register(ctx, username, "", password); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return accounts.Login(ctx, username, password)
}

func runIssueToken(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	user := fs.String("user", "", "owner of the sensor system")
	sensor := fs.String("sensor", "", "sensor system ID")
	ttl := fs.Duration("ttl", 0, "token lifetime, e.g. 720h (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *sensor == "" {
		return errors.New("--user and --sensor are required")
	}

	issued, err := issueSensorToken(ctx, getConfigPath(), *user, *sensor, *ttl)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Printf("  ✓ Issued sensor token %s\n", issued.ID)
	fmt.Println()
	fmt.Printf("  Token:   %s\n", issued.Token)
	fmt.Printf("  Expires: %s\n", issued.ExpiresAt.Format(time.RFC3339))
	fmt.Println()
	yellow.Println("  The token is shown once; store it on the sensor now.")
	return nil
}

func issueSensorToken(ctx context.Context, configPath, username, sensorSystemID string, ttl time.Duration) (*admin.IssuedToken, error) {
	cfg, s, err := openStore(configPath)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	tokens := admin.NewTokenService(s, auth.NewIssuer(auth.NewBcryptHasher(cfg.Auth.BcryptCost)), cfg.Auth.SensorTokenTTL, quietLogger())
	issued, err := tokens.Issue(ctx, username, sensorSystemID, ttl)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}
	return issued, nil
}
