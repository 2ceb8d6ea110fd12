package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/webskype/internal/auth"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// maxDispatchWorkers caps DISPATCH_WORKERS. Each worker is one
// goroutine; past this the pool only adds scheduling overhead.
const maxDispatchWorkers = 256

// Config holds all environment-based configuration for webskype.
type Config struct {
	// Skype account credentials
	Username string `env:"SKYPE_USERNAME"`
	Password string `env:"SKYPE_PASSWORD"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// LogLevel overrides the environment's default level when set.
	LogLevel string `env:"LOG_LEVEL"`

	// Session tuning. DISPATCH_WORKERS=1 delivers events strictly in
	// arrival order across poll batches.
	DispatchWorkers   int           `env:"DISPATCH_WORKERS" envDefault:"16"`
	KeepaliveInterval time.Duration `env:"KEEPALIVE_INTERVAL" envDefault:"5m"`
	PollTimeout       time.Duration `env:"POLL_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// EndpointName is published to other devices of the account.
	EndpointName string `env:"ENDPOINT_NAME" envDefault:"webskype"`

	// StatePath is the bbolt database for known chats and session
	// history. Defaults to ~/.webskype/state.db.
	StatePath string `env:"STATE_PATH"`

	// MCP server settings. Keys come from MCP_API_KEYS or from keys
	// generated into state; at least one is needed when MCP is enabled.
	EnableMCP     bool   `env:"ENABLE_MCP" envDefault:"false"`
	MCPListenAddr string `env:"MCP_LISTEN_ADDR" envDefault:"127.0.0.1:8091"`
	MCPAPIKeys    string `env:"MCP_API_KEYS"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	p, err := resolveStatePath(cfg.StatePath)
	if err != nil {
		return nil, err
	}

	cfg.StatePath = p

	return cfg, nil
}

// LoadStatePath returns the state database path from STATE_PATH (or
// .env) without requiring the rest of the configuration. Used by
// subcommands that only touch state.
func LoadStatePath() (string, error) {
	_ = godotenv.Load()

	return resolveStatePath(os.Getenv("STATE_PATH"))
}

func resolveStatePath(p string) (string, error) {
	if p == "" {
		def, err := DefaultStatePath()
		if err != nil {
			return "", err
		}

		p = def
	}

	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolving state path to absolute path: %w", err)
	}

	return absPath, nil
}

func (c *Config) validate() error {
	if c.Username == "" {
		return fmt.Errorf("SKYPE_USERNAME is required")
	}

	if c.Password == "" {
		return fmt.Errorf("SKYPE_PASSWORD is required")
	}

	if c.DispatchWorkers < 1 || c.DispatchWorkers > maxDispatchWorkers {
		return fmt.Errorf("DISPATCH_WORKERS must be between 1 and %d, got %d", maxDispatchWorkers, c.DispatchWorkers)
	}

	if c.KeepaliveInterval < time.Second {
		return fmt.Errorf("KEEPALIVE_INTERVAL must be at least 1s, got %s", c.KeepaliveInterval)
	}

	if c.PollTimeout < time.Second {
		return fmt.Errorf("POLL_TIMEOUT must be at least 1s, got %s", c.PollTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout)
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel)
	}

	return nil
}

// DefaultStatePath returns ~/.webskype/state.db.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".webskype", "state.db"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// APIKeyEntry holds a pre-configured API key and its associated user
// identity parsed from MCP_API_KEYS.
type APIKeyEntry struct {
	UserID string
	Key    string
}

// ParseMCPAPIKeys parses the MCP_API_KEYS string.
// Format: "user1:ws_key1,user2:ws_key2"
func (c *Config) ParseMCPAPIKeys() ([]APIKeyEntry, error) {
	if c.MCPAPIKeys == "" {
		return nil, nil
	}

	seenUsers := make(map[string]struct{})

	var entries []APIKeyEntry

	for _, pair := range strings.Split(c.MCPAPIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		userID, key, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("invalid API key entry (missing ':')")
		}

		if userID == "" || key == "" {
			return nil, fmt.Errorf("empty user or key in entry %d", len(entries)+1)
		}

		if !strings.HasPrefix(key, auth.APIKeyPrefix) {
			return nil, fmt.Errorf("API key must start with %q prefix in entry %d", auth.APIKeyPrefix, len(entries)+1)
		}

		if len(key) < auth.APIKeyMinLen {
			return nil, fmt.Errorf("API key too short in entry %d (minimum %d characters)", len(entries)+1, auth.APIKeyMinLen)
		}

		suffix := key[len(auth.APIKeyPrefix):]
		if _, err := hex.DecodeString(suffix); err != nil {
			return nil, fmt.Errorf("API key contains non-hex characters after %q prefix in entry %d", auth.APIKeyPrefix, len(entries)+1)
		}

		if _, dup := seenUsers[userID]; dup {
			return nil, fmt.Errorf("duplicate user_id %q in MCP_API_KEYS", userID)
		}

		seenUsers[userID] = struct{}{}
		entries = append(entries, APIKeyEntry{UserID: userID, Key: key})
	}

	return entries, nil
}
