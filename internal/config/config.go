// Package config loads the vaultd configuration.
//
// Sources are layered, later ones overriding earlier ones: built-in
// defaults, an optional YAML file, the legacy PORT / DATABASE_URL /
// REDIS_URL variables, and finally VAULTD_ prefixed environment variables
// where `__` separates levels (VAULTD_STORAGE__POSTGRES_DSN).
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"github.com/atmx/vault-engine/internal/vault"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VAULTD_"

// Config contains the service configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Storage    StorageConfig    `koanf:"storage"`
	Settlement SettlementConfig `koanf:"settlement"`
	Log        LogConfig        `koanf:"log"`
	Vault      VaultConfig      `koanf:"vault"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StorageConfig selects the store. With a PostgreSQL DSN vault records,
// custody positions and LP mints are all kept there; without one the
// service runs fully in memory.
type StorageConfig struct {
	PostgresDSN string        `koanf:"postgres_dsn"`
	RedisURL    string        `koanf:"redis_url"`
	CacheTTL    time.Duration `koanf:"cache_ttl"`
	// Migrate creates the schema on startup.
	Migrate bool `koanf:"migrate"`
}

// SettlementConfig configures the custody side.
type SettlementConfig struct {
	// FaucetLimit enables POST /api/v1/faucet, crediting at most this many
	// units per request. Zero disables it.
	FaucetLimit uint64 `koanf:"faucet_limit"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or text
}

// VaultConfig holds vault program settings.
type VaultConfig struct {
	// ProgramID overrides the program vault addresses are derived under.
	ProgramID string `koanf:"program_id"`
	// DefaultCapacity is used for multi token vaults created without one.
	DefaultCapacity int `koanf:"default_capacity"`
}

var defaults = map[string]interface{}{
	"server.port":             8080,
	"server.read_timeout":     "10s",
	"server.write_timeout":    "10s",
	"server.idle_timeout":     "60s",
	"server.request_timeout":  "30s",
	"server.shutdown_timeout": "5s",
	"storage.cache_ttl":       "30s",
	"storage.migrate":         true,
	"settlement.faucet_limit": 0,
	"log.level":               "info",
	"log.format":              "json",
	"vault.default_capacity":  8,
}

// legacyEnv maps the pre-prefix variables onto config keys.
var legacyEnv = map[string]string{
	"PORT":         "server.port",
	"DATABASE_URL": "storage.postgres_dsn",
	"REDIS_URL":    "storage.redis_url",
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, err
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	legacy := make(map[string]interface{})
	for name, key := range legacyEnv {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			legacy[key] = v
		}
	}
	if err := k.Load(confmap.Provider(legacy, "."), nil); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		// `__` is used as a hierarchy delimiter.
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate performs config validation.
func (cfg *Config) Validate() error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server: port %d out of range", cfg.Server.Port)
	}
	if cfg.Storage.RedisURL != "" && cfg.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage: redis_url requires postgres_dsn")
	}
	if _, err := cfg.Log.SlogLevel(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("log: unknown format %q", cfg.Log.Format)
	}
	if _, err := cfg.Vault.Program(); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if c := cfg.Vault.DefaultCapacity; c < 1 || c > vault.MaxCapacity {
		return fmt.Errorf("vault: default_capacity %d not in [1, %d]", c, vault.MaxCapacity)
	}
	return nil
}

// SlogLevel parses the configured level.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(c.Level))
	return l, err
}

// NewLogger builds the process logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, _ := c.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Program returns the vault program id.
func (c VaultConfig) Program() (solana.PublicKey, error) {
	if c.ProgramID == "" {
		return vault.ProgramID, nil
	}
	return solana.PublicKeyFromBase58(c.ProgramID)
}
