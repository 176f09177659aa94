package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProviderConfig holds the OAuth application (or API key) for one provider.
type ProviderConfig struct {
	ClientID     string `yaml:"client-id"`
	ClientSecret string `yaml:"client-secret"`
	// TokenURL overrides the provider's default token endpoint. Used in tests
	// and for sovereign-cloud deployments.
	TokenURL string `yaml:"token-url"`
	// APIKey is used by providers that authenticate with a static key instead
	// of user OAuth (weather).
	APIKey string `yaml:"api-key"`
}

// RedisConfig holds the optional redis connection for the scheduler leader lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// OpsConfig holds the optional operations HTTP surface.
type OpsConfig struct {
	Listen string `yaml:"listen"`
	// APIKeyHashes are bcrypt hashes of accepted ops API keys.
	APIKeyHashes []string `yaml:"api-key-hashes"`
}

// LogConfig holds logging output configuration.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// EngineConfig holds startup defaults for the scheduler and executor. Tick
// interval and pool sizing can additionally be tuned at runtime through the
// settings table.
type EngineConfig struct {
	TickIntervalSeconds int `yaml:"tick-interval-seconds"`
	EvalConcurrency     int `yaml:"eval-concurrency"`
	ReactionWorkers     int `yaml:"reaction-workers"`
	QueueCapacity       int `yaml:"queue-capacity"`
}

// Config is the root application configuration.
type Config struct {
	Database  string                    `yaml:"database"`
	Redis     RedisConfig               `yaml:"redis"`
	Ops       OpsConfig                 `yaml:"ops"`
	Log       LogConfig                 `yaml:"log"`
	Engine    EngineConfig              `yaml:"engine"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "config.yaml"

// ResolveConfigPath returns the effective config path for a possibly empty flag value.
func ResolveConfigPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return DefaultConfigPath
	}
	return filepath.Clean(trimmed)
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, errRead)
	}

	var cfg Config
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, fmt.Errorf("config: %s: database dsn is required", path)
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	return &cfg, nil
}

// Provider returns the configuration for a provider name, if present.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	if c == nil {
		return ProviderConfig{}, false
	}
	pc, ok := c.Providers[strings.ToLower(strings.TrimSpace(name))]
	return pc, ok
}
