// Package config loads the ingester configuration from a YAML file with
// ${VAR} environment interpolation and an optional sibling .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// WETHAddress is the default reference asset on Ethereum mainnet.
const WETHAddress = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"

// Default endpoint URL templates; %s is the provider API key.
const (
	DefaultWSTemplate  = "wss://eth-mainnet.g.alchemy.com/v2/%s"
	DefaultRPCTemplate = "https://eth-mainnet.g.alchemy.com/v2/%s"
)

// Config holds the YAML configuration.
type Config struct {
	Provider Provider `yaml:"provider"`
	Pipeline Pipeline `yaml:"pipeline"`
	Pricing  Pricing  `yaml:"pricing"`
	Storage  Storage  `yaml:"storage"`
	Webhook  Webhook  `yaml:"webhook"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Provider configures the rotating endpoint pool.
type Provider struct {
	// Keys is the provider API key list. The day is split into
	// len(Keys) equal windows; each key owns one.
	Keys        []string `yaml:"keys"`
	WSTemplate  string   `yaml:"ws_template"`
	RPCTemplate string   `yaml:"rpc_template"`
}

// Pipeline holds the batching and resolution tunables.
type Pipeline struct {
	ReferenceAsset   string   `yaml:"reference_asset"`
	QuietPeriod      Duration `yaml:"quiet_period"`
	LogKeepalive     Duration `yaml:"log_keepalive"`
	PendingKeepalive Duration `yaml:"pending_keepalive"`
	ChunkSize        int      `yaml:"chunk_size"`
	CacheCapacity    int      `yaml:"cache_capacity"`
	ResolveGroupSize int      `yaml:"resolve_group_size"`
	ErrorLogPath     string   `yaml:"error_log_path"`
}

// Pricing configures the GraphQL USD price source.
type Pricing struct {
	Endpoint  string `yaml:"endpoint"`
	AuthToken string `yaml:"auth_token"`
}

// Storage holds the database connection strings.
type Storage struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
}

// Webhook configures the signed-webhook listener.
type Webhook struct {
	Addr       string `yaml:"addr"`
	SigningKey string `yaml:"signing_key"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Duration decodes "300ms"/"15s" style YAML strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, applies defaults, and
// validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

func (c *Config) applyDefaults() {
	if c.Provider.WSTemplate == "" {
		c.Provider.WSTemplate = DefaultWSTemplate
	}
	if c.Provider.RPCTemplate == "" {
		c.Provider.RPCTemplate = DefaultRPCTemplate
	}
	if c.Pipeline.ReferenceAsset == "" {
		c.Pipeline.ReferenceAsset = WETHAddress
	}

	// A single comma-joined keys entry is split, so the whole key list can
	// come from one environment variable.
	if len(c.Provider.Keys) == 1 && strings.Contains(c.Provider.Keys[0], ",") {
		parts := strings.Split(c.Provider.Keys[0], ",")
		keys := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				keys = append(keys, trimmed)
			}
		}
		c.Provider.Keys = keys
	}
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if len(c.Provider.Keys) == 0 {
		return errors.New("provider.keys: at least one key is required")
	}
	for i, k := range c.Provider.Keys {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("provider.keys[%d]: key is empty", i)
		}
	}
	if !strings.Contains(c.Provider.WSTemplate, "%s") {
		return errors.New("provider.ws_template must contain a %s key placeholder")
	}
	if !strings.Contains(c.Provider.RPCTemplate, "%s") {
		return errors.New("provider.rpc_template must contain a %s key placeholder")
	}

	if !strings.HasPrefix(c.Pipeline.ReferenceAsset, "0x") || len(c.Pipeline.ReferenceAsset) != 42 {
		return fmt.Errorf("pipeline.reference_asset: %q is not a hex address", c.Pipeline.ReferenceAsset)
	}
	if c.Pipeline.QuietPeriod < 0 {
		return errors.New("pipeline.quiet_period must not be negative")
	}
	if c.Pipeline.ChunkSize < 0 {
		return errors.New("pipeline.chunk_size must not be negative")
	}

	if c.Webhook.Addr != "" && c.Webhook.SigningKey == "" {
		return errors.New("webhook.signing_key is required when webhook.addr is set")
	}

	return nil
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
