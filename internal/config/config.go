// Package config loads daemon configuration: defaults, then an optional YAML
// file, then REPGUARD_ environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry values like "2s" or "30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	OnDevice OnDeviceConfig `yaml:"ondevice"`
	Cloud    CloudConfig    `yaml:"cloud"`
	Storage  StorageConfig  `yaml:"storage"`
	Cache    CacheConfig    `yaml:"cache"`
	Events   EventsConfig   `yaml:"events"`
	History  HistoryConfig  `yaml:"history"`
	Vault    VaultConfig    `yaml:"vault"`
}

type ListenConfig struct {
	Address        string   `yaml:"address"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type OnDeviceConfig struct {
	BaseURL           string   `yaml:"base_url"`
	Model             string   `yaml:"model"`
	Enabled           bool     `yaml:"enabled"`
	Vision            bool     `yaml:"vision"`
	CapabilityTimeout Duration `yaml:"capability_timeout"`
	SessionTimeout    Duration `yaml:"session_timeout"`
	ReprobeInterval   Duration `yaml:"reprobe_interval"`
	KeepAlive         string   `yaml:"keep_alive"`
}

type CloudConfig struct {
	Endpoint       string   `yaml:"endpoint"`
	Model          string   `yaml:"model"`
	RequestTimeout Duration `yaml:"request_timeout"`

	// Seed credential, environment only. Never read from or written to the
	// YAML file.
	APIKey string `yaml:"-"`
}

type StorageConfig struct {
	// RedisAddr empty means the in-memory store.
	RedisAddr string `yaml:"redis_addr"`
}

type CacheConfig struct {
	Enabled      bool     `yaml:"enabled"`
	MaxCostBytes int64    `yaml:"max_cost_bytes"`
	TTL          Duration `yaml:"ttl"`
}

type EventsConfig struct {
	// NATSURL empty means log-only events.
	NATSURL    string `yaml:"nats_url"`
	BufferSize int    `yaml:"buffer_size"`
}

type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

type VaultConfig struct {
	KeyFile string `yaml:"key_file"`
}

// Default returns the zero-config daemon: loopback listener, local Ollama,
// in-memory storage.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return &Config{
		Listen: ListenConfig{
			Address:        "127.0.0.1:8787",
			AllowedOrigins: []string{"*"},
		},
		OnDevice: OnDeviceConfig{
			BaseURL:           "http://localhost:11434",
			Model:             "gemma3:4b",
			Enabled:           true,
			Vision:            true,
			CapabilityTimeout: Duration(2 * time.Second),
			SessionTimeout:    Duration(3 * time.Second),
			ReprobeInterval:   Duration(30 * time.Second),
			KeepAlive:         "30m",
		},
		Cloud: CloudConfig{
			Endpoint:       "https://generativelanguage.googleapis.com",
			Model:          "gemini-2.0-flash",
			RequestTimeout: Duration(180 * time.Second),
		},
		Cache: CacheConfig{
			Enabled:      true,
			MaxCostBytes: 32 << 20,
			TTL:          Duration(15 * time.Minute),
		},
		Events: EventsConfig{
			BufferSize: 256,
		},
		History: HistoryConfig{
			Capacity: 256,
		},
		Vault: VaultConfig{
			KeyFile: filepath.Join(home, ".repguard", "vault.key"),
		},
	}
}

// Load builds the effective configuration. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Listen.Address = getEnv("REPGUARD_LISTEN_ADDR", c.Listen.Address)
	c.OnDevice.BaseURL = getEnv("OLLAMA_URL", c.OnDevice.BaseURL)
	c.OnDevice.Model = getEnv("REPGUARD_ONDEVICE_MODEL", c.OnDevice.Model)
	c.Cloud.Model = getEnv("REPGUARD_CLOUD_MODEL", c.Cloud.Model)
	c.Cloud.APIKey = getEnv("REPGUARD_CLOUD_API_KEY", c.Cloud.APIKey)
	c.Storage.RedisAddr = getEnv("REPGUARD_REDIS_ADDR", c.Storage.RedisAddr)
	c.Events.NATSURL = getEnv("NATS_URL", c.Events.NATSURL)
	c.Vault.KeyFile = getEnv("REPGUARD_VAULT_KEY_FILE", c.Vault.KeyFile)
}

// Validate normalizes the configuration, falling back to defaults for values
// that make no sense rather than failing the daemon.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen.Address) == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if strings.TrimSpace(c.OnDevice.Model) == "" {
		return fmt.Errorf("ondevice model must not be empty")
	}
	if strings.TrimSpace(c.Cloud.Model) == "" {
		return fmt.Errorf("cloud model must not be empty")
	}

	def := Default()
	if c.OnDevice.CapabilityTimeout <= 0 {
		c.OnDevice.CapabilityTimeout = def.OnDevice.CapabilityTimeout
	}
	if c.OnDevice.SessionTimeout <= 0 {
		c.OnDevice.SessionTimeout = def.OnDevice.SessionTimeout
	}
	if c.OnDevice.ReprobeInterval <= 0 {
		c.OnDevice.ReprobeInterval = def.OnDevice.ReprobeInterval
	}
	if c.Cloud.RequestTimeout <= 0 {
		c.Cloud.RequestTimeout = def.Cloud.RequestTimeout
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = def.Cache.TTL
	}
	if c.Cache.MaxCostBytes <= 0 {
		c.Cache.MaxCostBytes = def.Cache.MaxCostBytes
	}
	if c.History.Capacity <= 0 {
		c.History.Capacity = def.History.Capacity
	}
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = def.Events.BufferSize
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
