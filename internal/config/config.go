// Package config loads the engine's YAML configuration. Every field has a
// default so the engine runs with no config file at all.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Nurture NurtureConfig `yaml:"nurture"`
	CTA     CTAConfig     `yaml:"cta"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type StoreConfig struct {
	// Backend is one of memory, sqlite, redis.
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"` // sqlite database path
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	PoolSize int    `yaml:"pool_size"`
}

type NurtureConfig struct {
	// TickSchedule is a cron expression for the scheduling trigger.
	TickSchedule string `yaml:"tick_schedule"`
}

// Placement marks a (page, position) pair whose CTA variant comes from an
// experiment rather than the static heuristic.
type Placement struct {
	Page     string `yaml:"page"`
	Position string `yaml:"position"`
	Test     string `yaml:"test"`
}

type CTAConfig struct {
	UnderTest []Placement          `yaml:"under_test"`
	Variants  map[string][]Variant `yaml:"variants"` // overrides per CTA type
}

type Variant struct {
	ID      string            `yaml:"id"`
	Payload map[string]string `yaml:"payload"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

func Default() Config {
	return Config{
		Server:  ServerConfig{Port: 8080},
		Store:   StoreConfig{Backend: "memory", Path: "./leadpulse.db"},
		Nurture: NurtureConfig{TickSchedule: "@hourly"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path on top of the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	return nil
}
