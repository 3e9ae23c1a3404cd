// Package config loads the YAML configuration for the scopekv CLI and
// embedded callers: which engine backs the collection, where it lives, and
// how often the expiration sweep runs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine names accepted by the "engine" field.
const (
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
	EngineMemory   = "memory"
)

// Config is the top-level configuration.
type Config struct {
	Engine   string         `yaml:"engine"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	Sweep    SweepConfig    `yaml:"sweep"`
}

// SQLiteConfig configures the sqlite engine.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig configures the postgres engine.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// SweepConfig configures the background expiration sweep.
type SweepConfig struct {
	Interval Duration `yaml:"interval"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the configuration used when no file is given: a local
// SQLite database with a one-minute sweep.
func Default() Config {
	return Config{
		Engine: EngineSQLite,
		SQLite: SQLiteConfig{Path: "scopekv.db"},
		Sweep:  SweepConfig{Interval: Duration(time.Minute)},
	}
}

// Load reads the configuration file at path, layered over Default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions.
func (c Config) Validate() error {
	switch c.Engine {
	case EngineSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("engine %q requires sqlite.path", c.Engine)
		}
	case EnginePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("engine %q requires postgres.dsn", c.Engine)
		}
	case EngineMemory:
		// Nothing to configure.
	default:
		return fmt.Errorf("unknown engine %q: must be one of %s, %s, %s",
			c.Engine, EngineSQLite, EnginePostgres, EngineMemory)
	}

	if time.Duration(c.Sweep.Interval) < 0 {
		return fmt.Errorf("sweep.interval must not be negative")
	}
	return nil
}
