// Package config provides YAML configuration parsing for LiveStore.
//
// This package enables running LiveStore as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 3001
//	keepalive_interval: 30s
//	write_timeout: 5s
//	queue_size: 64
//
//	seed_file: ./db.json
//	resources: [posts, comments]
//
//	store:
//	  driver: postgres
//	  dsn: ${DATABASE_URL:-postgres://localhost:5432/livestore}
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort              = 3001
	defaultKeepaliveInterval = 30 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultQueueSize         = 64

	// minKeepaliveInterval keeps production configs from flooding idle
	// subscribers with heartbeats.
	minKeepaliveInterval = 1 * time.Second
)

// Store drivers accepted in store.driver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the root configuration structure for LiveStore.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the HTTP server port. Defaults to 3001.
	Port int `yaml:"port"`

	// KeepaliveInterval is how long a subscriber may be idle before it is
	// sent a heartbeat. Accepts duration strings like "30s" or "1m".
	// Defaults to 30s.
	KeepaliveInterval Duration `yaml:"keepalive_interval"`

	// WriteTimeout bounds each write to a subscriber. Defaults to 5s and must
	// not exceed KeepaliveInterval.
	WriteTimeout Duration `yaml:"write_timeout"`

	// QueueSize is how many frames a subscriber may have pending before it
	// is disconnected. Defaults to 64.
	QueueSize int `yaml:"queue_size"`

	// SeedFile is a JSON file of initial records shaped like
	// {"users": [...]}. The built-in dataset is used when empty.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	SeedFile string `yaml:"seed_file"`

	// Resources are extra resources that start empty.
	Resources []string `yaml:"resources"`

	// Store selects where records are kept.
	Store StoreConfig `yaml:"store"`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	// Driver is "memory" (default) or "postgres".
	Driver string `yaml:"driver"`

	// DSN is the Postgres connection string. Required for the postgres driver.
	// Supports environment variable substitution.
	DSN string `yaml:"dsn"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// LoadEnvFile loads KEY=value pairs from a .env file into the process
// environment so they are visible to ${VAR} expansion. Variables that are
// already set are not overridden.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %q: %w", path, err)
	}
	return nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in seed_file and store.dsn.
// Defaults are applied for every field left unset.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = Duration(defaultKeepaliveInterval)
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = Duration(defaultWriteTimeout)
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverMemory
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}

	if c.KeepaliveInterval.Duration() < minKeepaliveInterval {
		return fmt.Errorf("keepalive_interval must be at least %s, got %s",
			minKeepaliveInterval, c.KeepaliveInterval.Duration())
	}
	if c.WriteTimeout.Duration() < 0 {
		return fmt.Errorf("write_timeout cannot be negative, got %s", c.WriteTimeout.Duration())
	}
	if c.WriteTimeout.Duration() > c.KeepaliveInterval.Duration() {
		return fmt.Errorf("write_timeout (%s) must not exceed keepalive_interval (%s)",
			c.WriteTimeout.Duration(), c.KeepaliveInterval.Duration())
	}

	if c.QueueSize < 0 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}

	if c.SeedFile != "" {
		expanded, err := expandEnvVars(c.SeedFile)
		if err != nil {
			return fmt.Errorf("seed_file: %w", err)
		}
		c.SeedFile = expanded
	}

	seen := make(map[string]struct{}, len(c.Resources))
	for i, name := range c.Resources {
		if name == "" {
			return fmt.Errorf("resources[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("resources[%d] (%s): duplicate resource", i, name)
		}
		seen[name] = struct{}{}
	}

	switch c.Store.Driver {
	case DriverMemory:
		if c.Store.DSN != "" {
			return errors.New("store.dsn: only valid with the postgres driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn: required for the postgres driver")
		}
		expanded, err := expandEnvVars(c.Store.DSN)
		if err != nil {
			return fmt.Errorf("store.dsn: %w", err)
		}
		if expanded == "" {
			return errors.New("store.dsn: expands to an empty string")
		}
		c.Store.DSN = expanded
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", DriverMemory, DriverPostgres, c.Store.Driver)
	}

	return nil
}
