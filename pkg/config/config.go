// Package config loads the cache's startup configuration: socket
// settings, the table list, and global options, as specified by the
// external Configuration contract. It is deliberately thin — parsing a
// fixed YAML shape into plain structs — since the contract scopes
// configuration-language design out of the core.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// IndexSpec names one configured secondary index on a table.
type IndexSpec struct {
	ID     byte   `yaml:"id"`
	Column string `yaml:"column"`
	Type   string `yaml:"type"` // "int" or "string"
}

// TableSpec describes one cached table.
type TableSpec struct {
	ID             byte          `yaml:"id"`
	Name           string        `yaml:"name"`
	RefreshPeriod  time.Duration `yaml:"refresh_period"`
	Indexes        []IndexSpec   `yaml:"indexes"`
	SelectStatement string       `yaml:"select_statement,omitempty"`
}

// SocketSpec names the listener endpoints. TCPPort 0 disables TCP.
type SocketSpec struct {
	UnixPath string `yaml:"unix_path"`
	TCPHost  string `yaml:"tcp_host"`
	TCPPort  int    `yaml:"tcp_port"`
}

// Config is the parsed startup configuration.
type Config struct {
	Socket               SocketSpec    `yaml:"socket"`
	Tables               []TableSpec   `yaml:"tables"`
	StripNull            bool          `yaml:"strip_null"`
	DefaultRefreshPeriod time.Duration `yaml:"default_refresh_period"`
	BoltPath             string        `yaml:"bolt_path,omitempty"`
	MetricsAddr          string        `yaml:"metrics_addr,omitempty"`
	SchedulerPeriod      time.Duration `yaml:"scheduler_period"`
}

// Load reads and parses a YAML configuration file at path, applying
// defaults and validating the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DefaultRefreshPeriod == 0 {
		c.DefaultRefreshPeriod = 5 * time.Second
	}
	if c.SchedulerPeriod == 0 {
		c.SchedulerPeriod = 5 * time.Second
	}
	for i := range c.Tables {
		if c.Tables[i].RefreshPeriod == 0 {
			c.Tables[i].RefreshPeriod = c.DefaultRefreshPeriod
		}
	}
}

func (c *Config) validate() error {
	if c.Socket.UnixPath == "" && c.Socket.TCPPort == 0 {
		return fmt.Errorf("socket: at least one of unix_path or tcp_port must be set")
	}
	if len(c.Tables) == 0 {
		return fmt.Errorf("tables: at least one table must be configured")
	}
	seen := make(map[byte]bool, len(c.Tables))
	for _, t := range c.Tables {
		if t.Name == "" {
			return fmt.Errorf("table id %d: name is required", t.ID)
		}
		if seen[t.ID] {
			return fmt.Errorf("table id %d: duplicate table id", t.ID)
		}
		seen[t.ID] = true
		for _, idx := range t.Indexes {
			if idx.Type != "int" && idx.Type != "string" {
				return fmt.Errorf("table %s index %s: type must be int or string, got %q", t.Name, idx.Column, idx.Type)
			}
		}
	}
	return nil
}
