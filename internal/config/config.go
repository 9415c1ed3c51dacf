// Package config loads the caldora server configuration from TOML or YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Format is a configuration file syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// Config is the top-level server configuration.
type Config struct {
	Listen   string `toml:"listen" yaml:"listen"`
	Prefix   string `toml:"prefix" yaml:"prefix"`
	Realm    string `toml:"realm" yaml:"realm"`
	LogLevel string `toml:"log_level" yaml:"log_level"` // debug, info, warn or error

	MaxDepth        int   `toml:"max_depth" yaml:"max_depth"`
	MaxBodySize     int64 `toml:"max_body_size" yaml:"max_body_size"`
	MaxResourceSize int64 `toml:"max_resource_size" yaml:"max_resource_size"`

	ChangeLog   ChangeLogConfig    `toml:"changelog" yaml:"changelog"`
	Users       []UserConfig       `toml:"users,omitempty" yaml:"users,omitempty"`
	Collections []CollectionConfig `toml:"collections,omitempty" yaml:"collections,omitempty"`
}

// ChangeLogConfig selects the change-log backend.
// This uses a tagged union pattern - Type decides whether Path is used.
type ChangeLogConfig struct {
	Type string `toml:"type" yaml:"type"` // "memory" (default) or "sqlite"
	Path string `toml:"path,omitempty" yaml:"path,omitempty"`
	// Retention is how long change entries are kept, as a Go duration.
	Retention string `toml:"retention" yaml:"retention"`
	// PruneSchedule is a cron expression; empty disables pruning.
	PruneSchedule string `toml:"prune_schedule" yaml:"prune_schedule"`
}

// UserConfig is an account allowed to log in.
type UserConfig struct {
	ID          string `toml:"id" yaml:"id"`
	Password    string `toml:"password" yaml:"password"`
	DisplayName string `toml:"display_name" yaml:"display_name"`
	Email       string `toml:"email" yaml:"email"`
	Color       string `toml:"color,omitempty" yaml:"color,omitempty"`
	Timezone    string `toml:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// CollectionConfig is a calendar created at startup if missing.
type CollectionConfig struct {
	Owner       string   `toml:"owner" yaml:"owner"`
	ID          string   `toml:"id" yaml:"id"`
	DisplayName string   `toml:"display_name" yaml:"display_name"`
	Components  []string `toml:"components" yaml:"components"`
	Timezone    string   `toml:"timezone,omitempty" yaml:"timezone,omitempty"`
	ReadOnly    bool     `toml:"read_only" yaml:"read_only"`
	// Shares maps a user ID to "read", "write" or "all".
	Shares map[string]string `toml:"shares,omitempty" yaml:"shares,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in zero values with defaults.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:5232"
	}
	if c.Prefix == "" {
		c.Prefix = "/caldav/"
	}
	if c.Realm == "" {
		c.Realm = "caldora"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 1
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = 1 << 20
	}
	if c.MaxResourceSize <= 0 {
		c.MaxResourceSize = 10 << 20
	}
	if c.ChangeLog.Type == "" {
		c.ChangeLog.Type = "memory"
	}
	if c.ChangeLog.Retention == "" {
		c.ChangeLog.Retention = "720h"
	}
	for i := range c.Collections {
		if len(c.Collections[i].Components) == 0 {
			c.Collections[i].Components = []string{"VEVENT", "VTODO"}
		}
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.ChangeLog.Type {
	case "memory":
	case "sqlite":
		if c.ChangeLog.Path == "" {
			errs = append(errs, errors.New("changelog.path is required for type sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown changelog type %q", c.ChangeLog.Type))
	}
	if d, err := time.ParseDuration(c.ChangeLog.Retention); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("invalid changelog.retention %q", c.ChangeLog.Retention))
	}
	if c.ChangeLog.PruneSchedule != "" {
		if _, err := cron.ParseStandard(c.ChangeLog.PruneSchedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid changelog.prune_schedule: %w", err))
		}
	}

	users := make(map[string]bool, len(c.Users))
	for _, u := range c.Users {
		switch {
		case u.ID == "" || strings.Contains(u.ID, "/"):
			errs = append(errs, fmt.Errorf("invalid user id %q", u.ID))
		case users[u.ID]:
			errs = append(errs, fmt.Errorf("duplicate user %q", u.ID))
		case u.Password == "":
			errs = append(errs, fmt.Errorf("user %q has no password", u.ID))
		}
		users[u.ID] = true
		if u.Timezone != "" {
			if _, err := time.LoadLocation(u.Timezone); err != nil {
				errs = append(errs, fmt.Errorf("user %q: unknown timezone %q", u.ID, u.Timezone))
			}
		}
	}

	for _, coll := range c.Collections {
		name := coll.Owner + "/" + coll.ID
		if !users[coll.Owner] {
			errs = append(errs, fmt.Errorf("collection %s: unknown owner", name))
		}
		if coll.ID == "" || strings.Contains(coll.ID, "/") {
			errs = append(errs, fmt.Errorf("collection %s: invalid id", name))
		}
		for _, comp := range coll.Components {
			if !slices.Contains([]string{"VEVENT", "VTODO"}, comp) {
				errs = append(errs, fmt.Errorf("collection %s: unsupported component %q", name, comp))
			}
		}
		for user, priv := range coll.Shares {
			if !users[user] {
				errs = append(errs, fmt.Errorf("collection %s: share with unknown user %q", name, user))
			}
			if !slices.Contains([]string{"read", "write", "all"}, priv) {
				errs = append(errs, fmt.Errorf("collection %s: invalid privilege %q", name, priv))
			}
		}
	}
	return errors.Join(errs...)
}

// RetentionPeriod returns the parsed change-log retention.
func (c *Config) RetentionPeriod() time.Duration {
	d, err := time.ParseDuration(c.ChangeLog.Retention)
	if err != nil {
		return 0
	}
	return d
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// FormatOf picks the syntax from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
}

// Read decodes, normalizes and validates a Config.
func Read(r io.Reader, format Format) (*Config, error) {
	var cfg Config
	switch format {
	case FormatTOML:
		md, err := toml.NewDecoder(r).Decode(&cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown config keys: %v", undecoded)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config.
func Write(w io.Writer, cfg *Config, format Format) error {
	switch format {
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported config format %q", format)
	}
	return nil
}

// Load reads a Config from a file, choosing the syntax by extension.
func Load(path string) (*Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f, format)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Init writes cfg to a new file at path. An existing file is left alone.
func Init(path string, cfg *Config) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if err := Write(f, cfg, format); err != nil {
		f.Close()
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return f.Close()
}
