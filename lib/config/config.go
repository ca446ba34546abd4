// Package config loads the host configuration: an HCL file with app,
// server, log and mod blocks, overridden by MODHOST_* environment variables.
//
//	app {
//	  id   = "game.exe"
//	  name = "Game"
//	}
//
//	server {
//	  port           = 0
//	  allow_external = false
//	  secret_key     = "remote"
//	}
//
//	mod "mods.alpha" {
//	  locator  = "wasm:mods/alpha.wasm"
//	  metadata = { author = "someone" }
//	}
package config

import (
	"fmt"
	"slices"

	"github.com/caarlos0/env/v11"

	"github.com/snowmerak/modhost/lib/mod"
)

// Config is the resolved host configuration.
type Config struct {
	App    App
	Server Server
	Log    Log
	Mods   []Mod
}

// App identifies the host application to mods.
type App struct {
	ID   string
	Name string
}

// Server configures the remote-control server.
type Server struct {
	Port          int
	AllowExternal bool
	Secret        string
	SecretKey     string // keyring item holding the secret
	LogRequests   bool
	DiscoveryDir  string
}

// Log configures the host logger.
type Log struct {
	Level  string
	Format string
}

// Mod is one catalog entry.
type Mod struct {
	ID       string
	Locator  mod.Locator
	Enabled  bool
	Metadata map[string]string
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		App: App{Name: "modhost"},
		Server: Server{
			LogRequests: true,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// envOverrides lists the variables that override file settings.
type envOverrides struct {
	Port          *int    `env:"MODHOST_PORT"`
	AllowExternal *bool   `env:"MODHOST_ALLOW_EXTERNAL"`
	LogLevel      *string `env:"MODHOST_LOG_LEVEL"`
	LogFormat     *string `env:"MODHOST_LOG_FORMAT"`
	DiscoveryDir  *string `env:"MODHOST_DISCOVERY_DIR"`
	Secret        *string `env:"MODHOST_SECRET"`
}

// PathFromEnv returns MODHOST_CONFIG, or "" when it is unset.
func PathFromEnv() (string, error) {
	var target struct {
		Path string `env:"MODHOST_CONFIG"`
	}
	if err := env.Parse(&target); err != nil {
		return "", fmt.Errorf("parse env: %w", err)
	}
	return target.Path, nil
}

// Load reads the file at path, when path is not empty, and applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if o.Port != nil {
		c.Server.Port = *o.Port
	}
	if o.AllowExternal != nil {
		c.Server.AllowExternal = *o.AllowExternal
	}
	if o.LogLevel != nil {
		c.Log.Level = *o.LogLevel
	}
	if o.LogFormat != nil {
		c.Log.Format = *o.LogFormat
	}
	if o.DiscoveryDir != nil {
		c.Server.DiscoveryDir = *o.DiscoveryDir
	}
	if o.Secret != nil {
		c.Server.Secret = *o.Secret
	}
	return nil
}

// Validate checks ranges and catalog uniqueness.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 0xFFFF {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}

	seen := make(map[string]struct{}, len(c.Mods))
	for _, m := range c.Mods {
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("mod %q: declared more than once", m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return nil
}

// Enabled returns the catalog entries to load at startup, in file order.
func (c *Config) Enabled() []Mod {
	return slices.DeleteFunc(slices.Clone(c.Mods), func(m Mod) bool { return !m.Enabled })
}

// Metadata returns the metadata declared for the catalog entry id, or nil.
func (c *Config) Metadata(id string) map[string]string {
	for _, m := range c.Mods {
		if m.ID == id {
			return m.Metadata
		}
	}
	return nil
}

// Resolve implements the remote server's catalog lookup: it maps a mod
// identity to the locator it was declared with.
func (c *Config) Resolve(id string) (mod.Locator, error) {
	for _, m := range c.Mods {
		if m.ID == id {
			return m.Locator, nil
		}
	}
	return mod.Locator{}, fmt.Errorf("%w: %q is not in the catalog", mod.ErrNotFound, id)
}
