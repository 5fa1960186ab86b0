// Package config holds the picotts CLI configuration.
//
// The configuration is a YAML file under os.UserConfigDir():
//
//	~/Library/Application Support/picotts/config.yaml   (macOS)
//	~/.config/picotts/config.yaml                       (Linux)
//	%AppData%/picotts/config.yaml                       (Windows)
//
// Every scalar setting can be overridden from the environment with a
// PICOTTS_ prefix, e.g. PICOTTS_ARENA_SIZE or PICOTTS_S3_ENDPOINT.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-yaml"

	"github.com/haivivi/picotts/pkg/cli"
	"github.com/haivivi/picotts/pkg/storage"
)

// AppName names the config and cache directories.
const AppName = "picotts"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PICOTTS_"

// DefaultArenaSize is the arena given to the engine unless configured.
const DefaultArenaSize = 4 << 20

// Voice is a named voice built from one text-analysis and one
// speech-generation resource. Resource locations are local paths, s3://
// URLs, or names relative to the language directory.
type Voice struct {
	Name string `yaml:"name"`
	TA   string `yaml:"ta"`
	SG   string `yaml:"sg"`
}

// Config is the CLI configuration.
type Config struct {
	ArenaSize    int    `yaml:"arena_size"`
	LangDir      string `yaml:"lang_dir"`
	DefaultVoice string `yaml:"default_voice"`
	Addr         string `yaml:"addr"`
	// CacheDir holds the speech cache and fetched resources. Empty means
	// the user cache directory.
	CacheDir string `yaml:"cache_dir,omitempty"`

	Voices []Voice          `yaml:"voices"`
	S3     storage.S3Config `yaml:"s3,omitempty"`

	// Path is the file the configuration was loaded from.
	Path string `yaml:"-"`
}

// overrides are the settings the environment may replace.
type overrides struct {
	ArenaSize    int              `env:"ARENA_SIZE"`
	LangDir      string           `env:"LANG_DIR"`
	DefaultVoice string           `env:"DEFAULT_VOICE"`
	CacheDir     string           `env:"CACHE_DIR"`
	Addr         string           `env:"ADDR"`
	S3           storage.S3Config `envPrefix:"S3_"`
}

// Default returns the built-in configuration: the en-US voice from the
// standard Pico language files.
func Default() *Config {
	return &Config{
		ArenaSize:    DefaultArenaSize,
		LangDir:      "/usr/share/pico/lang",
		DefaultVoice: "en-US",
		Addr:         "127.0.0.1:8080",
		Voices: []Voice{
			{Name: "en-US", TA: "en-US_ta.bin", SG: "en-US_lh0_sg.bin"},
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	p, err := cli.NewPaths(AppName)
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return p.ConfigFile(), nil
}

// Load reads the config file at path, or the default location if path is
// empty, and applies environment overrides. A missing file gives the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.UnmarshalWithOptions(data, cfg, yaml.DisallowUnknownField()); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg.Path = path

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	o := overrides{
		ArenaSize:    c.ArenaSize,
		LangDir:      c.LangDir,
		DefaultVoice: c.DefaultVoice,
		CacheDir:     c.CacheDir,
		Addr:         c.Addr,
		S3:           c.S3,
	}
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	c.ArenaSize = o.ArenaSize
	c.LangDir = o.LangDir
	c.DefaultVoice = o.DefaultVoice
	c.CacheDir = o.CacheDir
	c.Addr = o.Addr
	c.S3 = o.S3
	return nil
}

// Validate checks the settings that would otherwise fail deep inside the
// engine.
func (c *Config) Validate() error {
	if c.ArenaSize <= 0 {
		return fmt.Errorf("arena_size must be positive, got %d", c.ArenaSize)
	}
	seen := make(map[string]bool)
	for i, v := range c.Voices {
		if v.Name == "" {
			return fmt.Errorf("voices[%d]: name is required", i)
		}
		if seen[v.Name] {
			return fmt.Errorf("voice %q defined twice", v.Name)
		}
		seen[v.Name] = true
		if v.TA == "" || v.SG == "" {
			return fmt.Errorf("voice %q needs both ta and sg", v.Name)
		}
	}
	if c.DefaultVoice != "" && len(c.Voices) > 0 && !seen[c.DefaultVoice] {
		return fmt.Errorf("default_voice %q is not defined", c.DefaultVoice)
	}
	return nil
}

// Voice returns the named voice, or the default voice if name is empty.
func (c *Config) Voice(name string) (Voice, error) {
	if name == "" {
		name = c.DefaultVoice
	}
	for _, v := range c.Voices {
		if v.Name == name {
			return v, nil
		}
	}
	return Voice{}, fmt.Errorf("voice %q is not configured", name)
}

// ResolvedCacheDir returns CacheDir, or the user cache directory for the
// app when it is empty.
func (c *Config) ResolvedCacheDir() (string, error) {
	if c.CacheDir != "" {
		return c.CacheDir, nil
	}
	p, err := cli.NewPaths(AppName)
	if err != nil {
		return "", fmt.Errorf("cannot determine cache directory: %w", err)
	}
	return p.CacheDir(), nil
}

// Marshal returns the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Save writes the configuration to path, creating its directory.
func (c *Config) Save(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
