package cli

import (
	"os"
	"path/filepath"
)

// DefaultConfigFile is the configuration filename inside the app config dir.
const DefaultConfigFile = "config.yaml"

// Paths locates the per-user directories of an application.
type Paths struct {
	// AppName is the application name
	AppName string

	// ConfigHome is the user config root, os.UserConfigDir() by default
	ConfigHome string

	// CacheHome is the user cache root, os.UserCacheDir() by default
	CacheHome string
}

// NewPaths creates a new Paths instance for the given app
func NewPaths(appName string) (*Paths, error) {
	cfg, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return nil, err
	}
	return &Paths{
		AppName:    appName,
		ConfigHome: cfg,
		CacheHome:  cache,
	}, nil
}

// ConfigDir returns the app config directory (<config>/<app>)
func (p *Paths) ConfigDir() string {
	return filepath.Join(p.ConfigHome, p.AppName)
}

// ConfigFile returns the config file path (<config>/<app>/config.yaml)
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.ConfigDir(), DefaultConfigFile)
}

// CacheDir returns the app cache directory (<cache>/<app>)
func (p *Paths) CacheDir() string {
	return filepath.Join(p.CacheHome, p.AppName)
}

// CachePath returns a path within the cache directory
func (p *Paths) CachePath(name string) string {
	return filepath.Join(p.CacheDir(), name)
}

// EnsureConfigDir creates the config directory if it doesn't exist
func (p *Paths) EnsureConfigDir() error {
	return os.MkdirAll(p.ConfigDir(), 0755)
}

// EnsureCacheDir creates the cache directory if it doesn't exist
func (p *Paths) EnsureCacheDir() error {
	return os.MkdirAll(p.CacheDir(), 0755)
}
