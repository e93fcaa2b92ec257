package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigDir is the directory name under ~/.config
	ConfigDir = "lazymcp"
	// ConfigFile is the config file name
	ConfigFile = "config.yaml"
)

// FileSystem abstracts file and environment access for testability.
type FileSystem interface {
	UserHomeDir() (string, error)
	ReadFile(path string) ([]byte, error)
	Getenv(key string) string
}

// OSFileSystem implements FileSystem using the real OS.
type OSFileSystem struct{}

func (OSFileSystem) UserHomeDir() (string, error)         { return os.UserHomeDir() }
func (OSFileSystem) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }
func (OSFileSystem) Getenv(key string) string             { return os.Getenv(key) }

// Loader reads configuration with injected dependencies.
type Loader struct {
	fs   FileSystem
	path string
}

// NewLoader creates a Loader using the real filesystem.
func NewLoader() *Loader {
	return &Loader{fs: OSFileSystem{}}
}

// NewLoaderWithFS creates a Loader with a custom filesystem.
func NewLoaderWithFS(fs FileSystem) *Loader {
	return &Loader{fs: fs}
}

// WithPath reads path instead of ~/.config/lazymcp/config.yaml.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// Load reads the config file over the defaults, applies environment
// overrides, and validates the result. A missing file is not an error.
//
// Keys present in the file override defaults even when zero; missing keys
// leave defaults untouched.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := l.configPath()
	if err == nil {
		data, err := l.fs.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err) && l.path == "":
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	l.applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (l *Loader) configPath() (string, error) {
	if l.path != "" {
		return l.path, nil
	}
	if p := l.fs.Getenv("LAZYMCP_CONFIG"); p != "" {
		return p, nil
	}
	home, err := l.fs.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", ConfigDir, ConfigFile), nil
}

func (l *Loader) applyEnv(cfg *Config) {
	if v := l.fs.Getenv("LAZYMCP_URL"); v != "" {
		cfg.Client.BackendURL = v
	}
	if v := l.fs.Getenv("LAZYMCP_AGENT"); v != "" {
		cfg.Client.DefaultAgent = v
	}
	if v := l.fs.Getenv("LAZYMCP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := l.fs.Getenv("LAZYMCP_DB"); v != "" {
		cfg.Server.DBPath = v
	}
	if v := l.fs.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := l.fs.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Server.GeminiAPIKey = v
	}
}

// Load is a convenience function using the default loader.
func Load() (*Config, error) {
	return NewLoader().Load()
}
