package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Config is the combined client and server configuration.
type Config struct {
	Client ClientConfig `yaml:"client"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// ClientConfig configures the terminal client.
type ClientConfig struct {
	// BackendURL is the HTTP base URL of the agent backend.
	BackendURL string `yaml:"backend_url"`
	// ChatPath is the WebSocket path, resolved against BackendURL.
	ChatPath            string        `yaml:"chat_path"`
	DefaultAgent        string        `yaml:"default_agent"`
	LogPollInterval     time.Duration `yaml:"log_poll_interval"`
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`
	HTTPTimeout         time.Duration `yaml:"http_timeout"`
	MaxLogEntries       int           `yaml:"max_log_entries"`
}

// ServerConfig configures the reference backend.
type ServerConfig struct {
	Addr   string `yaml:"addr"`
	DBPath string `yaml:"db_path"`
	// Provider selects the responder: "echo" or "gemini".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// Instructions is the system prompt given to the responder.
	Instructions string `yaml:"instructions"`
	// Workspace is the directory the file tools are confined to.
	Workspace string `yaml:"workspace"`
	// GeminiAPIKey is only read from the environment.
	GeminiAPIKey string `yaml:"-"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level string `yaml:"level"`
	// File receives the client's log output. The server logs to stderr.
	File string `yaml:"file"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			BackendURL:      "http://localhost:8000",
			ChatPath:        "/chat",
			DefaultAgent:    "default",
			LogPollInterval: 3 * time.Second,
			HTTPTimeout:     10 * time.Second,
			MaxLogEntries:   500,
		},
		Server: ServerConfig{
			Addr:         ":8000",
			DBPath:       "data/lazymcp.db",
			Provider:     "echo",
			Model:        "gemini-2.0-flash",
			Instructions: "You are a helpful assistant. Use the available tools when they help answer the user.",
			Workspace:    "data/workspace",
		},
		Log: LogConfig{
			Level: "INFO",
			File:  "lazymcp.log",
		},
	}
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.Client.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("client.backend_url must be an http(s) URL, got %q", c.Client.BackendURL))
	}
	if !strings.HasPrefix(c.Client.ChatPath, "/") {
		errs = append(errs, fmt.Errorf("client.chat_path must start with /, got %q", c.Client.ChatPath))
	}
	if strings.TrimSpace(c.Client.DefaultAgent) == "" {
		errs = append(errs, errors.New("client.default_agent must not be empty"))
	}
	if c.Client.LogPollInterval <= 0 {
		errs = append(errs, errors.New("client.log_poll_interval must be positive"))
	}
	if c.Client.ConfirmationTimeout < 0 {
		errs = append(errs, errors.New("client.confirmation_timeout must not be negative"))
	}
	if c.Client.HTTPTimeout < 0 {
		errs = append(errs, errors.New("client.http_timeout must not be negative"))
	}
	if c.Client.MaxLogEntries <= 0 {
		errs = append(errs, errors.New("client.max_log_entries must be positive"))
	}
	switch c.Server.Provider {
	case "echo", "gemini":
	default:
		errs = append(errs, fmt.Errorf("server.provider must be echo or gemini, got %q", c.Server.Provider))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ChatURL returns the WebSocket URL of the chat channel.
func (c *Config) ChatURL() (string, error) {
	u, err := url.Parse(c.Client.BackendURL)
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + c.Client.ChatPath
	return u.String(), nil
}

// ParseLevel converts a level name into an slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level: unknown level %q", s)
}
