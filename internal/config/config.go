package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Catalog CatalogConfig `toml:"catalog"`
	Session SessionConfig `toml:"session"`
	Logging LoggingConfig `toml:"logging"`
	Ngrok   NgrokConfig   `toml:"ngrok"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port        string `toml:"port"`
	Host        string `toml:"host"`
	EnableCORS  bool   `toml:"enable_cors"`
	ReadTimeout int    `toml:"read_timeout_seconds"`
}

// CatalogConfig contains song catalog configuration
type CatalogConfig struct {
	DatabasePath     string   `toml:"database_path"`
	ManifestPath     string   `toml:"manifest_path"`
	WatchManifest    bool     `toml:"watch_manifest"`
	LibraryPath      string   `toml:"library_path"`
	SupportedFormats []string `toml:"supported_formats"`
	ScanOnStartup    bool     `toml:"scan_on_startup"`
}

// SessionConfig contains jam session tuning knobs
type SessionConfig struct {
	ChatHistoryLimit  int `toml:"chat_history_limit"`
	ChatMaxLength     int `toml:"chat_max_length"`
	MaxDisplayNameLen int `toml:"max_display_name_length"`
	ReapIntervalSecs  int `toml:"reap_interval_seconds"`
	AdvanceScanSecs   int `toml:"advance_scan_seconds"`
	SendQueueDepth    int `toml:"send_queue_depth"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level          string `toml:"level"`
	Format         string `toml:"format"`
	File           string `toml:"file"`
	RequestLogging bool   `toml:"request_logging"`
}

// NgrokConfig contains ngrok tunnel configuration
type NgrokConfig struct {
	Enabled   bool   `toml:"enabled"`
	AuthToken string `toml:"auth_token"`
	Domain    string `toml:"domain"`
	Region    string `toml:"region"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8000",
			Host:        "0.0.0.0",
			EnableCORS:  true,
			ReadTimeout: 30,
		},
		Catalog: CatalogConfig{
			DatabasePath:     "./jamsync.db",
			ManifestPath:     "./hosted_songs_manifest.json",
			WatchManifest:    true,
			LibraryPath:      "",
			SupportedFormats: []string{".flac", ".mp3", ".wav", ".m4a"},
			ScanOnStartup:    false,
		},
		Session: SessionConfig{
			ChatHistoryLimit:  200,
			ChatMaxLength:     500,
			MaxDisplayNameLen: 20,
			ReapIntervalSecs:  60,
			AdvanceScanSecs:   2,
			SendQueueDepth:    64,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			File:           "",
			RequestLogging: false,
		},
		Ngrok: NgrokConfig{
			Enabled:   false,
			AuthToken: "",
			Domain:    "",
			Region:    "us",
		},
	}
}

// LoadConfig loads configuration from a TOML file
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Config file doesn't exist, create it with defaults
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
		return cfg, nil
	}

	// Load from file
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create or open file
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// Write header comment
	header := `# Jamsync Server Configuration
# This file contains all configuration options for the jamsync shared-listening server.
# Edit the values below to customize your server settings.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	// Encode configuration to TOML
	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	// Validate catalog config
	if c.Catalog.DatabasePath == "" {
		return fmt.Errorf("catalog database path cannot be empty")
	}
	if c.Catalog.LibraryPath != "" && len(c.Catalog.SupportedFormats) == 0 {
		return fmt.Errorf("at least one supported audio format must be specified when a library path is set")
	}

	// Validate session config
	if c.Session.ChatHistoryLimit < 1 {
		return fmt.Errorf("chat history limit must be at least 1")
	}
	if c.Session.ChatMaxLength < 1 {
		return fmt.Errorf("chat max length must be at least 1")
	}
	if c.Session.MaxDisplayNameLen < 1 {
		return fmt.Errorf("max display name length must be at least 1")
	}
	if c.Session.ReapIntervalSecs < 1 {
		return fmt.Errorf("reap interval must be at least 1 second")
	}
	if c.Session.AdvanceScanSecs < 1 {
		return fmt.Errorf("advance scan interval must be at least 1 second")
	}
	if c.Session.SendQueueDepth < 1 {
		return fmt.Errorf("send queue depth must be at least 1")
	}

	// Validate logging config
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// IsFormatSupported checks if an audio format is supported
func (c *Config) IsFormatSupported(format string) bool {
	for _, supported := range c.Catalog.SupportedFormats {
		if supported == format {
			return true
		}
	}
	return false
}
