// Package config provides file-based configuration with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Deployment modes select the extraction service endpoint.
const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

// AppConfig represents the root configuration structure
type AppConfig struct {
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Extraction   ExtractionConfig   `yaml:"extraction"`
	Conversation ConversationConfig `yaml:"conversation"`
	Advanced     AdvancedConfig     `yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `yaml:"port"`
	BindAddress  string `yaml:"bindAddress"`
	EnableCORS   bool   `yaml:"enableCors"`
	AllowOrigins string `yaml:"allowOrigins"`
	ReadTimeout  int    `yaml:"readTimeoutSeconds"`
	WriteTimeout int    `yaml:"writeTimeoutSeconds"`
	IdleTimeout  int    `yaml:"idleTimeoutSeconds"`
	BodyLimit    string `yaml:"bodyLimit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `yaml:"dataDirectory"`
	UploadsDirectory string `yaml:"uploadsDirectory"`
	MaxFileSizeMB    int64  `yaml:"maxFileSizeMB"`
}

// ExtractionConfig describes the remote invoice extraction service.
type ExtractionConfig struct {
	Mode           string `yaml:"mode"`
	ProductionURL  string `yaml:"productionUrl"`
	DevelopmentURL string `yaml:"developmentUrl"`
	// BaseURL, when set, wins over the mode-selected URL.
	BaseURL        string `yaml:"baseUrl,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// ConversationConfig contains chat session settings
type ConversationConfig struct {
	ReplyDelayMillis       int `yaml:"replyDelayMillis"`
	MaxSessions            int `yaml:"maxSessions"`
	SessionTimeoutMinutes  int `yaml:"sessionTimeoutMinutes"`
	CleanupIntervalMinutes int `yaml:"cleanupIntervalMinutes"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel                string `yaml:"logLevel"`
	LogFormat               string `yaml:"logFormat"`
	EnableRequestLogging    bool   `yaml:"enableRequestLogging"`
	ShowErrorDetails        bool   `yaml:"showErrorDetails"`
	WebSocketMaxMessageSize int    `yaml:"webSocketMaxMessageSizeKB"`
}

// envOverrides lists the environment variables that override the file.
// Unset variables leave the file value in place.
type envOverrides struct {
	Mode          string        `env:"PHYNTRA_MODE"`
	Port          int           `env:"PHYNTRA_PORT"`
	DataDir       string        `env:"PHYNTRA_DATA_DIR"`
	ExtractionURL string        `env:"PHYNTRA_EXTRACTION_URL"`
	LogLevel      string        `env:"PHYNTRA_LOG_LEVEL"`
	ReplyDelay    time.Duration `env:"PHYNTRA_REPLY_DELAY"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8090,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "50M",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			MaxFileSizeMB:    20,
		},
		Extraction: ExtractionConfig{
			Mode:           ModeDevelopment,
			ProductionURL:  "https://phyntra-backend.onrender.com",
			DevelopmentURL: "http://localhost:8000/api",
			TimeoutSeconds: 120,
		},
		Conversation: ConversationConfig{
			ReplyDelayMillis:       1000,
			MaxSessions:            100,
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
		},
		Advanced: AdvancedConfig{
			LogLevel:                "info",
			LogFormat:               "json",
			EnableRequestLogging:    true,
			ShowErrorDetails:        false,
			WebSocketMaxMessageSize: 64,
		},
	}
}

// LoadConfig loads configuration from a YAML file, creating it with
// defaults on first run, then applies environment overrides.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.applyEnvironmentOverrides(); err != nil {
		return nil, err
	}

	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromEnvironment returns the defaults with environment overrides
// applied, without touching the filesystem.
func LoadFromEnvironment() (*AppConfig, error) {
	config := DefaultConfig()
	if err := config.applyEnvironmentOverrides(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration to a YAML file
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Phyntra chat backend configuration\n# This file is auto-generated on first run\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	if o.Mode != "" {
		c.Extraction.Mode = o.Mode
	}
	if o.Port != 0 {
		c.Server.Port = o.Port
	}
	if o.DataDir != "" {
		c.Storage.DataDirectory = o.DataDir
		c.Storage.UploadsDirectory = filepath.Join(o.DataDir, "uploads")
	}
	if o.ExtractionURL != "" {
		c.Extraction.BaseURL = o.ExtractionURL
	}
	if o.LogLevel != "" {
		c.Advanced.LogLevel = o.LogLevel
	}
	if o.ReplyDelay != 0 {
		c.Conversation.ReplyDelayMillis = int(o.ReplyDelay / time.Millisecond)
	}
	return nil
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	if !filepath.IsAbs(c.Storage.UploadsDirectory) {
		c.Storage.UploadsDirectory = filepath.Join(configDir, c.Storage.UploadsDirectory)
	}
}

// Validate reports settings the service cannot start with.
func (c *AppConfig) Validate() error {
	switch strings.ToLower(c.Extraction.Mode) {
	case ModeProduction, ModeDevelopment:
	default:
		return fmt.Errorf("invalid extraction mode %q: want %q or %q", c.Extraction.Mode, ModeProduction, ModeDevelopment)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.ExtractionBaseURL() == "" {
		return fmt.Errorf("no extraction URL configured for mode %q", c.Extraction.Mode)
	}
	return nil
}

// ExtractionBaseURL returns the extraction service base URL for the
// configured deployment mode.
func (c *AppConfig) ExtractionBaseURL() string {
	if c.Extraction.BaseURL != "" {
		return strings.TrimRight(c.Extraction.BaseURL, "/")
	}
	if strings.EqualFold(c.Extraction.Mode, ModeProduction) {
		return strings.TrimRight(c.Extraction.ProductionURL, "/")
	}
	return strings.TrimRight(c.Extraction.DevelopmentURL, "/")
}

// ExtractionTimeout returns the per-request timeout, zero for none.
func (c *AppConfig) ExtractionTimeout() time.Duration {
	return time.Duration(c.Extraction.TimeoutSeconds) * time.Second
}

// ReplyDelay returns the delay of the unhandled-intent reply.
func (c *AppConfig) ReplyDelay() time.Duration {
	return time.Duration(c.Conversation.ReplyDelayMillis) * time.Millisecond
}

// MaxFileSize returns the per-file upload limit in bytes.
func (c *AppConfig) MaxFileSize() int64 {
	return c.Storage.MaxFileSizeMB * 1024 * 1024
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetUploadDir returns the absolute uploads directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
