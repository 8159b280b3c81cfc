// Package config loads the routing engine configuration from
// ~/.magpie/config.yaml, with environment variable overrides under the
// MAGPIE_ prefix (e.g. MAGPIE_LOGGING_LEVEL).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the routing engine.
type Config struct {
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer" yaml:"analyzer"`
	Selection SelectionConfig `mapstructure:"selection" yaml:"selection"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Catalog   CatalogConfig   `mapstructure:"catalog" yaml:"catalog"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// AnalyzerConfig controls complexity analysis.
type AnalyzerConfig struct {
	// RefinementEnabled turns on the LLM refinement stage. Rule-based
	// scoring always runs regardless.
	RefinementEnabled bool `mapstructure:"refinement_enabled" yaml:"refinement_enabled"`
	// RefinementTimeoutMs bounds one refinement call.
	RefinementTimeoutMs int `mapstructure:"refinement_timeout_ms" yaml:"refinement_timeout_ms"`
	// OllamaEndpoint is the local completion endpoint used for refinement.
	OllamaEndpoint string `mapstructure:"ollama_endpoint" yaml:"ollama_endpoint"`
	// RefinementModel names the model used for refinement calls.
	RefinementModel string `mapstructure:"refinement_model" yaml:"refinement_model"`
}

// SelectionConfig controls static and adaptive selection.
type SelectionConfig struct {
	// DefaultPriorityMode applies when a request specifies none.
	// One of: none, cost_sensitive, performance_sensitive, latency_sensitive.
	DefaultPriorityMode string `mapstructure:"default_priority_mode" yaml:"default_priority_mode"`
	// Epsilon is the adaptive exploration probability.
	Epsilon float64 `mapstructure:"epsilon" yaml:"epsilon"`
	// LearningRate blends feedback into stored performance scores.
	LearningRate float64 `mapstructure:"learning_rate" yaml:"learning_rate"`
}

// StorageConfig locates the usage database.
type StorageConfig struct {
	// DBPath is the SQLite database file.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
	// AggregationIntervalMin is the background aggregation period in
	// minutes; 0 disables the background loop.
	AggregationIntervalMin int `mapstructure:"aggregation_interval_min" yaml:"aggregation_interval_min"`
}

// CatalogConfig locates the model catalog.
type CatalogConfig struct {
	// Path is a YAML catalog file; empty uses the embedded default catalog.
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
	// File is the log file path; empty disables file output.
	File string `mapstructure:"file" yaml:"file"`
	// Console mirrors logs to stderr.
	Console bool `mapstructure:"console" yaml:"console"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Analyzer: AnalyzerConfig{
			RefinementEnabled:   false,
			RefinementTimeoutMs: 5000,
			OllamaEndpoint:      "http://localhost:11434",
			RefinementModel:     "llama3.2:3b",
		},
		Selection: SelectionConfig{
			DefaultPriorityMode: "none",
			Epsilon:             0.1,
			LearningRate:        0.2,
		},
		Storage: StorageConfig{
			DBPath:                 "~/.magpie/magpie.db",
			AggregationIntervalMin: 60,
		},
		Logging: LoggingConfig{
			Level:   "info",
			File:    "~/.magpie/logs/magpie.log",
			Console: false,
		},
	}
}

// Load reads configuration from ~/.magpie/config.yaml.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return LoadFromPath(filepath.Join(homeDir, ".magpie", "config.yaml"))
}

// LoadFromPath reads configuration from a specific file path and merges
// environment variable overrides. A missing file is first created with
// default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: MAGPIE_STORAGE_DB_PATH
	v.SetEnvPrefix("MAGPIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Storage.DBPath = expandPath(cfg.Storage.DBPath)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.Catalog.Path = expandPath(cfg.Catalog.Path)

	return &cfg, nil
}

// SaveToPath writes the configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// Validate checks the configuration for common errors.
func (c *Config) Validate() error {
	validModes := map[string]bool{"none": true, "cost_sensitive": true, "performance_sensitive": true, "latency_sensitive": true}
	if !validModes[c.Selection.DefaultPriorityMode] {
		return fmt.Errorf("invalid default_priority_mode '%s'", c.Selection.DefaultPriorityMode)
	}
	if c.Selection.Epsilon < 0 || c.Selection.Epsilon > 1 {
		return fmt.Errorf("epsilon must be in [0,1], got %g", c.Selection.Epsilon)
	}
	if c.Selection.LearningRate <= 0 || c.Selection.LearningRate > 1 {
		return fmt.Errorf("learning_rate must be in (0,1], got %g", c.Selection.LearningRate)
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path cannot be empty")
	}
	if c.Storage.AggregationIntervalMin < 0 {
		return fmt.Errorf("aggregation_interval_min cannot be negative")
	}
	if c.Analyzer.RefinementTimeoutMs <= 0 {
		return fmt.Errorf("refinement_timeout_ms must be positive")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
// Uses gopkg.in/yaml.v3 directly to ensure proper tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
