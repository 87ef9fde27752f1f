package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader provides configuration loading capabilities.
type Loader interface {
	// Load loads configuration from file and environment variables.
	// Priority: defaults → config file → environment variables (env wins)
	Load() (*Config, error)
}

type loader struct {
	rootDir string
}

// NewLoader creates a new configuration loader for the given root directory.
func NewLoader(rootDir string) Loader {
	return &loader{
		rootDir: rootDir,
	}
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Environment variables (SEMANTICA_*)
// 2. Config file (.semantica/config.yml or .semantica/config.yaml)
// 3. Default values
func (l *loader) Load() (*Config, error) {
	v := viper.New()

	configDir := filepath.Join(l.rootDir, ".semantica")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	v.SetEnvPrefix("SEMANTICA")
	v.AutomaticEnv()
	// Replace . with _ in env var names (e.g., SEMANTICA_EMBEDDING_ENDPOINT)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.BindEnv("watched_folders")
	v.BindEnv("exclude_patterns")
	v.BindEnv("max_file_size")
	v.BindEnv("enable_ocr")

	v.BindEnv("embedding.binary_path")
	v.BindEnv("embedding.model")
	v.BindEnv("embedding.dimensions")
	v.BindEnv("embedding.endpoint")
	v.BindEnv("embedding.startup_timeout_s")
	v.BindEnv("embedding.shutdown_timeout_s")

	v.BindEnv("storage.data_root")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is acceptable - we'll use defaults + env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Storage.DataRoot == "" {
		cfg.Storage.DataRoot = filepath.Join(l.rootDir, ".semantica", "data")
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults configures viper with default values.
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("watched_folders", defaults.WatchedFolders)
	v.SetDefault("file_types", defaults.FileTypes)
	v.SetDefault("exclude_patterns", defaults.ExcludePatterns)
	v.SetDefault("max_file_size", defaults.MaxFileSizeMB)
	v.SetDefault("enable_ocr", defaults.EnableOCR)

	v.SetDefault("embedding.binary_path", defaults.Embedding.BinaryPath)
	v.SetDefault("embedding.model", defaults.Embedding.Model)
	v.SetDefault("embedding.dimensions", defaults.Embedding.Dimensions)
	v.SetDefault("embedding.endpoint", defaults.Embedding.Endpoint)
	v.SetDefault("embedding.startup_timeout_s", defaults.Embedding.StartupTimeoutS)
	v.SetDefault("embedding.shutdown_timeout_s", defaults.Embedding.ShutdownTimeoutS)

	v.SetDefault("storage.data_root", defaults.Storage.DataRoot)
}

// LoadConfig is a convenience function that creates a loader and loads config.
// It uses the current working directory as the root.
func LoadConfig() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return NewLoader(wd).Load()
}

// LoadConfigFromDir loads configuration from a specific directory.
func LoadConfigFromDir(rootDir string) (*Config, error) {
	return NewLoader(rootDir).Load()
}
