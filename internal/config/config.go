package config

// Config represents the complete semantica configuration.
// It is loaded from .semantica/config.yml with environment variable overrides.
type Config struct {
	WatchedFolders  []string        `yaml:"watched_folders" mapstructure:"watched_folders"`
	FileTypes       map[string]bool `yaml:"file_types" mapstructure:"file_types"`
	ExcludePatterns []string        `yaml:"exclude_patterns" mapstructure:"exclude_patterns"`
	MaxFileSizeMB   int             `yaml:"max_file_size" mapstructure:"max_file_size"`
	EnableOCR       bool            `yaml:"enable_ocr" mapstructure:"enable_ocr"`
	EnableProfiling bool            `yaml:"enable_profiling" mapstructure:"enable_profiling"`

	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
}

// EmbeddingConfig configures the embedder subprocess and client.
type EmbeddingConfig struct {
	BinaryPath      string `yaml:"binary_path" mapstructure:"binary_path"`
	Model           string `yaml:"model" mapstructure:"model"`
	Dimensions      int    `yaml:"dimensions" mapstructure:"dimensions"`
	Endpoint        string `yaml:"endpoint" mapstructure:"endpoint"`
	StartupTimeoutS int    `yaml:"startup_timeout_s" mapstructure:"startup_timeout_s"`
	ShutdownTimeoutS int   `yaml:"shutdown_timeout_s" mapstructure:"shutdown_timeout_s"`
}

// StorageConfig configures the on-disk data root.
type StorageConfig struct {
	DataRoot string `yaml:"data_root" mapstructure:"data_root"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		WatchedFolders: []string{},
		FileTypes: map[string]bool{
			"pdf":  true,
			"txt":  true,
			"md":   true,
			"docx": true,
			"doc":  true,
			"rtf":  true,
			"csv":  true,
			"tsv":  true,
			"xlsx": true,
			"xls":  true,
			"xlsm": true,
		},
		ExcludePatterns: []string{
			".git/**",
			"node_modules/**",
			".semantica/**",
			"*.app/**",
			"*.photoslibrary/**",
		},
		MaxFileSizeMB:   50,
		EnableOCR:       false,
		EnableProfiling: false,
		Embedding: EmbeddingConfig{
			BinaryPath:       "",
			Model:            "default",
			Dimensions:       768,
			Endpoint:         "http://127.0.0.1:8123",
			StartupTimeoutS:  30,
			ShutdownTimeoutS: 5,
		},
		Storage: StorageConfig{
			DataRoot: "",
		},
	}
}
