// Package config loads and validates the workspace configuration from
// .semlink/config.yaml. Absent file means defaults; environment variables
// override the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"semlink/internal/provider"
)

// ConfigDir is the workspace-relative directory holding config and state.
const ConfigDir = ".semlink"

// Config holds all semlink configuration.
type Config struct {
	// Embedding selects and parameterizes the embedding provider.
	Embedding provider.Config `yaml:"embedding"`

	// Pipeline tunes the batch embedding runs.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Vault configures content ingestion.
	Vault VaultConfig `yaml:"vault"`

	// Store configures persistence.
	Store StoreConfig `yaml:"store"`

	// Search tunes connection queries.
	Search SearchConfig `yaml:"search"`

	// Logging configures the categorized file logger.
	Logging LoggingConfig `yaml:"logging"`
}

// PipelineConfig tunes batch embedding runs.
type PipelineConfig struct {
	BatchSize    int    `yaml:"batch_size"`
	MaxRetries   int    `yaml:"max_retries"`
	SaveInterval int    `yaml:"save_interval"`
	HaltOnError  bool   `yaml:"halt_on_error"`
	StopTimeout  string `yaml:"stop_timeout"`
}

// VaultConfig configures content ingestion.
type VaultConfig struct {
	// Path is the root directory to scan. Defaults to the workspace.
	Path string `yaml:"path"`

	// Extensions lists the file extensions to ingest.
	Extensions []string `yaml:"extensions"`

	// ExcludeDirs lists directory names skipped during scans.
	ExcludeDirs []string `yaml:"exclude_dirs"`

	// MinChars is the minimum content length worth embedding.
	MinChars int `yaml:"min_chars"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	// DatabasePath is the SQLite file, relative to the workspace unless
	// absolute.
	DatabasePath string `yaml:"database_path"`
}

// SearchConfig tunes connection queries.
type SearchConfig struct {
	// ConnectionLimit bounds merged connection lists.
	ConnectionLimit int `yaml:"connection_limit"`

	// MinScore drops connections below the threshold.
	MinScore float64 `yaml:"min_score"`

	// IncludeSameSource keeps blocks from the reference's own source in
	// connection results. Off by default.
	IncludeSameSource bool `yaml:"include_same_source"`
}

// LoggingConfig configures the categorized file logger. Mirrored by the
// logging package, which reads it directly from disk at init.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Embedding: provider.Config{
			Provider: "ollama",
			Model:    "embeddinggemma",
			Host:     "http://localhost:11434",
			Dims:     768,
		},
		Pipeline: PipelineConfig{
			BatchSize:    10,
			MaxRetries:   3,
			SaveInterval: 50,
			StopTimeout:  "30s",
		},
		Vault: VaultConfig{
			Extensions:  []string{".md", ".txt"},
			ExcludeDirs: []string{".git", ".semlink", "node_modules"},
			MinChars:    10,
		},
		Store: StoreConfig{
			DatabasePath: filepath.Join(ConfigDir, "semlink.db"),
		},
		Search: SearchConfig{
			ConnectionLimit: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, ConfigDir, "config.yaml")
}

// Load reads the workspace config. A missing file yields defaults.
func Load(workspace string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the config to the workspace, creating the directory.
func (c *Config) Save(workspace string) error {
	path := Path(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("OLLAMA_HOST"); host != "" && c.Embedding.Provider == "ollama" {
		c.Embedding.Host = host
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.APIKey = key
	}
	if path := os.Getenv("SEMLINK_DB"); path != "" {
		c.Store.DatabasePath = path
	}
}

// StopTimeout returns the stop confirmation timeout as a duration.
func (c *Config) StopTimeout() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.StopTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Embedding.Provider == "" {
		return fmt.Errorf("embedding provider not configured")
	}
	if c.Embedding.Provider == "genai" && c.Embedding.APIKey == "" {
		return fmt.Errorf("genai provider requires an API key (set GEMINI_API_KEY)")
	}
	if c.Pipeline.BatchSize < 0 {
		return fmt.Errorf("invalid batch size: %d", c.Pipeline.BatchSize)
	}
	if c.Search.MinScore < -1 || c.Search.MinScore > 1 {
		return fmt.Errorf("min_score must be within [-1, 1], got %v", c.Search.MinScore)
	}
	return nil
}

// ConnectionLimit returns the configured connection limit or the default.
func (c *Config) ConnectionLimit() int {
	if c.Search.ConnectionLimit > 0 {
		return c.Search.ConnectionLimit
	}
	return 30
}
