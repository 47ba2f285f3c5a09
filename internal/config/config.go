// Package config handles Tagsmith configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/tagsmith/config.yaml, /etc/tagsmith/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tagsmith", "config.yaml"))
	}

	paths = append(paths, "/etc/tagsmith/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Tagsmith configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Library    LibraryConfig    `yaml:"library"`
	Models     ModelsConfig     `yaml:"models"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Executor   ExecutorConfig   `yaml:"executor"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// ListenConfig defines the session API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LibraryConfig defines where the audio files live.
type LibraryConfig struct {
	// Path is the folder scanned for audio files at startup and by
	// the scan command.
	Path string `yaml:"path"`
}

// ModelsConfig defines the reasoning model settings.
type ModelsConfig struct {
	Default   string `yaml:"default"`
	OllamaURL string `yaml:"ollama_url"`
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Model   string `yaml:"model"`   // Embedding model name (e.g., nomic-embed-text)
	BaseURL string `yaml:"baseurl"` // Ollama URL (defaults to models.ollama_url)
}

// ExecutorConfig tunes batch mutation execution.
type ExecutorConfig struct {
	// Parallelism caps concurrent per-file writes within one batch.
	// Zero or negative means sequential execution.
	Parallelism int `yaml:"parallelism"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Models: ModelsConfig{
			Default:   "qwen3:4b",
			OllamaURL: "http://localhost:11434",
		},
		Embeddings: EmbeddingsConfig{
			Model: "nomic-embed-text",
		},
		Executor: ExecutorConfig{Parallelism: 4},
	}
}

// DatabasePath returns the session database location under DataDir.
func (c *Config) DatabasePath() string {
	dir := c.DataDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "tagsmith.db")
}

// EmbeddingsURL returns the Ollama endpoint used for embedding
// generation, falling back to models.ollama_url when embeddings.baseurl
// is unset.
func (c *Config) EmbeddingsURL() string {
	if c.Embeddings.BaseURL != "" {
		return c.Embeddings.BaseURL
	}
	return c.Models.OllamaURL
}

// IndexPath returns the vector index persistence directory under DataDir.
func (c *Config) IndexPath() string {
	dir := c.DataDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "index")
}
