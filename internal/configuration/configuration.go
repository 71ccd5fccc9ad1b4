package configuration

import (
	"encoding/json"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/pkg/errors"

	"bgpt/internal/file"
)

var defaultConfig = Config{
	APIKey:       "API_KEY",
	APIHost:      "https://openrouter.ai/api/v1",
	DatabasePath: "~/.config/bgpt/bgpt.db",
	DefaultModel: "anthropic/claude-3.5-sonnet",
	TitleModel:   "anthropic/claude-3-haiku",
}

// Config holds configuration for the bgpt tool.
type Config struct {
	// Key and host of the OpenAI-compatible completion API.
	APIKey  string `json:"api_key"`
	APIHost string `json:"api_host"`
	// Optional native Anthropic key; takes precedence when set.
	AnthropicAPIKey string `json:"anthropic_api_key,omitempty"`
	// Path of the local SQLite database.
	DatabasePath string `json:"database_path"`
	// Optional Postgres URL; takes precedence over the SQLite file when set.
	DatabaseURL string `json:"database_url,omitempty"`
	// Model used for new branches.
	DefaultModel string `json:"default_model"`
	// Model used for conversation title generation.
	TitleModel string `json:"title_model"`
}

// Parse a configuration file, creating a default one on first run. Fields
// the user leaves out fall back to their defaults.
func Parse(path string) (*Config, error) {
	path, err := file.ExpandPath(path)
	if err != nil {
		return nil, errors.Wrap(err, "expanding path")
	}

	if err := initializeIfNotPresent(path); err != nil {
		return nil, errors.Wrap(err, "initializing configuration")
	}
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading file")
	}

	config := &Config{}
	if err = json.Unmarshal(bytes, config); err != nil {
		return nil, errors.Wrap(err, "unmarshaling into config")
	}
	if err := mergo.Merge(config, defaultConfig); err != nil {
		return nil, errors.Wrap(err, "merging defaults")
	}

	expandedDatabasePath, err := file.ExpandPath(config.DatabasePath)
	if err != nil {
		return nil, errors.Wrap(err, "expanding database path")
	}
	config.DatabasePath = expandedDatabasePath
	if err := file.CreateDirectoryIfNotExist(filepath.Dir(config.DatabasePath)); err != nil {
		return nil, errors.Wrap(err, "creating database directory")
	}
	return config, nil
}

// save a configuration file.
func (c *Config) save(path string) error {
	bytes, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling config")
	}

	if err := os.WriteFile(path, bytes, 0644); err != nil {
		return errors.Wrap(err, "writing file")
	}
	return nil
}

// initializeIfNotPresent initializes a config if it does not exist.
func initializeIfNotPresent(path string) error {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return nil
	}

	dir, _ := filepath.Split(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "creating folders")
	}

	if err := defaultConfig.save(path); err != nil {
		return errors.Wrap(err, "saving default config")
	}
	return nil
}
