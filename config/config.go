// Package config persists CLI settings at ~/.vineflow/config.yaml:
// provider credentials, default models, and the journal location.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	configDirName  = ".vineflow"
	configFileName = "config.yaml"
)

// Provider holds the credentials and default model for one LLM provider.
type Provider struct {
	APIKey string `yaml:"api_key,omitempty"`
	Model  string `yaml:"model,omitempty"`
}

// Journal holds journal store settings.
type Journal struct {
	Path string `yaml:"path,omitempty"`
}

// File is the on-disk configuration shape.
type File struct {
	DefaultProvider string              `yaml:"default_provider,omitempty"`
	Providers       map[string]Provider `yaml:"providers,omitempty"`
	Journal         Journal             `yaml:"journal,omitempty"`
}

// Path returns the default config location under the user's home
// directory.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve user home: %w", err)
	}
	return filepath.Join(home, configDirName, configFileName), nil
}

// Load reads the config at path. When path is empty the default location
// is used. A missing file yields an empty config, not an error.
func Load(path string) (File, error) {
	var cfg File

	if path == "" {
		var err error
		path, err = Path()
		if err != nil {
			return cfg, err
		}
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: reading %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %q: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path, creating parent directories as needed.
// When path is empty the default location is used.
func Save(cfg File, path string) error {
	if path == "" {
		var err error
		path, err = Path()
		if err != nil {
			return err
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: writing %q: %w", path, err)
	}
	return nil
}

// Resolve returns the provider name and entry to use, with environment
// fallbacks: an empty name falls back to default_provider, and a missing
// API key is looked up as <NAME>_API_KEY. Values in the file may
// reference environment variables with $VAR syntax.
func (f File) Resolve(name string) (string, Provider, error) {
	if name == "" {
		name = f.DefaultProvider
	}
	if name == "" {
		return "", Provider{}, errors.New("config: no provider named and no default_provider set")
	}

	p := f.Providers[name]
	p.APIKey = os.ExpandEnv(p.APIKey)
	if p.APIKey == "" {
		p.APIKey = os.Getenv(strings.ToUpper(name) + "_API_KEY")
	}
	if p.APIKey == "" {
		return "", Provider{}, fmt.Errorf("config: no API key for provider %q (set providers.%s.api_key or %s_API_KEY)",
			name, name, strings.ToUpper(name))
	}
	return name, p, nil
}
