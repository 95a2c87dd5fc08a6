// Package config loads wagner's settings from an optional YAML file
// overlaid by environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no config file is given. It may be absent.
const DefaultPath = "wagner.yaml"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrInvalidConfig = errors.New("invalid configuration")

var knownProviders = map[string]bool{"ollama": true, "openai": true, "gemini": true}

type Config struct {
	Server      ServerConfig    `yaml:"server"`
	Storage     StorageConfig   `yaml:"storage"`
	Images      ImagesConfig    `yaml:"images"`
	OCR         ServiceConfig   `yaml:"ocr"`
	Translation ServiceConfig   `yaml:"translation"`
	Providers   ProvidersConfig `yaml:"providers"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type ImagesConfig struct {
	Dir string `yaml:"dir"`
}

// ServiceConfig selects the LLM provider and model of a collaborator.
// An empty model means the provider's default.
type ServiceConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type ProvidersConfig struct {
	GeminiAPIKey string `yaml:"gemini_api_key"`
	OpenAIAPIKey string `yaml:"openai_api_key"`
	OllamaURL    string `yaml:"ollama_url"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server:      ServerConfig{Port: "8888"},
		Storage:     StorageConfig{Driver: DriverSQLite, DSN: "wagner.db"},
		Images:      ImagesConfig{Dir: "uploads"},
		OCR:         ServiceConfig{Provider: "ollama"},
		Translation: ServiceConfig{Provider: "ollama"},
		Providers:   ProvidersConfig{OllamaURL: "http://localhost:11434"},
	}
}

// Load reads path over the defaults and applies the environment. An empty
// path reads DefaultPath if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	optional := path == ""
	if optional {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides settings with the environment variables that are set.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.Server.Port, "PORT")
	set(&c.Storage.Driver, "STORAGE_DRIVER")
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Storage.DSN = v
		if _, explicit := lookup("STORAGE_DRIVER"); !explicit {
			c.Storage.Driver = driverFor(v)
		}
	}
	set(&c.Images.Dir, "IMAGES_DIR")
	set(&c.OCR.Provider, "OCR_PROVIDER")
	set(&c.OCR.Model, "OCR_MODEL")
	set(&c.Translation.Provider, "TRANSLATION_PROVIDER")
	set(&c.Translation.Model, "TRANSLATION_MODEL")
	set(&c.Providers.GeminiAPIKey, "GEMINI_API_KEY")
	set(&c.Providers.OpenAIAPIKey, "OPENAI_API_KEY")
	set(&c.Providers.OllamaURL, "OLLAMA_URL")
}

// driverFor guesses the storage driver of a DSN.
func driverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage driver %s needs a dsn", ErrInvalidConfig, c.Storage.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.Storage.Driver)
	}
	for name, p := range map[string]string{"ocr": c.OCR.Provider, "translation": c.Translation.Provider} {
		if !knownProviders[p] {
			return fmt.Errorf("%w: unknown %s provider %q", ErrInvalidConfig, name, p)
		}
	}
	if c.Images.Dir == "" {
		return fmt.Errorf("%w: images dir is required", ErrInvalidConfig)
	}
	return nil
}
