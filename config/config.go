// Package config holds the process configuration. A Config is built once at
// startup and passed into each component's constructor; core packages never
// reach for ambient globals.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	apperr "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// Config is the full process configuration. YAML file values are overridden
// by environment variables.
type Config struct {
	AppName string `yaml:"app_name"`
	Listen  string `yaml:"listen"`

	LogLevel   string `yaml:"log_level"`
	LogConsole bool   `yaml:"log_console"`

	// Runtime storage directories.
	DataDir      string `yaml:"data_dir"`
	ModelsDir    string `yaml:"models_dir"`
	MetadataDir  string `yaml:"metadata_dir"`
	ProcessedDir string `yaml:"processed_dir"`

	// Training defaults.
	RandomSeed   int64   `yaml:"random_seed"`
	TestFraction float64 `yaml:"test_fraction"`

	// Narrative collaborator (OpenAI-compatible endpoint, local Ollama by
	// default).
	LLMEnabled bool   `yaml:"llm_enabled"`
	LLMBaseURL string `yaml:"llm_base_url"`
	LLMModel   string `yaml:"llm_model"`
	LLMAPIKey  string `yaml:"llm_api_key"`
}

// Default returns the out-of-the-box configuration for local development.
func Default() Config {
	return Config{
		AppName:      "churnkit",
		Listen:       ":8000",
		LogLevel:     "info",
		LogConsole:   false,
		DataDir:      "data",
		RandomSeed:   42,
		TestFraction: 0.2,
		LLMEnabled:   false,
		LLMBaseURL:   "http://localhost:11434/v1",
		LLMModel:     "llama3.1:8b",
		LLMAPIKey:    "ollama",
	}
}

// Load reads the optional YAML file at path, applies environment overrides
// and resolves the storage directory layout.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, apperr.Wrapf(err, "read config file %s", path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, apperr.Wrapf(err, "parse config file %s", path)
		}
	}

	applyEnv(&cfg)
	cfg.resolveDirs()

	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		return cfg, apperr.Newf("test_fraction must be in (0,1), got %v", cfg.TestFraction)
	}
	return cfg, nil
}

// EnsureDirs creates the storage directory layout.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{c.ModelsDir, c.MetadataDir, c.ProcessedDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return apperr.Wrapf(err, "create directory %s", dir)
		}
	}
	return nil
}

func (c *Config) resolveDirs() {
	if c.ModelsDir == "" {
		c.ModelsDir = filepath.Join(c.DataDir, "models")
	}
	if c.MetadataDir == "" {
		c.MetadataDir = filepath.Join(c.DataDir, "metadata")
	}
	if c.ProcessedDir == "" {
		c.ProcessedDir = filepath.Join(c.DataDir, "processed")
	}
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	setString("CHURNKIT_LISTEN", &cfg.Listen)
	setString("CHURNKIT_LOG_LEVEL", &cfg.LogLevel)
	setBool("CHURNKIT_LOG_CONSOLE", &cfg.LogConsole)
	setString("CHURNKIT_DATA_DIR", &cfg.DataDir)
	setString("CHURNKIT_MODELS_DIR", &cfg.ModelsDir)
	setString("CHURNKIT_METADATA_DIR", &cfg.MetadataDir)
	setString("CHURNKIT_PROCESSED_DIR", &cfg.ProcessedDir)

	if v, ok := os.LookupEnv("CHURNKIT_RANDOM_SEED"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.RandomSeed = n
		}
	}
	if v, ok := os.LookupEnv("CHURNKIT_TEST_FRACTION"); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.TestFraction = f
		}
	}

	setBool("CHURNKIT_LLM_ENABLED", &cfg.LLMEnabled)
	setString("CHURNKIT_LLM_BASE_URL", &cfg.LLMBaseURL)
	setString("CHURNKIT_LLM_MODEL", &cfg.LLMModel)
	setString("CHURNKIT_LLM_API_KEY", &cfg.LLMAPIKey)
}
