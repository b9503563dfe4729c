package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	LLM        LLMConfig
	Log        LogConfig
	Assessment AssessmentConfig
	API        APIConfig
	Flow       FlowConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LLMConfig struct {
	OpenRouterAPIKey string
	Model            string
	FallbackModel    string
	OllamaBaseURL    string
	OllamaModel      string
	MaxAttempts      int
	BaseDelay        time.Duration
	Timeout          time.Duration
}

type LogConfig struct {
	Level string
}

type AssessmentConfig struct {
	Variant string
}

type APIConfig struct {
	Token string
}

type FlowConfig struct {
	SkipCooldown time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		LLM: LLMConfig{
			Model:         "anthropic/claude-sonnet-4",
			FallbackModel: "openai/gpt-4o-mini",
			OllamaBaseURL: "http://localhost:11434",
			OllamaModel:   "llama3.2",
			MaxAttempts:   3,
			BaseDelay:     500 * time.Millisecond,
			Timeout:       30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Assessment: AssessmentConfig{
			Variant: "confidence",
		},
		Flow: FlowConfig{
			SkipCooldown: 24 * time.Hour,
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/wingman/config.json, then applies WINGMAN_* environment
// overrides. Secrets are only read from the environment.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must not be empty")
	}
	if c.Assessment.Variant == "" {
		return fmt.Errorf("assessment.variant must not be empty")
	}
	if c.LLM.MaxAttempts < 1 {
		return fmt.Errorf("llm.max_attempts must be at least 1, got %d", c.LLM.MaxAttempts)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive, got %s", c.LLM.Timeout)
	}
	if c.Flow.SkipCooldown <= 0 {
		return fmt.Errorf("flow.skip_cooldown must be positive, got %s", c.Flow.SkipCooldown)
	}
	return nil
}

// HasRemoteLLM reports whether an OpenRouter key is configured.
func (c Config) HasRemoteLLM() bool {
	return c.LLM.OpenRouterAPIKey != ""
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "wingman-data"
		}
	}
	return filepath.Join(dir, "wingman")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "wingman", "config.json")
}
