package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "WINGMAN_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "WINGMAN_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "llm.openrouter_api_key", typ: kString, env: "WINGMAN_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenRouterAPIKey },
	},
	{
		key: "llm.model", typ: kString, env: "WINGMAN_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.fallback_model", typ: kString, env: "WINGMAN_LLM_FALLBACK_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.FallbackModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.FallbackModel },
	},
	{
		key: "llm.ollama_base_url", typ: kString, env: "WINGMAN_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.OllamaBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OllamaBaseURL },
	},
	{
		key: "llm.ollama_model", typ: kString, env: "WINGMAN_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.OllamaModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OllamaModel },
	},
	{
		key: "llm.max_attempts", typ: kInt, env: "WINGMAN_LLM_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxAttempts },
	},
	{
		key: "llm.base_delay", typ: kDuration, env: "WINGMAN_LLM_BASE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.BaseDelay },
	},
	{
		key: "llm.timeout", typ: kDuration, env: "WINGMAN_LLM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "log.level", typ: kString, env: "WINGMAN_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "assessment.variant", typ: kString, env: "WINGMAN_ASSESSMENT_VARIANT",
		apply:   func(cfg *Config, v any) { cfg.Assessment.Variant = v.(string) },
		extract: func(cfg Config) any { return cfg.Assessment.Variant },
	},
	{
		key: "api.token", typ: kString, env: "WINGMAN_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
	{
		key: "flow.skip_cooldown", typ: kDuration, env: "WINGMAN_FLOW_SKIP_COOLDOWN",
		apply:   func(cfg *Config, v any) { cfg.Flow.SkipCooldown = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Flow.SkipCooldown },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid duration for %s: %w", s.key, err)
			}
			s.apply(cfg, d)
		}
	}
	return nil
}

// applyEnvOverrides applies WINGMAN_* variables. Unparseable values are
// logged and skipped so a typo in the environment keeps the file value.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				slog.Warn("could not parse integer env var, keeping previous value", "env", s.env, "value", raw, "error", err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				slog.Warn("could not parse duration env var, keeping previous value", "env", s.env, "value", raw, "error", err)
			}
		}
	}
}
