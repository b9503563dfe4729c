package config

import (
	"fmt"
	"strconv"
	"time"
)

// KeyInfo is one row of `wingman config show`.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	// Overridden is set when the env var, not the file, decides the value.
	Overridden bool
}

// ShowAll lists the non-secret keys of cfg. Secrets only ever come from the
// environment and are reported separately by the CLI as set/not set.
func ShowAll(cfg Config, lookupEnv func(string) (string, bool)) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		info := KeyInfo{Key: s.key, EnvVar: s.env, Value: fmt.Sprintf("%v", s.extract(cfg))}
		if lookupEnv != nil {
			if v, ok := lookupEnv(s.env); ok && v != "" {
				info.Overridden = true
			}
		}
		result = append(result, info)
	}
	return result
}

// SetKey writes key to the config file. The new value must leave the config
// loadable: "server.port 0" or "flow.skip_cooldown -1h" are refused here
// rather than at the next `wingman start`.
func SetKey(key, value string) error {
	return setKeyWith(newFileBackend(configFilePath()), key, value)
}

// UnsetKey removes key from the config file so the default applies again.
func UnsetKey(key string) error {
	return unsetKeyWith(newFileBackend(configFilePath()), key)
}

func lookupSpec(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return keySpec{}, fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
		}
		return s, nil
	}
	return keySpec{}, fmt.Errorf("unknown config key: %q", key)
}

func setKeyWith(b ConfigBackend, key, value string) error {
	s, err := lookupSpec(key)
	if err != nil {
		return err
	}

	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return err
	}

	var parsed any = value
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		parsed = i
	case kDuration:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %w", key, err)
		}
		parsed = d
	}
	s.apply(&cfg, parsed)
	if err := cfg.validate(); err != nil {
		return err
	}

	if i, ok := parsed.(int); ok {
		return b.SetInt(key, i)
	}
	return b.SetString(key, value)
}

func unsetKeyWith(b ConfigBackend, key string) error {
	if _, err := lookupSpec(key); err != nil {
		return err
	}
	return b.Delete(key)
}

// ValidKeys returns the keys `wingman config set` accepts.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
