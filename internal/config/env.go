package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of environment overrides, e.g. CLUSTERHOME_BACKEND.
const EnvPrefix = "CLUSTERHOME"

// envOverrides are applied after the YAML files.
type envOverrides struct {
	Backend        string  `envconfig:"BACKEND"`
	LogLevel       string  `envconfig:"LOG_LEVEL"`
	LogDev         *bool   `envconfig:"LOG_DEV"`
	MetricsAddr    *string `envconfig:"METRICS_ADDR"`
	AssumeUnlocked *bool   `envconfig:"ASSUME_UNLOCKED"`
}

// applyEnv overlays CLUSTERHOME_* variables and records them as sources.
func applyEnv(cfg *Config, sources map[string]Source) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	set := func(path, name string) {
		sources[path] = Source{Kind: SourceEnv, Name: EnvPrefix + "_" + name}
	}
	if env.Backend != "" {
		cfg.Backend = env.Backend
		set("backend", "BACKEND")
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
		set("logging.level", "LOG_LEVEL")
	}
	if env.LogDev != nil {
		cfg.Logging.Development = *env.LogDev
		set("logging.development", "LOG_DEV")
	}
	if env.MetricsAddr != nil {
		cfg.MetricsAddr = *env.MetricsAddr
		set("metrics_addr", "METRICS_ADDR")
	}
	if env.AssumeUnlocked != nil {
		cfg.AssumeUnlocked = *env.AssumeUnlocked
		set("assume_unlocked", "ASSUME_UNLOCKED")
	}
	return nil
}
