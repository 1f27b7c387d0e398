package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultInactivityTimeout is applied when voice.inactivity_timeout is unset.
const defaultInactivityTimeout = Duration(30 * time.Second)

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments supply secrets without
// writing them into the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.PostgresDSN = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "voxloop"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = EnvDevelopment
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Voice.InactivityTimeout <= 0 {
		cfg.Voice.InactivityTimeout = defaultInactivityTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.App.Environment.IsValid() {
		errs = append(errs, fmt.Errorf("app.environment %q is invalid; valid values: development, staging, production", cfg.App.Environment))
	}
	if cfg.Database.PostgresDSN == "" {
		errs = append(errs, errors.New("database.postgres_dsn is required (or set DATABASE_URL)"))
	}
	if cfg.Voice.InactivityTimeout.Std() < time.Second {
		errs = append(errs, fmt.Errorf("voice.inactivity_timeout %s is below the 1s minimum", cfg.Voice.InactivityTimeout))
	}

	// Soft issues are warnings, not failures.
	if cfg.LLM.APIKey == "" {
		slog.Warn("llm.api_key is empty; live sessions will fail to authenticate (set GOOGLE_API_KEY)")
	}
	if cfg.App.Environment == EnvProduction && cfg.Server.PublicHost == "" {
		slog.Warn("server.public_host is empty in production; webhook stream URLs will rely on forwarded headers")
	}

	return errors.Join(errs...)
}
