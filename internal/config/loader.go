// Package config loads, validates and locks the urclgw YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, defaults, verifies and validates the config at
// configPath. A directory is taken to contain config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := resolve(configPath)
	if err != nil {
		return nil, err
	}

	if err := verifyHash(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// parse interpolates ${VAR} references and decodes data over Defaults.
func parse(data []byte) (*Config, error) {
	cfg := Defaults()
	interpolated := interpolateEnv(string(data))

	dec := yaml.NewDecoder(bytes.NewBufferString(interpolated))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func resolve(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// applyDefaults fills fields a config file explicitly zeroed.
func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Engine.Flags == nil {
		cfg.Engine.Flags = []string{}
	}
	if cfg.Engine.StartupTimeout == 0 {
		cfg.Engine.StartupTimeout = defaults.Engine.StartupTimeout
	}
	if cfg.Jobs.MaxSourceBytes == 0 {
		cfg.Jobs.MaxSourceBytes = defaults.Jobs.MaxSourceBytes
	}
	if cfg.Jobs.FetchTimeout == 0 {
		cfg.Jobs.FetchTimeout = defaults.Jobs.FetchTimeout
	}
	if cfg.Jobs.DefaultLanguage == "" {
		cfg.Jobs.DefaultLanguage = defaults.Jobs.DefaultLanguage
	}
	if cfg.Jobs.DefaultOutputType == "" {
		cfg.Jobs.DefaultOutputType = defaults.Jobs.DefaultOutputType
	}
	if cfg.Jobs.DefaultTier == "" {
		cfg.Jobs.DefaultTier = defaults.Jobs.DefaultTier
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.SyncTimeout == 0 {
		cfg.API.SyncTimeout = defaults.API.SyncTimeout
	}
}

// interpolateEnv replaces ${VAR} with the variable's value. Unset variables
// are left in place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); m != nil {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Engine.Path == "" {
		return fmt.Errorf("engine.path is required")
	}
	if err := unresolved("engine.path", cfg.Engine.Path); err != nil {
		return err
	}
	if cfg.Engine.Port < 1 || cfg.Engine.Port > 65535 {
		return fmt.Errorf("engine.port must be between 1 and 65535 (got %d)", cfg.Engine.Port)
	}
	for i, flag := range cfg.Engine.Flags {
		if flag == "" {
			// An empty flag would read as the end of the list.
			return fmt.Errorf("engine.flags[%d] is empty", i)
		}
		if err := unresolved(fmt.Sprintf("engine.flags[%d]", i), flag); err != nil {
			return err
		}
	}
	if cfg.Engine.StartupTimeout < 0 {
		return fmt.Errorf("engine.startup_timeout must be positive")
	}
	if cfg.Engine.ShutdownGrace < 0 {
		return fmt.Errorf("engine.shutdown_grace must not be negative")
	}

	if cfg.Jobs.MaxSourceBytes <= 0 {
		return fmt.Errorf("jobs.max_source_bytes must be positive")
	}
	if cfg.Jobs.FetchTimeout < 0 {
		return fmt.Errorf("jobs.fetch_timeout must be positive")
	}

	if err := unresolved("state.path", cfg.State.Path); err != nil {
		return err
	}

	if cfg.API.Enabled && cfg.API.SyncTimeout < 0 {
		return fmt.Errorf("api.sync_timeout must be positive")
	}

	return nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}
