package config

import "time"

// Config is the complete urclgw configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Engine  EngineConfig  `yaml:"engine"`
	Jobs    JobsConfig    `yaml:"jobs"`
	State   StateConfig   `yaml:"state"`
	API     APIConfig     `yaml:"api"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// EngineConfig describes the external engine executable.
type EngineConfig struct {
	Path string `yaml:"path"`
	// Port is the loopback port the engine listens on.
	Port int `yaml:"port"`
	// Flags are sent in every handshake.
	Flags          []string      `yaml:"flags"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

// JobsConfig holds submission limits and defaults.
type JobsConfig struct {
	MaxSourceBytes    int64         `yaml:"max_source_bytes"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	DefaultLanguage   string        `yaml:"default_language"`
	DefaultOutputType string        `yaml:"default_output_type"`
	DefaultTier       string        `yaml:"default_tier"`
}

// StateConfig defines where job history is stored.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// SyncTimeout bounds how long POST /jobs?wait=true blocks.
	SyncTimeout time.Duration `yaml:"sync_timeout"`
}

// ChecksumManifest is the .checksums file written by config lock.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a Config with every optional field set.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "urclgw",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Engine: EngineConfig{
			Port:           4242,
			Flags:          []string{},
			StartupTimeout: 5 * time.Second,
			ShutdownGrace:  5 * time.Second,
		},
		Jobs: JobsConfig{
			MaxSourceBytes:    65535,
			FetchTimeout:      30 * time.Second,
			DefaultLanguage:   "urcl",
			DefaultOutputType: "emulate",
			DefaultTier:       "any",
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		API: APIConfig{
			Enabled:     true,
			Listen:      "127.0.0.1:8080",
			SyncTimeout: 2 * time.Minute,
		},
	}
}
