package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal config gets defaults",
			yaml: `
engine:
  path: /opt/urcl/engine
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Engine.Path != "/opt/urcl/engine" {
					t.Errorf("engine.path = %q", cfg.Engine.Path)
				}
				if cfg.Engine.Port != 4242 {
					t.Errorf("engine.port default = %d, want 4242", cfg.Engine.Port)
				}
				if cfg.Engine.StartupTimeout != 5*time.Second {
					t.Errorf("startup_timeout default = %v", cfg.Engine.StartupTimeout)
				}
				if cfg.Jobs.MaxSourceBytes != 65535 {
					t.Errorf("max_source_bytes default = %d", cfg.Jobs.MaxSourceBytes)
				}
				if cfg.Jobs.DefaultLanguage != "urcl" || cfg.Jobs.DefaultOutputType != "emulate" || cfg.Jobs.DefaultTier != "any" {
					t.Errorf("job defaults not applied: %+v", cfg.Jobs)
				}
				if cfg.Service.LogLevel != "info" || cfg.Service.LogFormat != "json" {
					t.Errorf("service defaults not applied: %+v", cfg.Service)
				}
				if !cfg.API.Enabled || cfg.API.Listen != "127.0.0.1:8080" {
					t.Errorf("api defaults not applied: %+v", cfg.API)
				}
				if cfg.Engine.Flags == nil {
					t.Error("engine.flags should default to empty, not nil")
				}
			},
		},
		{
			name: "full config",
			yaml: `
service:
  name: bench
  log_level: debug
  log_format: text
engine:
  path: ./engine
  port: 9000
  flags: ["--max-cycles", "1000"]
  startup_timeout: 2s
  shutdown_grace: 500ms
jobs:
  max_source_bytes: 1024
  fetch_timeout: 3s
  default_tier: tiny
state:
  path: /var/lib/urclgw/state.db
api:
  enabled: false
  listen: 0.0.0.0:9999
  sync_timeout: 10s
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Name != "bench" || cfg.Service.LogFormat != "text" {
					t.Errorf("service not parsed: %+v", cfg.Service)
				}
				if cfg.Engine.Port != 9000 {
					t.Errorf("port = %d", cfg.Engine.Port)
				}
				if strings.Join(cfg.Engine.Flags, " ") != "--max-cycles 1000" {
					t.Errorf("flags = %v", cfg.Engine.Flags)
				}
				if cfg.Engine.ShutdownGrace != 500*time.Millisecond {
					t.Errorf("shutdown_grace = %v", cfg.Engine.ShutdownGrace)
				}
				if cfg.Jobs.MaxSourceBytes != 1024 || cfg.Jobs.DefaultTier != "tiny" {
					t.Errorf("jobs = %+v", cfg.Jobs)
				}
				if cfg.API.Enabled {
					t.Error("api.enabled should be false")
				}
				if cfg.API.SyncTimeout != 10*time.Second {
					t.Errorf("sync_timeout = %v", cfg.API.SyncTimeout)
				}
			},
		},
		{
			name: "env interpolation",
			yaml: `
engine:
  path: ${URCLGW_TEST_ENGINE}
  flags: ["${URCLGW_TEST_FLAG}"]
`,
			env: map[string]string{
				"URCLGW_TEST_ENGINE": "/usr/bin/urcl-engine",
				"URCLGW_TEST_FLAG":   "--fast",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Engine.Path != "/usr/bin/urcl-engine" {
					t.Errorf("engine.path = %q", cfg.Engine.Path)
				}
				if len(cfg.Engine.Flags) != 1 || cfg.Engine.Flags[0] != "--fast" {
					t.Errorf("flags = %v", cfg.Engine.Flags)
				}
			},
		},
		{
			name: "unset env var in flags",
			yaml: `
engine:
  path: ./engine
  flags: ["${URCLGW_TEST_UNSET_FLAG}"]
`,
			wantErr: "${URCLGW_TEST_UNSET_FLAG} is not set",
		},
		{
			name:    "missing engine path",
			yaml:    "service:\n  name: x\n",
			wantErr: "engine.path is required",
		},
		{
			name:    "port out of range",
			yaml:    "engine:\n  path: ./e\n  port: 70000\n",
			wantErr: "engine.port",
		},
		{
			name:    "empty flag",
			yaml:    "engine:\n  path: ./e\n  flags: [\"\"]\n",
			wantErr: "engine.flags[0] is empty",
		},
		{
			name:    "negative source limit",
			yaml:    "engine:\n  path: ./e\njobs:\n  max_source_bytes: -1\n",
			wantErr: "max_source_bytes",
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: loud\nengine:\n  path: ./e\n",
			wantErr: "service.log_level",
		},
		{
			name:    "unknown field",
			yaml:    "engine:\n  path: ./e\n  colour: blue\n",
			wantErr: "colour",
		},
		{
			name:    "bad yaml",
			yaml:    "engine: [",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, t.TempDir(), tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() succeeded, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %q, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if cfg.SourcePath != path {
				t.Errorf("SourcePath = %q, want %q", cfg.SourcePath, path)
			}
			tt.checkFn(t, cfg)
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "engine:\n  path: ./e\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) failed: %v", err)
	}
	if filepath.Base(cfg.SourcePath) != "config.yaml" {
		t.Errorf("SourcePath = %q", cfg.SourcePath)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestConfigYAMLRoundTrip(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "engine:\n  path: ./e\n  flags: [-v]\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	out, err := cfg.YAML()
	if err != nil {
		t.Fatal(err)
	}
	reparsed, err := parse(out)
	if err != nil {
		t.Fatalf("parse(YAML()) failed: %v\n%s", err, out)
	}
	if reparsed.Engine.Path != "./e" || reparsed.Engine.StartupTimeout != cfg.Engine.StartupTimeout {
		t.Errorf("round trip mismatch: %+v", reparsed.Engine)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.yaml")
	second := writeConfig(t, dir, "engine:\n  path: ./e\n")

	got, err := discover([]string{first, second})
	if err != nil {
		t.Fatal(err)
	}
	if got != second {
		t.Errorf("discover() = %q, want %q", got, second)
	}

	if _, err := discover([]string{first}); err == nil {
		t.Error("expected error when nothing exists")
	}
}

func TestCandidatesHonourEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "/tmp/custom.yaml")
	got := candidates()
	if got[0] != "/tmp/custom.yaml" {
		t.Errorf("first candidate = %q", got[0])
	}
	if got[len(got)-1] != "./config.yaml" {
		t.Errorf("last candidate = %q", got[len(got)-1])
	}
}
