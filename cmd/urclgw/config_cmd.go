package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/exec"

	"github.com/mattjoyce/urclgw/internal/config"
)

// checkResult is the machine-readable output of config check.
type checkResult struct {
	Valid    bool     `json:"valid"`
	Config   string   `json:"config,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// resolveConfigPath returns explicit, or the discovered config when empty.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	return config.Discover()
}

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	result := checkResult{Valid: true}
	cfg, err := config.Load(path)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
	} else {
		result.Config = cfg.SourcePath
		result.Warnings = configWarnings(cfg)
	}

	if jsonOut {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		printCheckResult(result)
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

// configWarnings reports problems that only show up once the engine is
// first spawned.
func configWarnings(cfg *config.Config) []string {
	var warnings []string
	if _, err := exec.LookPath(cfg.Engine.Path); err != nil {
		warnings = append(warnings, fmt.Sprintf("engine.path %q is not an executable: %v", cfg.Engine.Path, err))
	}
	if !cfg.API.Enabled {
		warnings = append(warnings, "api.enabled is false; jobs can not be submitted")
	}
	return warnings
}

func printCheckResult(r checkResult) {
	if r.Valid {
		fmt.Printf("Config OK: %s\n", r.Config)
	} else {
		fmt.Println("Config INVALID")
	}
	for _, e := range r.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	for _, w := range r.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&verbose, "v", false, "Verbose output")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	report, err := config.Lock(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	fmt.Printf("Locked %s\n", report.ConfigPath)
	if verbose {
		fmt.Printf("  manifest: %s\n", report.ChecksumPath)
		fmt.Printf("  blake3:   %s\n", report.Hash)
	}
	return 0
}

func runConfigShow(args []string) int {
	var configPath string

	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	data, err := cfg.YAML()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}
