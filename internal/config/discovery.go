package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfigPath overrides config discovery.
const EnvConfigPath = "URCLGW_CONFIG"

// Discover finds the config file. Priority: $URCLGW_CONFIG,
// ~/.config/urclgw/config.yaml, /etc/urclgw/config.yaml, ./config.yaml.
func Discover() (string, error) {
	return discover(candidates())
}

func candidates() []string {
	var paths []string
	if p := os.Getenv(EnvConfigPath); p != "" {
		paths = append(paths, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "urclgw", "config.yaml"))
	}
	return append(paths, "/etc/urclgw/config.yaml", "./config.yaml")
}

func discover(paths []string) (string, error) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/urclgw/config.yaml, /etc/urclgw/config.yaml, ./config.yaml)", EnvConfigPath)
}
