package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	version   = "0.1.0"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		return 1
	}

	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "job":
		return runJobNoun(args)

	case "start":
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is fine.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: urclgw version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("urclgw %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		info.Commit = commit[:min(len(commit), 12)]
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`urclgw - job gateway for a URCL compute engine

Usage:
  urclgw <noun> <action> [flags]

Resources:
  system    Gateway lifecycle and monitoring
  config    Configuration and integrity
  job       Submit programs to a running gateway

System Commands:
  system start      Start the gateway in the foreground
  system watch      Live TUI of worker, engine and jobs

Config Commands:
  config check      Validate configuration and integrity
  config lock       Record the config hash in .checksums
  config show       Print the effective configuration

Job Commands:
  job submit FILE   Run a program and print its output

General:
  version           Show version information
  help              Show this help message

Use 'urclgw <noun> help' for resource-specific flags.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemHelp(os.Stdout)
		return 0
	}

	switch action, rest := args[0], args[1:]; action {
	case "start":
		if hasHelpFlag(rest) {
			fmt.Println("Usage: urclgw system start [--config PATH]")
			fmt.Println("Run the dispatcher and HTTP API until SIGINT/SIGTERM. A second signal abandons queued jobs.")
			return 0
		}
		return runStart(rest)
	case "watch":
		if hasHelpFlag(rest) {
			printWatchHelp()
			return 0
		}
		return runWatch(rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func printSystemHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: urclgw system <action>")
	fmt.Fprintln(w, "Actions: start, watch")
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigHelp(os.Stdout)
		return 0
	}

	switch action, rest := args[0], args[1:]; action {
	case "check":
		return runConfigCheck(rest)
	case "lock":
		return runConfigLock(rest)
	case "show":
		return runConfigShow(rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func printConfigHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: urclgw config <action> [--config PATH]")
	fmt.Fprintln(w, "Actions: check, lock, show")
}

func runJobNoun(args []string) int {
	if len(args) < 1 {
		printJobHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printJobHelp(os.Stdout)
		return 0
	}

	switch action, rest := args[0], args[1:]; action {
	case "submit":
		return runJobSubmit(rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown job action: %s\n", action)
		return 1
	}
}

func printJobHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: urclgw job submit [flags] FILE|-")
	fmt.Fprintln(w, "Flags: --api-url URL --name NAME --origin ID --language L --output-type T --tier T --wait=true")
}
