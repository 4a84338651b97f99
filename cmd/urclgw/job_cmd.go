package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/urclgw/internal/api"
	"github.com/mattjoyce/urclgw/internal/history"
	"github.com/mattjoyce/urclgw/internal/tui/watch"
)

const defaultAPIURL = "http://localhost:8080"

func runJobSubmit(args []string) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	apiURL := fs.String("api-url", defaultAPIURL, "Gateway API URL")
	name := fs.String("name", "", "Job name (default: file name)")
	origin := fs.String("origin", "cli", "Origin recorded with the job")
	language := fs.String("language", "", "Source language")
	outputType := fs.String("output-type", "", "Requested output type")
	tier := fs.String("tier", "", "Engine tier")
	wait := fs.Bool("wait", true, "Wait for the result")
	timeout := fs.Duration("timeout", 3*time.Minute, "HTTP client timeout")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		printJobHelp(os.Stderr)
		return 1
	}

	source, jobName, err := readSource(fs.Arg(0), os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read source: %v\n", err)
		return 1
	}
	if *name != "" {
		jobName = *name
	}

	body, err := json.Marshal(api.SubmitRequest{
		Name:       jobName,
		Language:   *language,
		OutputType: *outputType,
		Tier:       *tier,
		Origin:     *origin,
		Source:     source,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode request: %v\n", err)
		return 1
	}

	endpoint := strings.TrimRight(*apiURL, "/") + "/jobs"
	if *wait {
		endpoint += "?" + url.Values{"wait": {"true"}}.Encode()
	}

	client := &http.Client{Timeout: *timeout}
	resp, err := client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	return printSubmitResponse(resp)
}

// readSource reads arg, or stdin when arg is "-", and derives a job name.
func readSource(arg string, stdin io.Reader) (string, string, error) {
	if arg == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", "", err
		}
		return string(data), "stdin", nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", "", err
	}
	return string(data), filepath.Base(arg), nil
}

func printSubmitResponse(resp *http.Response) int {
	switch resp.StatusCode {
	case http.StatusOK:
		var result api.JobResultResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to decode result: %v\n", err)
			return 1
		}
		for _, line := range result.Lines {
			fmt.Println(line)
		}
		if result.Status != history.StatusSucceeded {
			fmt.Fprintf(os.Stderr, "job %s failed (%s): %s\n", result.JobID, result.ErrorKind, result.ErrorMessage)
			return 1
		}
		return 0

	case http.StatusAccepted:
		var accepted api.SubmitResponse
		if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to decode response: %v\n", err)
			return 1
		}
		fmt.Printf("queued %s (%s)\n", accepted.JobID, accepted.Name)
		return 0

	default:
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		fmt.Fprintf(os.Stderr, "Submit rejected (%d): %s\n", resp.StatusCode, apiErr.Error)
		return 1
	}
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", defaultAPIURL, "Gateway API URL")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func printWatchHelp() {
	fmt.Println("Usage: urclgw system watch [flags]")
	fmt.Println()
	fmt.Println("Live monitor of worker state, engine process and recent jobs.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Gateway API URL (default: http://localhost:8080)")
}
