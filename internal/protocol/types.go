package protocol

import (
	"strconv"
	"strings"
)

// Request is one job as the engine sees it.
type Request struct {
	Language   string
	OutputType string
	Tier       string
	Source     string
}

// Frames returns the request frames in wire order: language, output type,
// tier, the decimal source line count, then each source line.
func (r Request) Frames() []string {
	lines := SourceLines(r.Source)
	frames := make([]string, 0, 4+len(lines))
	frames = append(frames, r.Language, r.OutputType, r.Tier, strconv.Itoa(len(lines)))
	return append(frames, lines...)
}

// HandshakeFrames returns the configuration handshake: the decimal flag
// count followed by each flag verbatim.
func HandshakeFrames(flags []string) []string {
	frames := make([]string, 0, 1+len(flags))
	frames = append(frames, strconv.Itoa(len(flags)))
	return append(frames, flags...)
}

// SourceLines splits source text on line breaks, trims each line and drops
// the ones left empty.
func SourceLines(source string) []string {
	var lines []string
	for _, line := range strings.Split(source, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
