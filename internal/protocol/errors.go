package protocol

import (
	"errors"
	"strings"
)

var (
	// ErrConnection means the engine endpoint could not be reached.
	ErrConnection = errors.New("engine connection failed")

	// ErrUnexpectedDisconnect means the exchange broke off before the
	// engine sent its end-of-response sentinel.
	ErrUnexpectedDisconnect = errors.New("engine disconnected unexpectedly")
)

// ConfigurationError is returned when the engine answers the handshake with
// a non-empty response. Lines holds every string it sent up to the sentinel.
type ConfigurationError struct {
	Lines []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Lines) == 0 {
		return "engine rejected configuration"
	}
	return "engine rejected configuration: " + strings.Join(e.Lines, "; ")
}
