package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
)

// Console output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ParseLevel converts a level name to a pterm log level
func ParseLevel(level string) (pterm.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return pterm.LogLevelTrace, nil
	case "debug":
		return pterm.LogLevelDebug, nil
	case "", "info":
		return pterm.LogLevelInfo, nil
	case "warn", "warning":
		return pterm.LogLevelWarn, nil
	case "error":
		return pterm.LogLevelError, nil
	case "off", "disabled":
		return pterm.LogLevelDisabled, nil
	default:
		return pterm.LogLevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// NewConsole creates the diagnostics logger shared by all services. Output
// goes to stderr so that report output on stdout stays clean.
func NewConsole(level, format string) (*pterm.Logger, error) {
	return newConsole(os.Stderr, level, format)
}

func newConsole(w io.Writer, level, format string) (*pterm.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	l := pterm.DefaultLogger.WithLevel(lvl).WithWriter(w)
	switch strings.ToLower(format) {
	case "", FormatText:
		l = l.WithFormatter(pterm.LogFormatterColorful)
	case FormatJSON:
		l = l.WithFormatter(pterm.LogFormatterJSON)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return l, nil
}
