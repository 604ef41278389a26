// Package observability carries the technical logger through options,
// request contexts and HTTP middleware.
package observability

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
)

var noopLogger *slog.Logger

func init() {
	hdlr := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})
	noopLogger = slog.New(hdlr)
}

// NoopLogger returns a disabled Logger.
func NoopLogger() *slog.Logger {
	return noopLogger
}

// OrNoop returns l, or the disabled Logger when l is nil.
func OrNoop(l *slog.Logger) *slog.Logger {
	if l == nil {
		return noopLogger
	}
	return l
}

// NewLogger builds a Logger writing to w. format is "text" or "json";
// level is one of debug, info, warn, error.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
