// Package logging wraps charmbracelet/log so every package logs with the same
// structured key/value style and level configuration.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Logger is a thin wrapper around *log.Logger from charmbracelet/log.
type Logger struct {
	*log.Logger
}

// New builds a Logger writing to stderr. level is one of debug, info, warn,
// error; format is one of text, json, logfmt. Unknown values fall back to
// info/text.
func New(level, format string) *Logger {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, format string) *Logger {
	opts := log.Options{
		ReportTimestamp: true,
		Prefix:          "unpacker",
		Formatter:       parseFormat(format),
	}
	base := log.NewWithOptions(w, opts)
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = log.InfoLevel
	}
	base.SetLevel(lvl)
	if lvl == log.DebugLevel {
		base.SetReportCaller(true)
	}
	return &Logger{Logger: base}
}

// NewTestLogger returns a logger that discards everything below error level.
func NewTestLogger() *Logger {
	base := log.NewWithOptions(io.Discard, log.Options{})
	base.SetLevel(log.ErrorLevel)
	return &Logger{Logger: base}
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(keyvals...)}
}

// BaseLogger returns the underlying *log.Logger.
func (l *Logger) BaseLogger() *log.Logger {
	return l.Logger
}

func parseFormat(format string) log.Formatter {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}
