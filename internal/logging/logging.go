// Package logging builds the daemon's slog logger on top of charmbracelet/log.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// New returns a logger writing to w at the given level ("debug", "info",
// "warn", "error") in the given format ("text", "logfmt", "json").
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}

	var formatter log.Formatter
	switch strings.ToLower(format) {
	case "", "text":
		formatter = log.TextFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	case "json":
		formatter = log.JSONFormatter
	default:
		return nil, errors.Errorf("unsupported log format %q", format)
	}

	handler := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "oscipc",
	})
	return slog.New(handler), nil
}

// Open is New writing to the file at path, appending, or to stderr when path
// is blank. Close the returned io.Closer once logging is done.
func Open(path, level, format string) (*slog.Logger, io.Closer, error) {
	if path == "" {
		logger, err := New(os.Stderr, level, format)
		return logger, nopCloser{}, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open log file")
	}

	logger, err := New(file, level, format)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return logger, file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
