package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Configure installs a process-wide slog default logger.
//
// Supported levels: debug, info, warn, error.
func Configure(level string) error {
	parsed, err := parseLevel(level)
	if err != nil {
		return err
	}

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parsed})
	slog.SetDefault(slog.New(h))
	return nil
}

// Options controls where glassd sends its log stream, matching the
// "<bin> <config.json> [noconsole]" / GLASS_LOG env var CLI surface.
type Options struct {
	Level   string
	Dir     string // GLASS_LOG; empty means current directory
	Console bool   // false when invoked with the literal "noconsole" argument
}

// ConfigureProcess installs a slog logger that always writes to a log file
// under Dir and also to the console (stderr) when Options.Console is set.
func ConfigureProcess(opts Options) (io.Closer, error) {
	parsed, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var writers []io.Writer
	var closer io.Closer = noopCloser{}

	if opts.Console {
		writers = append(writers, os.Stderr)
	}

	dir := opts.Dir
	if dir == "" {
		dir = "./"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("glassd_%s.log", time.Now().UTC().Format("20060102"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	writers = append(writers, f)
	closer = f

	h := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: parsed})
	slog.SetDefault(slog.New(h))
	return closer, nil
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", LevelInfo:
		return slog.LevelInfo, nil
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelWarn:
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", level)
	}
}
