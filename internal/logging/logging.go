// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Options selects level, format and an optional log file.
type Options struct {
	Level  string // zerolog level name; unparsable values mean info
	Format string // "json" (default) or "console"
	File   string // also append JSON lines here when set
	// Output replaces stderr, mainly in tests.
	Output io.Writer
}

// New returns a logger and a close function releasing the log file. The
// close function is never nil.
func New(opts Options) (zerolog.Logger, func() error, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	switch strings.ToLower(opts.Format) {
	case "", "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05", NoColor: opts.Output != nil}
	default:
		return zerolog.Nop(), noop, fmt.Errorf("logging: unknown format %q (available: json, console)", opts.Format)
	}

	closeFn := noop
	writers := []io.Writer{out}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return zerolog.Nop(), noop, fmt.Errorf("logging: create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), noop, fmt.Errorf("logging: open %s: %w", opts.File, err)
		}
		writers = append(writers, f)
		closeFn = f.Close
	}

	log := zerolog.New(io.MultiWriter(writers...)).Level(level).With().Timestamp().Logger()
	return log, closeFn, nil
}

func noop() error { return nil }
