package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

const consoleTimeFormat = "15:04:05.000"

type Options struct {
	// Console receives human readable output. Defaults to os.Stderr.
	Console io.Writer
	// File, when set, receives every record at debug level.
	File    string
	Verbose bool
	// Quiet limits the console to warnings and errors.
	Quiet bool
}

// Logger is a configured slog.Logger plus the resources backing it.
type Logger struct {
	*slog.Logger
	closers []io.Closer
}

func (l *Logger) Close() error {
	var errs []error
	for i := len(l.closers) - 1; i >= 0; i-- {
		errs = append(errs, l.closers[i].Close())
	}
	return errors.Join(errs...)
}

// New builds a logger from opts. The caller owns the returned Logger and
// must Close it to flush the log file.
func New(opts Options) (*Logger, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	level := slog.LevelInfo
	switch {
	case opts.Verbose:
		level = slog.LevelDebug
	case opts.Quiet:
		level = slog.LevelWarn
	}

	handlers := []slog.Handler{
		tint.NewHandler(console, &tint.Options{
			Level:      level,
			TimeFormat: consoleTimeFormat,
			NoColor:    !isTerminal(console),
		}),
	}

	l := &Logger{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		stamped := newStampWriter(f)
		l.closers = append(l.closers, f, stamped)

		handlers = append(handlers, slog.NewTextHandler(stamped, &slog.HandlerOptions{
			Level: slog.LevelDebug,
			// the stamp writer adds the time
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.Attr{}
				}
				return a
			},
		}))
	}

	l.Logger = slog.New(newFanout(handlers...))
	return l, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
