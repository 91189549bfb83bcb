// Package logging builds the application loggers.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/itohio/goowbus/pkg/config"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// New creates the application logger described by cfg. The returned closer
// releases the output file, if any.
func New(cfg config.LogConfig) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	w, err := openOutput(cfg.Output)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	var out io.Writer = w
	switch cfg.Format {
	case "json":
	case "text", "":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, NoColor: !isConsole(cfg.Output)}
	default:
		w.Close()
		return zerolog.Nop(), nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	log := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return log, w, nil
}

func isConsole(name string) bool {
	return name == "" || name == "stderr" || name == "stdout"
}

func openOutput(name string) (io.WriteCloser, error) {
	switch name {
	case "", "stderr":
		return nopCloser{os.Stderr}, nil
	case "stdout":
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
