// Package logger configures the process-wide zerolog output: console plus
// an optional size-rotated file sink.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration
type Config struct {
	Level    string // trace, debug, info, warn, error
	File     string // log file path, empty disables the file sink
	Console  bool   // enable console output
	Pretty   bool   // human-readable console format
	MaxSize  int    // max file size in MB before rotation
	MaxAge   int    // max rotated-file age in days
	Compress bool   // gzip rotated files
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Console:  true,
		Pretty:   true,
		MaxSize:  100,
		MaxAge:   30,
		Compress: true,
	}
}

// New builds the logger and installs it as the zerolog global. The returned
// closer flushes and closes the file sink, nil-safe to call.
func New(cfg Config) (zerolog.Logger, func() error, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	if cfg.Console {
		var console io.Writer = os.Stdout
		if cfg.Pretty {
			console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		}
		writers = append(writers, console)
	}

	closer := func() error { return nil }
	if cfg.File != "" {
		rw, err := NewRotatingWriter(cfg.File, cfg.MaxSize, cfg.MaxAge, cfg.Compress)
		if err != nil {
			return zerolog.Logger{}, nil, err
		}
		writers = append(writers, rw)
		closer = rw.Close
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	return logger, closer, nil
}
