// Package logging builds the process slog.Logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/conorfennell/decklog/internal/config"
)

// FileName is the log file written under the configured directory.
const FileName = "decklog.log"

// ParseLevel maps a config level name to a slog.Level. Unknown names map to
// info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a tint logger writing to stderr, and also to a rotated file
// when cfg.Dir is set. The returned closer releases the file.
func New(cfg config.LogConfig) (*slog.Logger, io.Closer, error) {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg config.LogConfig, console io.Writer) (*slog.Logger, io.Closer, error) {
	opts := &tint.Options{
		Level:      ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
	}

	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return slog.New(tint.NewHandler(console, opts)), nopCloser{}, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log dir %s: %w", dir, err)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(dir, FileName),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}

	opts.NoColor = true
	logger := slog.New(tint.NewHandler(io.MultiWriter(console, file), opts))
	logger.Info("file logging enabled", "path", file.Filename)
	return logger, file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
