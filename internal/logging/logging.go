// Package logging builds the slog logger used by cg: text on stderr for
// interactive commands, JSON into a rotated file for long-running ones.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options select the log destination and verbosity.
type Options struct {
	Level      string // debug, info, warn or error
	File       string // rotated log file; empty logs to the fallback writer
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a logger and a closer for its output. Without a file the
// logger writes text to fallback.
func New(opts Options, fallback io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	if opts.File == "" {
		return slog.New(slog.NewTextHandler(fallback, handlerOpts)), nopCloser{}, nil
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	return slog.New(slog.NewJSONHandler(rotator, handlerOpts)), rotator, nil
}
