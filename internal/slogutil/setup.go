// Package slogutil sets up the process logger: level parsing, optional
// rotation through lumberjack and context-carried attributes.
package slogutil

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/javi11/mediajanitor/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options tweaks where log output goes.
type Options struct {
	// Console receives log lines in addition to the rotated file. Nil means stderr.
	Console io.Writer
	// FileOnly suppresses console output when a log file is configured.
	// Used by the TUI, where console lines would corrupt the screen.
	FileOnly bool
	// Leveler overrides the static level from the config.
	Leveler slog.Leveler
}

// ParseLevel maps a config level string to a slog.Level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromConfig resolves the effective level; LOG_LEVEL wins over the file.
func LevelFromConfig(logConfig config.LogConfig) slog.Level {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		return ParseLevel(v)
	}
	if logConfig.Level == "" {
		return slog.LevelInfo
	}
	return ParseLevel(logConfig.Level)
}

// SetupLogRotation configures slog with log rotation using lumberjack.
// If logConfig.File is empty, it logs to the console only.
// If logConfig.File is configured, it logs to both console and file unless
// opts.FileOnly is set.
func SetupLogRotation(logConfig config.LogConfig, opts Options) *slog.Logger {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	writer := console
	if logConfig.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   logConfig.File,
			MaxSize:    logConfig.MaxSize,    // MB
			MaxBackups: logConfig.MaxBackups, // number of old files
			MaxAge:     logConfig.MaxAge,     // days
			Compress:   logConfig.Compress,   // compress old files
		}
		if opts.FileOnly {
			writer = fileWriter
		} else {
			writer = io.MultiWriter(console, fileWriter)
		}
	} else if opts.FileOnly {
		writer = io.Discard
	}

	var leveler slog.Leveler = LevelFromConfig(logConfig)
	if opts.Leveler != nil {
		leveler = opts.Leveler
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: leveler,
	})

	return slog.New(WrapHandler(handler))
}
