// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides structured, component-scoped logging for campusgate.
// All log lines are key-value structured so they can be shipped to syslog or
// scraped without a parsing step.
package logging

import (
	"os"
	"strings"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

// Config controls the process-wide logging behaviour.
type Config struct {
	Level      string // "debug", "info", "warn", "error"
	JSONOutput bool   // Emit JSON instead of logfmt
	Timestamps bool
}

// DefaultConfig returns the standard logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		JSONOutput: false,
		Timestamps: true,
	}
}

// Logger wraps the underlying structured logger. Components obtain scoped
// loggers via WithComponent and log with alternating key-value pairs:
//
//	logger.Info("client allowed", "ip", ip)
type Logger struct {
	l *charmlog.Logger
}

var (
	rootMu sync.RWMutex
	root   = newLogger(DefaultConfig())
)

// Init replaces the process root logger. Call once at startup, before
// components grab scoped loggers for long-lived goroutines.
func Init(cfg Config) {
	rootMu.Lock()
	defer rootMu.Unlock()
	root = newLogger(cfg)
}

// New creates a standalone logger, independent of the process root.
func New(cfg Config) *Logger {
	return newLogger(cfg)
}

// WithComponent returns a logger scoped to the named component.
func WithComponent(name string) *Logger {
	rootMu.RLock()
	defer rootMu.RUnlock()
	return &Logger{l: root.l.With("component", name)}
}

func newLogger(cfg Config) *Logger {
	opts := charmlog.Options{
		ReportTimestamp: cfg.Timestamps,
		Level:           parseLevel(cfg.Level),
	}
	if cfg.JSONOutput {
		opts.Formatter = charmlog.JSONFormatter
	}
	return &Logger{l: charmlog.NewWithOptions(os.Stderr, opts)}
}

func parseLevel(s string) charmlog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return charmlog.DebugLevel
	case "warn":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// With returns a logger with additional fixed key-value context.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{l: l.l.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.l.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.l.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.l.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.l.Error(msg, kv...) }
