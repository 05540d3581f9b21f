// Package logging provides category-tagged logging backed by zap.
// All logging goes through this package so every message carries a
// component category.
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Category constants for consistent logging categories.
const (
	CategoryApp        = "App"
	CategorySession    = "Session"
	CategoryCapture    = "Capture"
	CategoryPlatform   = "Platform"
	CategoryExport     = "Export"
	CategoryTranscribe = "Transcribe"
	CategoryOutput     = "Output"
)

var (
	sugar *zap.SugaredLogger
	once  sync.Once
)

// Init initializes the global logger. Debug mode (or LOG_LEVEL=debug) selects
// the development config. Safe to call multiple times; only the first call
// takes effect.
func Init(debug bool) *zap.SugaredLogger {
	once.Do(func() {
		if strings.ToLower(os.Getenv("LOG_LEVEL")) == "debug" {
			debug = true
		}
		var logger *zap.Logger
		if debug {
			l, _ := zap.NewDevelopment()
			logger = l
		} else {
			l, _ := zap.NewProduction()
			logger = l
		}
		// Redirect standard library logs into zap so all logs are unified.
		_ = zap.RedirectStdLog(logger)
		sugar = logger.Sugar()
	})
	return sugar
}

// Shutdown flushes buffered log entries.
func Shutdown() {
	if sugar != nil {
		_ = sugar.Sync()
	}
}

func logger() *zap.SugaredLogger {
	if sugar == nil {
		Init(false)
	}
	return sugar
}

// Debug logs a debug message.
func Debug(category, msg string, params ...interface{}) {
	logger().With("category", category).Debugf(msg, params...)
}

// Info logs an info message.
func Info(category, msg string, params ...interface{}) {
	logger().With("category", category).Infof(msg, params...)
}

// Warning logs a warning message.
func Warning(category, msg string, params ...interface{}) {
	logger().With("category", category).Warnf(msg, params...)
}

// Error logs an error message.
func Error(category, msg string, params ...interface{}) {
	logger().With("category", category).Errorf(msg, params...)
}
