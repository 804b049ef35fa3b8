// Package logger wraps zap for use across the proxy binaries.
package logger

import (
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a sugared zap logger.
type Logger struct {
	*zap.SugaredLogger
}

// New creates a new logger with the given level.
func New(level zapcore.Level) *Logger {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.DisableStacktrace = true

	logger, _ := config.Build()

	return &Logger{
		logger.Sugar(),
	}
}

// NewHTTPErrorLog returns a stdlib logger for http.Server error
// logging.
func NewHTTPErrorLog(logger *Logger) *log.Logger {
	return zap.NewStdLog(logger.Desugar())
}
