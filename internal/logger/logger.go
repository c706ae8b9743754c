// Package logger builds the process-wide zap logger.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a sugared zap logger whose level can change at runtime.
type Logger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
}

// New builds a logger. format is "json" or "console"; an unknown level falls
// back to info.
func New(level, format string) (*Logger, error) {
	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))

	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: z.Sugar(), level: cfg.Level}, nil
}

// SetLevel changes the minimum level. Unknown names are ignored.
func (l *Logger) SetLevel(level string) bool {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return false
	}
	l.level.SetLevel(lvl)
	return true
}

// Level returns the current minimum level.
func (l *Logger) Level() string { return l.level.Level().String() }

func (l *Logger) Sync() error {
	return l.SugaredLogger.Sync()
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
