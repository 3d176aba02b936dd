package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// appLogger is a thin zap wrapper preserving the teacher's gated-by-config helper shape
// (debugLog/logBlock/logOverwrite/errorLog) while giving every message structured fields instead
// of a bare format string.
type appLogger struct {
	base          *zap.Logger
	debug         bool
	logBlocks     bool
	logOverwrites bool
}

// newAppLogger builds a logger configured for dev or prod mode at the given level, grounded on
// haukened-rr-dns's production/development config selection.
func newAppLogger(env, level string, logBlocks, logOverwrites bool) (*appLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	var cfg zap.Config
	if env == "dev" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.LevelKey = "level"

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	debug := lvl.Enabled(zapcore.DebugLevel)
	return &appLogger{base: base, debug: debug, logBlocks: logBlocks, logOverwrites: logOverwrites}, nil
}

// debugLog logs at debug level only when the configured level allows it.
func (l *appLogger) debugLog(msg string, fields ...zap.Field) {
	if l == nil || !l.debug {
		return
	}
	l.base.Debug(msg, fields...)
}

// logBlock logs a blocked request only if log_blocks is enabled.
func (l *appLogger) logBlock(msg string, fields ...zap.Field) {
	if l == nil || !l.logBlocks {
		return
	}
	l.base.Info(msg, fields...)
}

// logOverwrite logs an overridden request only if log_overwrites is enabled.
func (l *appLogger) logOverwrite(msg string, fields ...zap.Field) {
	if l == nil || !l.logOverwrites {
		return
	}
	l.base.Info(msg, fields...)
}

// errorLog always logs errors regardless of level gating.
func (l *appLogger) errorLog(msg string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.base.Error(msg, fields...)
}

// infoLog always logs at info level.
func (l *appLogger) infoLog(msg string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.base.Info(msg, fields...)
}

// warnLog always logs at warn level.
func (l *appLogger) warnLog(msg string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.base.Warn(msg, fields...)
}
