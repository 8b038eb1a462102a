// Package observability adapts zap, Prometheus and OpenTelemetry to the
// service's Logger, MetricsRecorder and Tracer ports.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"collabdir/internal/core"
)

var _ core.Logger = (*ZapLogger)(nil)

// ZapLogger implements core.Logger over a sugared zap logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a logger writing to stderr. Format is "json" or
// "console"; level is one of debug, info, warn or error.
func NewZapLogger(level, format string) (*ZapLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	var cfg zap.Config
	switch format {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: logger.Sugar()}, nil
}

// NewZapLoggerFromCore wraps an existing zap core.
func NewZapLoggerFromCore(c zapcore.Core) *ZapLogger {
	return &ZapLogger{sugar: zap.New(c).Sugar()}
}

// With returns a logger that adds the key/value pairs to every entry.
func (l *ZapLogger) With(args ...any) *ZapLogger {
	return &ZapLogger{sugar: l.sugar.With(args...)}
}

func (l *ZapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *ZapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *ZapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *ZapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error { return l.sugar.Sync() }
