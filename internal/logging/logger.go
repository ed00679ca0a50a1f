// Package logging adapts zap to the core.ILogger contract used across the
// trader. Logs go to stderr as console lines at debug level and as JSON
// otherwise; an OTel log bridge can be attached for export.
package logging

import (
	"fmt"
	"strings"

	"perp_trader/internal/core"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	otellog "go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a sugared zap logger behind core.ILogger
type Logger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a logger at the given level ("debug", "info", "warn",
// "error", "fatal"). Debug level gets human-readable console output, the
// rest structured JSON.
func NewZapLogger(level string) (*Logger, error) {
	zapLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if zapLevel == zapcore.DebugLevel {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return &Logger{sugar: base.Sugar()}, nil
}

// NewZapLoggerWithBridge tees log records into an OpenTelemetry log
// provider in addition to stderr.
func NewZapLoggerWithBridge(level string, provider otellog.LoggerProvider) (*Logger, error) {
	zapLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	stderrSink, _, err := zap.Open("stderr")
	if err != nil {
		return nil, err
	}
	consoleCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), stderrSink, zapLevel)
	bridgeCore := otelzap.NewCore("perp_trader", otelzap.WithLoggerProvider(provider))

	base := zap.New(zapcore.NewTee(consoleCore, bridgeCore), zap.AddCallerSkip(1))
	return &Logger{sugar: base.Sugar()}, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.sugar.Debugw(msg, fields...) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.sugar.Infow(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.sugar.Warnw(msg, fields...) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.sugar.Errorw(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...interface{}) { l.sugar.Fatalw(msg, fields...) }

// WithField returns a child logger carrying one extra key/value pair
func (l *Logger) WithField(key string, value interface{}) core.ILogger {
	return &Logger{sugar: l.sugar.With(key, value)}
}

// WithFields returns a child logger carrying the given pairs
func (l *Logger) WithFields(fields map[string]interface{}) core.ILogger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{sugar: l.sugar.With(args...)}
}

// Sync flushes buffered records; call before process exit
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

var _ core.ILogger = (*Logger)(nil)
