// Package logger provides a thin zap wrapper with key/value convenience
// methods used across all services.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.SugaredLogger with leveled key/value methods
type Logger struct {
	sugar *zap.SugaredLogger
	zap   *zap.Logger
}

// New creates a logger for the given level and environment.
// Development environments get console encoding, everything else JSON.
func New(level, environment string) *Logger {
	cfg := zap.NewProductionConfig()
	if environment == "development" || environment == "test" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		z = zap.NewNop()
	}

	return &Logger{sugar: z.Sugar(), zap: z}
}

// Zap returns the underlying zap.Logger for components that want it directly
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// With returns a child logger with the given key/value pairs attached
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	s := l.sugar.With(keysAndValues...)
	return &Logger{sugar: s, zap: s.Desugar()}
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.sugar.Fatalw(msg, keysAndValues...)
}

// Sync flushes buffered log entries
func (l *Logger) Sync() error {
	return l.zap.Sync()
}
