package log

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	mu     sync.RWMutex
)

// InitLogger initializes the process logger with a plain text format at the given level.
func InitLogger(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(zapcore.Lock(os.Stdout)),
		lvl,
	)

	mu.Lock()
	logger = zap.New(core, zap.AddCaller())
	mu.Unlock()
	return nil
}

// GetLogger returns the initialized logger, or a no-op logger when InitLogger has not run.
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()

	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// Component returns a logger scoped to a named component.
func Component(name string) *zap.Logger {
	return GetLogger().With(zap.String("component", name))
}

// Sync flushes any buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()

	if logger != nil {
		_ = logger.Sync()
	}
}
