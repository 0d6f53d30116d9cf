package log

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu     sync.RWMutex
	base   *zap.Logger
	sugar  *zap.SugaredLogger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	inited sync.Once
)

// initLogger installs the default JSON logger on first use.
func initLogger() {
	inited.Do(func() {
		if base != nil {
			return
		}
		l, err := build("json")
		if err != nil {
			l = zap.NewNop()
		}
		setLogger(l)
	})
}

// Configure rebuilds the global logger with the given level and encoding.
// Format is "json" (default) or "console". Unknown levels fall back to INFO.
func Configure(lvl, format string) error {
	inited.Do(func() {})
	SetLevel(Level(strings.ToUpper(lvl)))

	l, err := build(format)
	if err != nil {
		return err
	}
	setLogger(l)
	return nil
}

// Use replaces the global logger, mostly for tests (zaptest/observer).
func Use(l *zap.Logger) {
	inited.Do(func() {})
	setLogger(l)
}

// L returns the underlying zap logger for components that take one injected.
func L() *zap.Logger {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func SetLevel(l Level) {
	switch l {
	case LevelDebug:
		level.SetLevel(zapcore.DebugLevel)
	case LevelWarn:
		level.SetLevel(zapcore.WarnLevel)
	case LevelError:
		level.SetLevel(zapcore.ErrorLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}
}

func Debug(msg string, kv ...any) {
	logger().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	logger().Infow(msg, kv...)
}

func Warn(msg string, kv ...any) {
	logger().Warnw(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logger().Errorw(msg, extended...)
}

// Sync flushes buffered entries; call before exit.
func Sync() {
	_ = logger().Sync()
}

func build(format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Encoding = "json"
	if format == "console" {
		cfg.Encoding = "console"
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func setLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	sugar = l.Sugar()
}

func logger() *zap.SugaredLogger {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}
