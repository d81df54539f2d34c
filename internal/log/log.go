package log

import (
	"fmt"
	"os"
	"strings"
	"sync"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
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
	mu       sync.RWMutex
	logger   *zap.Logger
	sugar    *zap.SugaredLogger
	minLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// initLogger installs a console logger on stderr if Configure has not run yet,
// so early startup errors are still visible.
func initLogger() *zap.SugaredLogger {
	mu.RLock()
	s := sugar
	mu.RUnlock()
	if s != nil {
		return s
	}

	mu.Lock()
	defer mu.Unlock()
	if sugar == nil {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), minLevel)
		logger = zap.New(core)
		sugar = logger.Sugar()
	}
	return sugar
}

// Configure rebuilds the global logger.
//
// format is one of "console", "json" or "logfmt"; level is one of
// "debug", "info", "warn", "error".
func Configure(format, level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(format) {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "logfmt":
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		encCfg.EncodeDuration = zapcore.StringDurationEncoder
		enc = zaplogfmt.NewEncoder(encCfg)
	case "console", "":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return fmt.Errorf("log format must be 'console', 'json' or 'logfmt', got %q", format)
	}

	SetLevel(lvl)
	l := zap.New(zapcore.NewCore(enc, zapcore.Lock(os.Stdout), minLevel))

	mu.Lock()
	logger = l
	sugar = l.Sugar()
	mu.Unlock()
	return nil
}

// ParseLevel maps a config level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return "", fmt.Errorf("log level must be one of: debug, info, warn, error, got %q", s)
}

func SetLevel(l Level) {
	switch l {
	case LevelDebug:
		minLevel.SetLevel(zapcore.DebugLevel)
	case LevelWarn:
		minLevel.SetLevel(zapcore.WarnLevel)
	case LevelError:
		minLevel.SetLevel(zapcore.ErrorLevel)
	default:
		minLevel.SetLevel(zapcore.InfoLevel)
	}
}

// Logger returns the underlying zap logger for code that needs one directly.
func Logger() *zap.Logger {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(msg string, kv ...any) {
	initLogger().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	initLogger().Infow(msg, kv...)
}

func Warn(msg string, kv ...any) {
	initLogger().Warnw(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	initLogger().Errorw(msg, extended...)
}

// Sync flushes buffered log entries.
func Sync() {
	_ = initLogger().Sync()
}
