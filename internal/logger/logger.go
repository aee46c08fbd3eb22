package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level string
	Dev   bool
	// Dir enables daily-rotated log files when non-empty.
	Dir string
}

// ConfigFromEnv reads LOG_LEVEL, LOG_DEV and LOG_DIR.
func ConfigFromEnv() Config {
	dev := os.Getenv("LOG_DEV") == "1"
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		if dev {
			lvl = "debug"
		} else {
			lvl = "info"
		}
	}
	return Config{Level: lvl, Dev: dev, Dir: os.Getenv("LOG_DIR")}
}

var current atomic.Pointer[zap.Logger]

func init() {
	current.Store(zap.NewNop())
}

func levelFromString(l string) zapcore.Level {
	switch strings.ToLower(l) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init builds the process logger. Until it is called every log call is a no-op.
func Init(cfg Config) error {
	lvl := levelFromString(cfg.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var console zapcore.Encoder
	if cfg.Dev {
		devCfg := zap.NewDevelopmentEncoderConfig()
		devCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		console = zapcore.NewConsoleEncoder(devCfg)
	} else {
		console = zapcore.NewJSONEncoder(encoderCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(console, zapcore.AddSync(os.Stdout), lvl),
	}

	if cfg.Dir != "" {
		fileCores, err := rotatingCores(cfg.Dir, encoderCfg, lvl)
		if err != nil {
			return err
		}
		cores = append(cores, fileCores...)
	}

	l := zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	current.Store(l)
	return nil
}

// rotatingCores writes combined and error-only logs, rotated daily.
func rotatingCores(dir string, encCfg zapcore.EncoderConfig, lvl zapcore.Level) ([]zapcore.Core, error) {
	combined, err := rotatelogs.New(
		filepath.Join(dir, "combined-%Y-%m-%d.log"),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(10*24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("logger: combined file: %w", err)
	}

	errorsOnly, err := rotatelogs.New(
		filepath.Join(dir, "error-%Y-%m-%d.log"),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(30*24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("logger: error file: %w", err)
	}

	enc := zapcore.NewJSONEncoder(encCfg)
	return []zapcore.Core{
		zapcore.NewCore(enc, zapcore.AddSync(combined), lvl),
		zapcore.NewCore(enc, zapcore.AddSync(errorsOnly), zapcore.ErrorLevel),
	}, nil
}

// Set replaces the process logger. Tests use it to capture output.
func Set(l *zap.Logger) {
	current.Store(l)
}

// L returns the underlying logger for injection.
func L() *zap.Logger {
	return current.Load()
}

// Named returns a sugared logger tagged with a component name.
func Named(component string) *zap.SugaredLogger {
	return current.Load().WithOptions(zap.AddCallerSkip(-1)).Named(component).Sugar()
}

func Sync() {
	_ = current.Load().Sync()
}

func toFields(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func Debug(msg string, fields map[string]any) {
	current.Load().Debug(msg, toFields(fields)...)
}

func Info(msg string, fields map[string]any) {
	current.Load().Info(msg, toFields(fields)...)
}

func Warn(msg string, fields map[string]any) {
	current.Load().Warn(msg, toFields(fields)...)
}

func Error(msg string, fields map[string]any) {
	current.Load().Error(msg, toFields(fields)...)
}

func Fatal(msg string, fields map[string]any) {
	current.Load().Fatal(msg, toFields(fields)...)
}
