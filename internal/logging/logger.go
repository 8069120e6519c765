package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig defines logger configuration
type LogConfig struct {
	Level                string        `mapstructure:"level"`
	Format               string        `mapstructure:"format"` // "json" or "console"
	Output               string        `mapstructure:"output"` // "stdout", "stderr", "file" or "buffer"
	FilePath             string        `mapstructure:"file_path"`
	MaxSize              int           `mapstructure:"max_size"` // MB
	MaxBackups           int           `mapstructure:"max_backups"`
	MaxAge               int           `mapstructure:"max_age"` // days
	Compress             bool          `mapstructure:"compress"`
	SlowRequestThreshold time.Duration `mapstructure:"slow_request_threshold"`

	// Buffer receives output when Output is "buffer"
	Buffer io.Writer `mapstructure:"-"`
}

// DefaultLogConfig returns JSON logging at info level on stdout
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:                "info",
		Format:               "json",
		Output:               "stdout",
		MaxSize:              100,
		MaxBackups:           5,
		MaxAge:               30,
		SlowRequestThreshold: time.Second,
	}
}

// New builds a zap logger from config. File output is rotated by lumberjack.
func New(config LogConfig) (*zap.Logger, error) {
	level, err := parseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	writer, err := setupWriter(config)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(config.Format) {
	case "", "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "console", "text":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", config.Format)
	}

	core := zapcore.NewCore(encoder, writer, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func setupWriter(config LogConfig) (zapcore.WriteSyncer, error) {
	switch config.Output {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	case "buffer":
		if config.Buffer == nil {
			return nil, fmt.Errorf("buffer output requires a writer")
		}
		return zapcore.AddSync(config.Buffer), nil
	case "file":
		if config.FilePath == "" {
			return nil, fmt.Errorf("file path required for file output")
		}
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}), nil
	default:
		return nil, fmt.Errorf("unknown log output %q", config.Output)
	}
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

type contextKey string

const requestIDKey contextKey = "request_id"

// ContextWithRequestID stores the request ID for downstream loggers
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request ID, or "" when none is set
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithContext annotates logger with the request ID carried by ctx
func WithContext(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if id := RequestIDFromContext(ctx); id != "" {
		return logger.With(zap.String("request_id", id))
	}
	return logger
}
