package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/warden/internal/infrastructure/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps slog.Logger with Warden-specific functionality.
//
// It provides structured logging with default fields and level-based filtering.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
	rotator *lumberjack.Logger
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (JSON for production, text for development)
//   - Log level filtering
//   - Default fields (service name, version)
//   - Output destination (stdout, a rotating file, or both)
//
// The rotating file is created lazily on first write, including any
// missing parent directories.
func New(cfg config.LoggingConfig, version string) *Logger {
	output, rotator := outputFor(cfg)

	level := parseLevel(cfg.Level)

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "warden"),
		slog.String("version", version),
	})

	return &Logger{
		Logger:  slog.New(handler),
		rotator: rotator,
	}
}

// outputFor resolves the configured destination. The returned rotator is
// nil when no file output was requested.
func outputFor(cfg config.LoggingConfig) (io.Writer, *lumberjack.Logger) {
	newRotator := func() *lumberjack.Logger {
		return &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
			LocalTime:  true,
		}
	}

	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr, nil
	case "file":
		if cfg.File.Path == "" {
			return os.Stdout, nil
		}
		r := newRotator()
		return r, r
	case "both":
		if cfg.File.Path == "" {
			return os.Stdout, nil
		}
		r := newRotator()
		return io.MultiWriter(os.Stdout, r), r
	default:
		return os.Stdout, nil
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	mqttLogger := logger.With("component", "mqtt")
//	mqttLogger.Info("connected") // Includes component=mqtt
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger:  l.Logger.With(args...),
		rotator: l.rotator,
	}
}

// Close flushes and closes the rotating log file, if any.
// Child loggers share the parent's file; close only the root logger.
func (l *Logger) Close() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
// It should only be used during early startup before config is available.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
