package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mj41/ha-modbus-windows-shutter/internal/infrastructure/config"
)

// serviceName is stamped on every log record.
const serviceName = "shutterd"

// Logger is the structured logger used throughout shutterd. It embeds
// slog.Logger, so the usual Debug/Info/Warn/Error key-value methods are
// available everywhere a Logger is passed.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging stanza of config.yaml: level
// (debug|info|warn|error), format (text|json) and output
// (stdout|stderr). Every record carries service and version fields.
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return build(w, cfg, version)
}

// build is the writer-injectable constructor behind New.
func build(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: levelFor(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// levelFor maps a config level string to slog; unrecognised values fall
// back to info rather than failing startup.
func levelFor(level string) slog.Level {
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

// With returns a child logger carrying extra default attributes.
//
// Example:
//
//	busLog := log.With("component", "modbus")
//	busLog.Info("connected") // includes component=modbus
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the bootstrap logger used before the config file has been
// read: JSON to stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
