package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/mj41/ha-modbus-windows-shutter/internal/infrastructure/config"
)

func TestBuild_JSONCarriesDefaultFields(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}

	logger := build(&buf, cfg, "1.2.3")
	logger.Info("relay board connected", "mode", "rtu")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["service"] != "shutterd" {
		t.Errorf("service = %v, want shutterd", entry["service"])
	}
	if entry["version"] != "1.2.3" {
		t.Errorf("version = %v, want 1.2.3", entry["version"])
	}
	if entry["msg"] != "relay board connected" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["mode"] != "rtu" {
		t.Errorf("mode = %v, want rtu", entry["mode"])
	}
}

func TestBuild_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "debug", Format: "text"}

	logger := build(&buf, cfg, "dev")
	logger.Debug("compiling timeline", "events", 4)

	out := buf.String()
	if !strings.Contains(out, "compiling timeline") || !strings.Contains(out, "events=4") {
		t.Errorf("text output = %q", out)
	}
}

func TestBuild_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "warn", Format: "json"}

	logger := build(&buf, cfg, "dev")
	logger.Info("suppressed")
	logger.Warn("emitted")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Error("info record emitted at warn level")
	}
	if !strings.Contains(out, "emitted") {
		t.Error("warn record missing at warn level")
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
	}

	for _, tt := range tests {
		if got := levelFor(tt.input); got != tt.expected {
			t.Errorf("levelFor(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := build(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "dev")

	child := logger.With("component", "modbus")
	if child == logger {
		t.Fatal("With() returned the parent logger")
	}
	child.Info("connected")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["component"] != "modbus" {
		t.Errorf("component = %v, want modbus", entry["component"])
	}
}

func TestNew_OutputSelection(t *testing.T) {
	for _, output := range []string{"stdout", "stderr", ""} {
		logger := New(config.LoggingConfig{Level: "info", Format: "json", Output: output}, "dev")
		if logger == nil {
			t.Fatalf("New(output=%q) returned nil", output)
		}
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
}
