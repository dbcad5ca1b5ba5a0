package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Format: "json", Output: &buf}).With(String("component", "engine"))
	logger.Debug("dispatch", Int("node", 3), Int64("time", 12), Err(errors.New("late")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line %q is not json: %v", buf.String(), err)
	}
	if rec["msg"] != "dispatch" || rec["component"] != "engine" || rec["node"] != 3.0 || rec["error"] != "late" {
		t.Fatalf("log record = %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantWarn  bool
	}{
		{"debug", true, true},
		{"", false, true},
		{"warning", false, true},
		{"error", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Level: tt.level, Output: &buf})
			logger.Debug("low")
			logger.Warn("high")
			out := buf.String()
			if strings.Contains(out, "low") != tt.wantDebug || strings.Contains(out, "high") != tt.wantWarn {
				t.Fatalf("level %q wrote %q", tt.level, out)
			}
		})
	}
}

func TestNoopLogger(t *testing.T) {
	logger := Noop().With(Bool("quiet", true))
	logger.Info("dropped", Float("x", 1.5), Any("y", []int{1}))
	logger.Error("dropped")
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FORMAT", "json")
	logger := NewFromEnv()
	if _, ok := logger.(*slogger); !ok {
		t.Fatalf("NewFromEnv() = %T, want *slogger", logger)
	}
	if !logger.(*slogger).l.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error level disabled")
	}
	if logger.(*slogger).l.Enabled(context.Background(), slog.LevelWarn) {
		t.Fatalf("LOG_LEVEL=error still enables warnings")
	}
}
