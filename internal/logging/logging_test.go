package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{" INFO ", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q): unexpected error state: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestJSONComponentAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, slog.LevelInfo, FormatJSON)

	Component("server").Info("started")
	ctx := ContextWithRequestID(context.Background(), "req-1")
	WithContext(ctx).Info("request")
	Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}

	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if first["component"] != "server" {
		t.Errorf("expected component=server, got %v", first["component"])
	}
	if second["request_id"] != "req-1" {
		t.Errorf("expected request_id=req-1, got %v", second["request_id"])
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, slog.LevelWarn, FormatText)

	Info("skipped")
	Warn("kept", "n", 1)

	out := buf.String()
	if strings.Contains(out, "skipped") {
		t.Errorf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("expected warn line, got %q", out)
	}
}
