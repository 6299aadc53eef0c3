package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWriter_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "info", "json")
	logger.Info("hello", "key", "value")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", record["msg"])
	}
	if record["key"] != "value" {
		t.Errorf("key = %v, want value", record["key"])
	}
}

func TestNewWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "info", "text")
	logger.Info("hello")

	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text output = %q, want msg=hello", buf.String())
	}
}

func TestNewWriter_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantWarn  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, true},
		{"error", false, false},
		{"bogus", false, true}, // falls back to info
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWriter(&buf, tt.level, "text")

			logger.Debug("debug-line")
			if got := strings.Contains(buf.String(), "debug-line"); got != tt.wantDebug {
				t.Errorf("debug logged = %v, want %v", got, tt.wantDebug)
			}

			buf.Reset()
			logger.Warn("warn-line")
			if got := strings.Contains(buf.String(), "warn-line"); got != tt.wantWarn {
				t.Errorf("warn logged = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}
