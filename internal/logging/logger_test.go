package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWithWriter_JSONIncludesService(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewWithWriter("production", "info", &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	Component(logger, "dedup").Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if entry["service"] != serviceName {
		t.Fatalf("unexpected service: got %v want %s", entry["service"], serviceName)
	}
	if entry["component"] != "dedup" {
		t.Fatalf("unexpected component: got %v", entry["component"])
	}
}

func TestNewWithWriter_RejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := NewWithWriter("local", "loud", &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}
