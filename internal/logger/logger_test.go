package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetup_ReturnsJSONLogger(t *testing.T) {
	SetVerbose(false)
	var buf bytes.Buffer
	l := Setup(&buf)

	if l == nil {
		t.Fatal("expected non-nil logger")
	}

	l.Info("test message", slog.String("key", "value"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON log output, got error: %v\nraw output: %s", err, buf.String())
	}

	if entry["msg"] != "test message" {
		t.Errorf("msg = %q, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %q, want %q", entry["key"], "value")
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in JSON log output")
	}
}

func TestSetup_AuthAttributes(t *testing.T) {
	SetVerbose(false)
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Warn("oauth callback failed",
		slog.String("provider", "github"),
		slog.String("user_id", "u-123"),
		slog.Int("http_status", 500),
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if entry["level"] != "WARN" {
		t.Errorf("level = %q, want %q", entry["level"], "WARN")
	}
	if entry["provider"] != "github" {
		t.Errorf("provider = %q, want %q", entry["provider"], "github")
	}
	if entry["user_id"] != "u-123" {
		t.Errorf("user_id = %q, want %q", entry["user_id"], "u-123")
	}
	if entry["http_status"] != float64(500) {
		t.Errorf("http_status = %v, want %v", entry["http_status"], 500)
	}
}

func TestSetVerbose_TogglesDebugOutput(t *testing.T) {
	t.Cleanup(func() { SetVerbose(false) })

	var buf bytes.Buffer
	l := Setup(&buf)

	SetVerbose(false)
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug log should be suppressed, got %s", buf.String())
	}
	if Verbose() {
		t.Error("Verbose() should be false")
	}

	// 既存のロガーにもレベル変更が反映される
	SetVerbose(true)
	l.Debug("state verified")
	if !strings.Contains(buf.String(), "state verified") {
		t.Errorf("debug log should be emitted when verbose, got %q", buf.String())
	}
	if !Verbose() {
		t.Error("Verbose() should be true")
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	t.Cleanup(func() { SetVerbose(false) })
	var buf bytes.Buffer
	SetupDefault(&buf, false)

	slog.Default().Info("global test", slog.String("test_key", "test_val"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v\nraw: %s", err, buf.String())
	}

	if entry["msg"] != "global test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "global test")
	}
	if entry["test_key"] != "test_val" {
		t.Errorf("test_key = %q, want %q", entry["test_key"], "test_val")
	}
}
