package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("Level(%d).String() = %q, expected %q", tt.level, got, tt.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"ERROR", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}

	if ValidLevel("bogus") {
		t.Error("expected bogus to be invalid")
	}
	if !ValidLevel("Warn") {
		t.Error("expected Warn to be valid")
	}
}

func TestLogger_Filtering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf, Prefix: "test"})

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn %d", 1)
	logger.Error("error")

	out := buf.String()
	if strings.Contains(out, "[DEBUG]") || strings.Contains(out, "[INFO]") {
		t.Errorf("expected debug and info to be filtered, got: %s", out)
	}
	if !strings.Contains(out, "[WARN] test: warn 1") {
		t.Errorf("expected formatted warn line, got: %s", out)
	}
	if !strings.Contains(out, "[ERROR]") {
		t.Errorf("expected error line, got: %s", out)
	}
}

func TestLogger_FieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf})

	logger.WithFields(map[string]any{"pid": 42, "id": "abc"}).WithComponent("reactor").Info("spawned")

	out := buf.String()
	if !strings.Contains(out, "{component=reactor, id=abc, pid=42}") {
		t.Errorf("expected sorted fields, got: %s", out)
	}
}

func TestLogger_ChildSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Config{Level: LevelError, Output: &buf})
	child := parent.WithComponent("lua")

	child.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got: %s", buf.String())
	}

	parent.SetLevel(LevelDebug)
	child.Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected child to follow parent level, got: %s", buf.String())
	}
	if !child.Enabled(LevelDebug) {
		t.Error("expected debug to be enabled")
	}
}

func TestLogger_SetOutput(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf1})

	logger.Info("one")
	logger.SetOutput(&buf2)
	logger.Info("two")

	if !strings.Contains(buf1.String(), "one") || strings.Contains(buf1.String(), "two") {
		t.Errorf("unexpected buf1: %s", buf1.String())
	}
	if !strings.Contains(buf2.String(), "two") {
		t.Errorf("unexpected buf2: %s", buf2.String())
	}
}

func TestNullLogger(t *testing.T) {
	NullLogger.Debug("x")
	NullLogger.Info("x")
	NullLogger.WithComponent("c").Error("x")
	NullLogger.SetLevel(LevelDebug)
	if NullLogger.Enabled(LevelError) {
		t.Error("NullLogger should never be enabled")
	}

	var nilLogger *Logger
	nilLogger.Info("nil logger must not panic")
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lspawn.log")

	logger, closer, err := OpenFile(path, LevelDebug)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	logger.Debug("to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "[DEBUG] lspawn: to file") {
		t.Errorf("unexpected log file content: %s", data)
	}
}
