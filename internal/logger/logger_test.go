package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"none", LevelNone},
		{"bogus", LevelInfo},
	}

	for _, tc := range tests {
		if got := ParseLevel(tc.input); got != tc.expected {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
		}
	}
}

func TestLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")

	l, err := New(LevelInfo, path, "test")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	l.Debug("dropped %d", 1)
	l.Info("kept %s", "info")
	l.Error("kept %s", "error")

	if err := l.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}

	out := string(data)
	if strings.Contains(out, "dropped") {
		t.Fatalf("debug message should be filtered at info level: %s", out)
	}
	if !strings.Contains(out, "kept info") || !strings.Contains(out, "kept error") {
		t.Fatalf("expected info and error lines, got: %s", out)
	}
	if !strings.Contains(out, "[test]") {
		t.Fatalf("expected prefix in output, got: %s", out)
	}
}

func TestDisabledLogger(t *testing.T) {
	l, err := New(LevelNone, "", "")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	// Must not panic and must not create files.
	l.Info("nothing")
	if err := l.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestWithPrefixChaining(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	l, err := New(LevelDebug, path, "web")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	child := l.WithPrefix("ws")
	child.Info("hello")
	if err := l.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if !strings.Contains(string(data), "[web:ws]") {
		t.Fatalf("expected chained prefix, got: %s", string(data))
	}
}
