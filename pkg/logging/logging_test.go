package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		result := test.level.String()
		if result != test.expected {
			t.Errorf("LogLevel(%d).String() = %s, expected %s", test.level, result, test.expected)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LogLevel(999), slog.LevelInfo},
	}

	for _, test := range tests {
		result := test.level.SlogLevel()
		if result != test.expected {
			t.Errorf("LogLevel(%d).SlogLevel() = %v, expected %v", test.level, result, test.expected)
		}
	}
}

func TestInitForCLI(t *testing.T) {
	var buf bytes.Buffer

	InitForCLI(LevelInfo, &buf)

	if isStreamMode {
		t.Error("Expected isStreamMode to be false after InitForCLI")
	}
	if defaultLogger == nil {
		t.Error("Expected defaultLogger to be set after InitForCLI")
	}

	Info("test-subsystem", "test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Error("Expected log message to appear in CLI output")
	}
	if !strings.Contains(output, "test-subsystem") {
		t.Error("Expected subsystem to appear in CLI output")
	}
}

func TestCLILevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	InitForCLI(LevelInfo, &buf)

	Debug("test", "debug message")
	Info("test", "info message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("Debug message should be filtered out at INFO level")
	}
	if !strings.Contains(output, "info message") {
		t.Error("Info message should appear at INFO level")
	}
}

func TestLogEntry(t *testing.T) {
	now := time.Now()
	testErr := errors.New("test error")

	entry := LogEntry{
		Timestamp: now,
		Level:     LevelError,
		Subsystem: "test-subsystem",
		Message:   "test message",
		Err:       testErr,
	}

	if entry.Timestamp != now {
		t.Error("Timestamp not set correctly")
	}
	if entry.Level != LevelError {
		t.Error("Level not set correctly")
	}
	if entry.Subsystem != "test-subsystem" {
		t.Error("Subsystem not set correctly")
	}
	if entry.Message != "test message" {
		t.Error("Message not set correctly")
	}
	if entry.Err != testErr {
		t.Error("Error not set correctly")
	}
}

func TestAuditLogsExpectedFields(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Audit(AuditEvent{Action: "session_create", Outcome: "success", SessionID: "abcd1234efgh", Target: "proj"})

	output := buf.String()
	for _, want := range []string{"[AUDIT]", "action=session_create", "outcome=success", "target=proj"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected audit output to contain %q, got %q", want, output)
		}
	}
}

func TestStreamModeDelivery(t *testing.T) {
	ch := Initcommon("stream", LevelDebug, nil, 4)
	Info("test", "hello %s", "world")

	select {
	case entry := <-ch:
		if entry.Message != "hello world" {
			t.Errorf("unexpected message: %s", entry.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("expected entry on stream channel")
	}
	InitForCLI(LevelInfo, &bytes.Buffer{})
}
