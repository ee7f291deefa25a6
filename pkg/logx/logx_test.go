package logx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setupTestLogger redirects console output into a buffer.
func setupTestLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })
	return &buf
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("orchestrator")
	if logger.GetComponent() != "orchestrator" {
		t.Errorf("Expected component 'orchestrator', got '%s'", logger.GetComponent())
	}
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger(t)

	logger := NewLogger("pipeline")
	logger.Info("Test message with %s", "formatting")

	output := buf.String()
	if !strings.Contains(output, "[pipeline]") {
		t.Errorf("Expected component in output, got: %s", output)
	}
	if !strings.Contains(output, "INFO") {
		t.Errorf("Expected log level in output, got: %s", output)
	}
	if !strings.Contains(output, "Test message with formatting") {
		t.Errorf("Expected formatted message in output, got: %s", output)
	}
}

func TestLogLevels(t *testing.T) {
	logger := NewLogger("test")

	tests := []struct {
		level    Level
		logFunc  func(string, ...any)
		expected string
	}{
		{LevelDebug, logger.Debug, "DEBUG"},
		{LevelInfo, logger.Info, "INFO"},
		{LevelWarn, logger.Warn, "WARN"},
		{LevelError, logger.Error, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := setupTestLogger(t)
			if tt.level == LevelDebug {
				SetDebugConfig(true)
				defer SetDebugConfig(false)
			}

			tt.logFunc("test message")

			if !strings.Contains(buf.String(), tt.expected) {
				t.Errorf("Expected level '%s' in output, got: %s", tt.expected, buf.String())
			}
		})
	}
}

func TestDebugSuppressedWhenDisabled(t *testing.T) {
	buf := setupTestLogger(t)
	SetDebugConfig(false)

	NewLogger("quiet").Debug("should not appear")
	if buf.Len() != 0 {
		t.Errorf("Expected no output, got: %s", buf.String())
	}
}

func TestDomainFiltering(t *testing.T) {
	buf := setupTestLogger(t)
	SetDebugConfig(true)
	SetDebugDomains([]string{"pipeline"})
	defer func() {
		SetDebugConfig(false)
		SetDebugDomains(nil)
	}()

	ctx := WithConversation(context.Background(), "conv-1")
	Debug(ctx, "pipeline", "step %d", 1)
	Debug(ctx, "recovery", "hidden")

	output := buf.String()
	if !strings.Contains(output, "[conv-1]") || !strings.Contains(output, "[pipeline] step 1") {
		t.Errorf("Expected pipeline debug line tagged with conversation, got: %s", output)
	}
	if strings.Contains(output, "hidden") {
		t.Errorf("Expected recovery domain to be filtered, got: %s", output)
	}
}

func TestConversationFrom(t *testing.T) {
	if got := ConversationFrom(context.Background()); got != "" {
		t.Errorf("Expected empty conversation, got %q", got)
	}
	ctx := WithConversation(context.Background(), "abc")
	if got := ConversationFrom(ctx); got != "abc" {
		t.Errorf("Expected 'abc', got %q", got)
	}
}

func TestLogBufferFiltering(t *testing.T) {
	_ = setupTestLogger(t)
	start := time.Now().UTC().Add(-time.Second)

	NewLogger("buffer-test-component").Info("buffered line")

	entries := GetRecentLogEntries("buffer-test-component", start)
	if len(entries) == 0 {
		t.Fatal("Expected at least one buffered entry")
	}
	last := entries[len(entries)-1]
	if last.Message != "buffered line" || last.Level != string(LevelInfo) {
		t.Errorf("Unexpected entry: %+v", last)
	}

	future := GetRecentLogEntries("buffer-test-component", time.Now().Add(time.Hour))
	if len(future) != 0 {
		t.Errorf("Expected no entries after future timestamp, got %d", len(future))
	}
}

func TestInMemoryLogBufferBounded(t *testing.T) {
	b := &InMemoryLogBuffer{maxSize: 3}
	for i := 0; i < 5; i++ {
		b.AddLogEntry(&LogEntry{Message: string(rune('a' + i))})
	}
	entries := b.GetLogEntries("", time.Time{})
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	if entries[0].Message != "c" {
		t.Errorf("Expected oldest retained entry 'c', got %q", entries[0].Message)
	}
}

func TestFileSink(t *testing.T) {
	_ = setupTestLogger(t)
	path := filepath.Join(t.TempDir(), "conductor.log")

	EnableFileSink(FileOptions{Path: path, MaxSizeMB: 1, MaxBackups: 1})
	NewLogger("file").Info("persisted line")
	if err := CloseFileSink(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "persisted line") {
		t.Errorf("Expected file sink to contain line, got: %s", data)
	}
}

func TestWrapAndErrorf(t *testing.T) {
	_ = setupTestLogger(t)

	if Wrap(nil, "noop") != nil {
		t.Error("Expected nil for nil error")
	}

	base := errors.New("boom")
	wrapped := Wrap(base, "db connect")
	if !errors.Is(wrapped, base) {
		t.Error("Expected wrapped error to unwrap to base")
	}
	if wrapped.Error() != "db connect: boom" {
		t.Errorf("Unexpected message: %s", wrapped.Error())
	}

	err := Errorf("setup failed: %w", base)
	if !errors.Is(err, base) {
		t.Error("Expected Errorf to wrap")
	}
}
