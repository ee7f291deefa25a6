// Package eventlog appends conversation events to daily-rotated JSONL files.
package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"conductor/pkg/events"
	"conductor/pkg/logx"
	"conductor/pkg/proto"
)

const filePattern = "events-%s.jsonl"

// Writer appends events to events-YYYY-MM-DD.jsonl in logDir, switching
// files when the UTC date changes.
type Writer struct {
	currentFile *os.File
	now         func() time.Time
	logger      *logx.Logger
	logDir      string
	currentDate string
	mu          sync.Mutex
}

// NewWriter creates the log directory and opens today's file. A nil clock
// uses time.Now.
func NewWriter(logDir string, now func() time.Time) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if now == nil {
		now = time.Now
	}

	w := &Writer{logDir: logDir, now: now, logger: logx.NewLogger("eventlog")}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize log file: %w", err)
	}
	return w, nil
}

// WriteEvent appends ev as one JSON line.
func (w *Writer) WriteEvent(ev *proto.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.currentFile.Write(data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return nil
}

// Run writes every event from sub until the subscription closes or ctx is
// done. Write failures are logged and skipped.
func (w *Writer) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := w.WriteEvent(&ev); err != nil {
				w.logger.Error("Failed to log %s event for %s: %v", ev.Type, ev.ConversationID, err)
			}
		}
	}
}

func (w *Writer) rotateIfNeeded() error {
	date := w.now().UTC().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == date {
		return nil
	}

	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
	}

	path := filepath.Join(w.logDir, fmt.Sprintf(filePattern, date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	w.currentFile = file
	w.currentDate = date
	return nil
}

// Close closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	if err != nil {
		return fmt.Errorf("failed to close event log file: %w", err)
	}
	return nil
}

// GetCurrentLogFile returns the path of the active file, or "" once closed.
func (w *Writer) GetCurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return ""
	}
	return filepath.Join(w.logDir, fmt.Sprintf(filePattern, w.currentDate))
}

// ReadEvents parses a JSONL event file. Blank lines are skipped.
func ReadEvents(path string) ([]proto.Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	defer file.Close()

	var out []proto.Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var ev proto.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("failed to parse event on line %d: %w", line, err)
		}
		out = append(out, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan log file: %w", err)
	}
	return out, nil
}

// ListLogFiles returns all event files in logDir.
func ListLogFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "events-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}
	return files, nil
}
