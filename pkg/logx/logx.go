// Package logx provides component-scoped logging with context-aware debug logging.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// TimestampFormat is the layout used for every log line and buffered entry.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

type Logger struct {
	component string
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Enabled bool
	Domains map[string]bool // Which domains to enable debug for (nil = all)
}

// FileOptions configures the rotating file sink.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// LogEntry represents a structured log entry served by the web API.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Domain    string `json:"domain,omitempty"`
}

// InMemoryLogBuffer stores recent log entries.
type InMemoryLogBuffer struct {
	entries []LogEntry
	mutex   sync.RWMutex
	maxSize int
}

type ctxKey string

const conversationKey ctxKey = "conversation_id"

var (
	debugConfig = &DebugConfig{}
	debugMutex  sync.RWMutex

	outputMu   sync.Mutex
	output     io.Writer = os.Stderr
	fileSink   *lumberjack.Logger
	logBuffer  = &InMemoryLogBuffer{maxSize: 1000}
	defaultLog = NewLogger("system")
)

func init() { //nolint:gochecknoinits // Required for env var initialization
	initDebugFromEnv()
}

// initDebugFromEnv reads DEBUG and DEBUG_DOMAINS.
func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		debugConfig.Enabled = true
	}

	// DEBUG_DOMAINS=orchestrator,pipeline
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = make(map[string]bool)
		for _, domain := range strings.Split(domains, ",") {
			debugConfig.Domains[strings.TrimSpace(domain)] = true
		}
	}
}

func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// SetOutput replaces the console writer. Passing nil restores stderr.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	output = w
}

// EnableFileSink mirrors all log lines into a size-rotated file.
func EnableFileSink(opts FileOptions) {
	outputMu.Lock()
	defer outputMu.Unlock()

	if fileSink != nil {
		_ = fileSink.Close()
	}
	fileSink = &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
}

// CloseFileSink flushes and detaches the file sink if one is active.
func CloseFileSink() error {
	outputMu.Lock()
	defer outputMu.Unlock()

	if fileSink == nil {
		return nil
	}
	err := fileSink.Close()
	fileSink = nil
	if err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

// SetDebugConfig toggles debug logging globally.
func SetDebugConfig(enabled bool) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugConfig.Enabled = enabled
}

// SetDebugDomains configures which domains should have debug logging enabled.
func SetDebugDomains(domains []string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if len(domains) == 0 {
		debugConfig.Domains = nil
		return
	}
	debugConfig.Domains = make(map[string]bool)
	for _, domain := range domains {
		debugConfig.Domains[strings.TrimSpace(domain)] = true
	}
}

// IsDebugEnabled returns whether debug logging is enabled.
func IsDebugEnabled() bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()
	return debugConfig.Enabled
}

// IsDebugEnabledForDomain returns whether debug logging is enabled for a specific domain.
func IsDebugEnabledForDomain(domain string) bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Domains == nil {
		return true
	}
	return debugConfig.Domains[domain]
}

// AddLogEntry adds a log entry to the in-memory buffer.
func (b *InMemoryLogBuffer) AddLogEntry(entry *LogEntry) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.entries = append(b.entries, *entry)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

// GetLogEntries returns a copy of current log entries, optionally filtered.
func (b *InMemoryLogBuffer) GetLogEntries(domain string, since time.Time) []LogEntry {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	filtered := make([]LogEntry, 0, len(b.entries))
	for i := range b.entries {
		entry := &b.entries[i]
		if domain != "" && !strings.EqualFold(entry.Domain, domain) && !strings.EqualFold(entry.Component, domain) {
			continue
		}
		if !since.IsZero() {
			entryTime, err := time.Parse(TimestampFormat, entry.Timestamp)
			if err != nil || entryTime.Before(since) {
				continue
			}
		}
		filtered = append(filtered, *entry)
	}
	return filtered
}

// GetRecentLogEntries returns buffered entries for a domain or component.
func GetRecentLogEntries(domain string, since time.Time) []LogEntry {
	return logBuffer.GetLogEntries(domain, since)
}

// WithConversation tags ctx with a conversation ID for debug lines.
func WithConversation(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationKey, conversationID)
}

// ConversationFrom returns the conversation ID carried by ctx, if any.
func ConversationFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(conversationKey).(string); ok {
		return id
	}
	return ""
}

func write(line string) {
	outputMu.Lock()
	defer outputMu.Unlock()

	_, _ = fmt.Fprintln(output, line)
	if fileSink != nil {
		_, _ = fmt.Fprintln(fileSink, line)
	}
}

func emit(component string, level Level, domain, message string) {
	timestamp := time.Now().UTC().Format(TimestampFormat)
	prefix := message
	if domain != "" {
		prefix = fmt.Sprintf("[%s] %s", domain, message)
	}
	write(fmt.Sprintf("[%s] [%s] %s: %s", timestamp, component, level, prefix))

	logBuffer.AddLogEntry(&LogEntry{
		Timestamp: timestamp,
		Component: component,
		Level:     string(level),
		Message:   message,
		Domain:    domain,
	})
}

func (l *Logger) log(level Level, format string, args ...any) {
	emit(l.component, level, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// DebugState logs a state transition for this component.
func (l *Logger) DebugState(action, state string, extra ...string) {
	extraInfo := ""
	if len(extra) > 0 {
		extraInfo = fmt.Sprintf(" - %s", extra[0])
	}
	l.Debug("State %s: %s%s", action, state, extraInfo)
}

func (l *Logger) GetComponent() string {
	return l.component
}

func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{component: component}
}

// Debug logs a domain-filtered debug message. The conversation ID carried
// by ctx, if any, is used as the line's component.
//
//	DEBUG=1                                  # all domains
//	DEBUG=1 DEBUG_DOMAINS=pipeline           # one domain
//	DEBUG=1 DEBUG_DOMAINS=pipeline,recovery  # several
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	component := ConversationFrom(ctx)
	if component == "" {
		component = "unknown"
	}
	emit(component, LevelDebug, domain, fmt.Sprintf(format, args...))
}

// DebugState logs state transition information with context and domain.
func DebugState(ctx context.Context, domain, action, state string, extra ...string) {
	extraInfo := ""
	if len(extra) > 0 {
		extraInfo = fmt.Sprintf(" - %s", extra[0])
	}
	Debug(ctx, domain, "State %s: %s%s", action, state, extraInfo)
}

// DebugFlow logs workflow step information with context and domain.
func DebugFlow(ctx context.Context, domain, step, status string, extra ...string) {
	extraInfo := ""
	if len(extra) > 0 {
		extraInfo = fmt.Sprintf(" - %s", extra[0])
	}
	Debug(ctx, domain, "Flow %s: %s%s", step, status, extraInfo)
}

func Debugf(format string, args ...any) {
	defaultLog.Debug(format, args...)
}

func Infof(format string, args ...any) {
	defaultLog.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLog.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
//
//	err := logx.Errorf("setup failed: %w", err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLog.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns fmt.Errorf("%s: %w", msg, err).
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrappedErr := fmt.Errorf("%s: %w", msg, err)
	defaultLog.Error("%s", wrappedErr.Error())
	return wrappedErr
}
