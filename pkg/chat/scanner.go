package chat

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// RedactedMarker replaces each secret found by a scanner.
const RedactedMarker = "[redacted]"

// DefaultScanTimeout bounds a single scan.
const DefaultScanTimeout = 100 * time.Millisecond

// SecretScanner finds and redacts credentials in text.
type SecretScanner interface {
	// Scan returns the redacted text and how many secrets were replaced.
	Scan(ctx context.Context, text string) (string, int, error)
}

// PatternScanner is a regular-expression SecretScanner.
type PatternScanner struct {
	patterns []*regexp.Regexp
	timeout  time.Duration
}

//nolint:gochecknoglobals // pattern table
var secretPatterns = []string{
	`sk-ant-[A-Za-z0-9_-]{20,}`,
	`sk-proj-[A-Za-z0-9_-]{20,}`,
	`sk-[A-Za-z0-9]{32,}`,
	`AIza[0-9A-Za-z_-]{35}`,
	`AKIA[0-9A-Z]{16}`,
	`gh[pousr]_[A-Za-z0-9]{36}`,
	`(?i)api[_-]?key\s*[:=]\s*['"]?[A-Za-z0-9_-]{20,}['"]?`,
	`(?i)secret\s*[:=]\s*['"]?[A-Za-z0-9_-]{20,}['"]?`,
	`Bearer\s+[A-Za-z0-9._-]{20,}`,
	`-----BEGIN\s+(?:RSA|DSA|EC|OPENSSH|PGP)?\s*PRIVATE\s+KEY-----`,
}

// NewPatternScanner creates a scanner over the built-in credential patterns.
// A non-positive timeout uses DefaultScanTimeout.
func NewPatternScanner(timeout time.Duration) *PatternScanner {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	compiled := make([]*regexp.Regexp, 0, len(secretPatterns))
	for _, p := range secretPatterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return &PatternScanner{patterns: compiled, timeout: timeout}
}

// Scan implements SecretScanner. The context is checked between patterns.
func (s *PatternScanner) Scan(ctx context.Context, text string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	count := 0
	for _, re := range s.patterns {
		if err := ctx.Err(); err != nil {
			return text, 0, fmt.Errorf("secret scan interrupted: %w", err)
		}
		n := len(re.FindAllStringIndex(text, -1))
		if n == 0 {
			continue
		}
		count += n
		text = re.ReplaceAllString(text, RedactedMarker)
	}
	return text, count, nil
}

// Redact applies scanner and fails open: on a scanner error the original
// text is returned alongside the error.
func Redact(ctx context.Context, scanner SecretScanner, text string) (string, error) {
	if scanner == nil || strings.TrimSpace(text) == "" {
		return text, nil
	}
	redacted, _, err := scanner.Scan(ctx, text)
	if err != nil {
		return text, fmt.Errorf("secret scanner error: %w", err)
	}
	return redacted, nil
}
