package utils

import (
	"path"
	"strings"
)

// SanitizeIdentifier makes a model-supplied identifier safe for log lines,
// metric labels and database keys.
func SanitizeIdentifier(id string) string {
	sanitized := strings.TrimSpace(id)
	sanitized = strings.ReplaceAll(sanitized, ":", "-")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	sanitized = strings.ReplaceAll(sanitized, "/", "-")
	sanitized = strings.ReplaceAll(sanitized, "\\", "-")
	return sanitized
}

// NormalizeArtifactPath cleans a model-supplied artifact path into a
// relative, slash-separated form. It returns "" for paths that are empty or
// escape the artifact root.
func NormalizeArtifactPath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return ""
		}
	}
	cleaned := strings.TrimLeft(path.Clean("/"+p), "/")
	if cleaned == "" || cleaned == "." {
		return ""
	}
	return cleaned
}

// Truncate shortens s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
