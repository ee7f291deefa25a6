package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"colon", "plan:001", "plan-001"},
		{"spaces", "blue button plan", "blue-button-plan"},
		{"slashes", "widgets/button", "widgets-button"},
		{"backslashes", "widgets\\button", "widgets-button"},
		{"surrounding whitespace", "  p1 ", "p1"},
		{"already clean", "plan-123", "plan-123"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeIdentifier(tt.input))
		})
	}
}

func TestNormalizeArtifactPath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"lib/widgets/button.dart", "lib/widgets/button.dart"},
		{"./lib/main.dart", "lib/main.dart"},
		{"/lib/main.dart", "lib/main.dart"},
		{"lib\\utils\\colors.dart", "lib/utils/colors.dart"},
		{"lib//a.dart", "lib/a.dart"},
		{"../secret", ""},
		{"lib/../../etc/passwd", ""},
		{"   ", ""},
		{".", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeArtifactPath(tt.input))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 10))
	assert.Equal(t, "hel...", Truncate("hello", 3))
	assert.Equal(t, "", Truncate("hello", 0))
	assert.Equal(t, "héé...", Truncate("héééé", 3))
}
