// Package utils provides tiktoken-based token counting utilities.
package utils

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens with a tiktoken codec. Every supported provider
// is approximated with the GPT-4 encoding.
type TokenCounter struct {
	codec tokenizer.Codec
}

var (
	sharedCounter     *TokenCounter //nolint:gochecknoglobals // codec construction is expensive
	sharedCounterOnce sync.Once     //nolint:gochecknoglobals
)

// NewTokenCounter creates a new token counter for the specified model.
func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in the given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		// 4 chars ≈ 1 token
		return len(text) / 4
	}

	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// CountTokensSimple counts tokens with a shared GPT-4 codec.
func CountTokensSimple(text string) int {
	sharedCounterOnce.Do(func() {
		counter, err := NewTokenCounter("gpt-4")
		if err == nil {
			sharedCounter = counter
		}
	})
	return sharedCounter.CountTokens(text)
}

// ValidateTokenLimit reports whether text fits within limit tokens.
func (tc *TokenCounter) ValidateTokenLimit(text string, limit int) bool {
	return tc.CountTokens(text) <= limit
}

// TruncateToTokenLimit truncates text to roughly fit within limit tokens.
// The cut is proportional by bytes and backs off to a rune boundary.
func (tc *TokenCounter) TruncateToTokenLimit(text string, limit int) string {
	currentTokens := tc.CountTokens(text)
	if currentTokens <= limit {
		return text
	}

	ratio := float64(limit) / float64(currentTokens)
	charLimit := int(float64(len(text)) * ratio * 0.9)
	if charLimit >= len(text) {
		return text
	}
	if charLimit < 0 {
		charLimit = 0
	}
	for charLimit > 0 && !utf8.RuneStart(text[charLimit]) {
		charLimit--
	}
	return text[:charLimit] + "..."
}
