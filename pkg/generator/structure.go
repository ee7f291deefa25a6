package generator

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrEmptyContent is returned for a step whose content is blank.
var ErrEmptyContent = errors.New("generated content is empty")

var closers = map[rune]rune{')': '(', ']': '[', '}': '{'}

// proseExtensions are only checked for emptiness; apostrophes in prose would
// otherwise read as string delimiters.
var proseExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
	".rst":      true,
}

// CheckStructure is a language-agnostic sanity check: content must be
// non-empty and, unless path names a prose file, its brackets balanced
// outside string literals and comments.
func CheckStructure(path, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if proseExtensions[strings.ToLower(filepath.Ext(path))] {
		return nil
	}

	var stack []rune
	line := 1
	runes := []rune(content)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\n':
			line++
		case r == '/' && i+1 < len(runes) && runes[i+1] == '/':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			line++
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				if runes[i] == '\n' {
					line++
				}
				i++
			}
			i++
		case r == '"' || r == '\'' || r == '`':
			i = skipString(runes, i, &line)
		case r == '(' || r == '[' || r == '{':
			stack = append(stack, r)
		case r == ')' || r == ']' || r == '}':
			if len(stack) == 0 || stack[len(stack)-1] != closers[r] {
				return fmt.Errorf("syntax error: unexpected %q at line %d", r, line)
			}
			stack = stack[:len(stack)-1]
		}
	}

	if len(stack) > 0 {
		return fmt.Errorf("syntax error: %d unclosed bracket(s), last %q", len(stack), stack[len(stack)-1])
	}
	return nil
}

// skipString returns the index of the closing quote of the literal opened at
// start. Quote and double-quote literals end at a newline; backtick literals
// may span lines.
func skipString(runes []rune, start int, line *int) int {
	quote := runes[start]
	for i := start + 1; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			i++
		case '\n':
			if quote != '`' {
				*line++
				return i
			}
			*line++
		case quote:
			return i
		}
	}
	return len(runes)
}
