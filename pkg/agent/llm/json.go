package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSONObject is returned when a reply holds no JSON object.
var ErrNoJSONObject = errors.New("no JSON object in oracle reply")

// ExtractJSON strips code fences and returns the outermost {...} span of s.
func ExtractJSON(s string) (string, error) {
	body := StripCodeFences(s)
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return "", ErrNoJSONObject
	}
	return body[start : end+1], nil
}

// DecodeJSON extracts the JSON object from an oracle reply into v.
// Unknown fields are ignored so models may add commentary keys.
func DecodeJSON(raw string, v any) error {
	body, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("decode oracle JSON: %w", err)
	}
	return nil
}
