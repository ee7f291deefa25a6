package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", "Here you go: {\"a\":{\"b\":2}} hope it helps", `{"a":{"b":2}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ExtractJSON("no json here")
	assert.ErrorIs(t, err, ErrNoJSONObject)
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Intent string `json:"intent"`
	}
	require.NoError(t, DecodeJSON("```\n{\"intent\":\"code\",\"extra\":true}\n```", &out))
	assert.Equal(t, "code", out.Intent)

	assert.Error(t, DecodeJSON(`{"intent": }`, &out))
}
