package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeAssert(t *testing.T) {
	v, ok := SafeAssert[string]("x")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	n, ok := SafeAssert[int]("x")
	assert.False(t, ok)
	assert.Zero(t, n)
}

func TestGetMapField(t *testing.T) {
	m := map[string]any{"path": "lib/main.dart", "line": 3}

	path, err := GetMapField[string](m, "path")
	require.NoError(t, err)
	assert.Equal(t, "lib/main.dart", path)

	_, err = GetMapField[string](m, "line")
	assert.ErrorContains(t, err, "want string")

	_, err = GetMapField[string](m, "missing")
	assert.ErrorContains(t, err, "not present")

	assert.Equal(t, 3, GetMapFieldOr(m, "line", 0))
	assert.Equal(t, "fallback", GetMapFieldOr(m, "missing", "fallback"))
	assert.Equal(t, "fallback", GetMapFieldOr[string](nil, "path", "fallback"))
}
