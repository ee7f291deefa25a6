// Package utils provides small helpers shared across conductor packages:
// token counting, identifier cleanup, instruction files and map lookups.
package utils

import "fmt"

// SafeAssert is a comma-ok type assertion usable from generic code.
func SafeAssert[T any](value any) (T, bool) {
	v, ok := value.(T)
	return v, ok
}

// GetMapField reads key from a loosely typed map such as response metadata.
func GetMapField[T any](m map[string]any, key string) (T, error) {
	var zero T
	raw, ok := m[key]
	if !ok {
		return zero, fmt.Errorf("key %q not present", key)
	}
	v, ok := SafeAssert[T](raw)
	if !ok {
		return zero, fmt.Errorf("key %q holds %T, want %T", key, raw, zero)
	}
	return v, nil
}

// GetMapFieldOr is GetMapField with a fallback for missing or mistyped keys.
func GetMapFieldOr[T any](m map[string]any, key string, fallback T) T {
	if v, err := GetMapField[T](m, key); err == nil {
		return v
	}
	return fallback
}
