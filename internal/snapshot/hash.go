// Package snapshot normalizes provider documents, detects changes by content
// hash and persists one snapshot per (entity, date, type).
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash returns the SHA-256 of the canonical JSON encoding of data.
// Map keys are sorted and numbers normalized, so equal content hashes equally
// regardless of key order or numeric Go type.
func Hash(data any) (string, error) {
	canonical, err := Canonical(data)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Canonical converts data to plain JSON types: map[string]any, []any,
// float64, string, bool and nil.
func Canonical(data any) (any, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return out, nil
}

func canonicalMap(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	c, err := Canonical(data)
	if err != nil {
		return nil, err
	}
	m, _ := c.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}
