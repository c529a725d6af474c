package models

import (
	"strings"

	"github.com/remlabs/rem-engine/pkg/apperrors"
)

// NormalizeKey maps a display name to its canonical lookup key: lowercase,
// with every whitespace run collapsed to a single hyphen. It is total for
// non-empty input and idempotent. Every index write and every lookup or
// traversal input must pass through this function; bypassing it makes index
// misses possible for semantically identical names.
func NormalizeKey(name string) (string, error) {
	fields := strings.Fields(strings.ToLower(name))
	if len(fields) == 0 {
		return "", apperrors.ErrInvalidKey
	}
	return strings.Join(fields, "-"), nil
}
