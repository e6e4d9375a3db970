// Package keys checks configured signing and encryption secrets.
package keys

import (
	"errors"
	"fmt"
	"strings"
)

// MinLength is the minimum accepted length for a configured secret.
const MinLength = 32

var (
	// ErrEmpty is returned when no secret was configured.
	ErrEmpty = errors.New("key is empty")
	// ErrWeak is returned when a secret is short or looks like a placeholder.
	ErrWeak = errors.New("key is too weak")
)

// placeholders are substrings that mark a key as a copy-pasted default.
var placeholders = []string{
	"dev-only",
	"change-me",
	"changeme",
	"placeholder",
	"default",
	"example",
	"insecure",
	"test-key",
	"secret123",
	"password",
}

// IsDefault reports whether key looks like a placeholder value.
func IsDefault(key string) bool {
	lower := strings.ToLower(key)
	for _, p := range placeholders {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// IsWeak reports whether key is shorter than MinLength or a placeholder.
func IsWeak(key string) bool {
	return len(key) < MinLength || IsDefault(key)
}

// Check validates a named secret. Empty keys are always rejected; weak keys
// are rejected when strict is set (production) and accepted otherwise.
func Check(name, key string, strict bool) error {
	if key == "" {
		return fmt.Errorf("%s: %w", name, ErrEmpty)
	}
	if strict && IsWeak(key) {
		return fmt.Errorf("%s: %w; provide %d+ random chars (not a default dev key)", name, ErrWeak, MinLength)
	}
	return nil
}
