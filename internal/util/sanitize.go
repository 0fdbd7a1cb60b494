package util

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"go-auth-tokens/internal/model"
)

const MaxUsernameLength = 64

// SanitizeUsername trims surrounding space and drops invisible formatting
// runes so lookalike names collapse to one identity. Control characters
// and over-long names are rejected.
func SanitizeUsername(name string) (string, error) {
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("%w: username is not valid UTF-8", model.ErrInvalidInput)
	}

	builder := strings.Builder{}
	builder.Grow(len(name))

	for _, char := range name {
		if isInvisibleUnicode(char) {
			continue
		}
		if unicode.IsControl(char) {
			return "", fmt.Errorf("%w: username contains control characters", model.ErrInvalidInput)
		}
		builder.WriteRune(char)
	}

	cleaned := strings.TrimSpace(builder.String())
	if cleaned == "" {
		return "", fmt.Errorf("%w: username is required", model.ErrInvalidInput)
	}

	if utf8.RuneCountInString(cleaned) > MaxUsernameLength {
		return "", fmt.Errorf("%w: username exceeds %d characters", model.ErrInvalidInput, MaxUsernameLength)
	}

	return cleaned, nil
}

// NormalizeUsername maps a username to the key every store and the per-user
// lock use. Lookups are case-insensitive.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// isInvisibleUnicode returns true for zero-width, formatting, and other
// invisible Unicode characters.
func isInvisibleUnicode(r rune) bool {
	switch r {
	case
		'\u200B', // Zero-Width Space
		'\u200C', // Zero-Width Non-Joiner
		'\u200D', // Zero-Width Joiner
		'\u200E', // Left-to-Right Mark
		'\u200F', // Right-to-Left Mark
		'\u2060', // Word Joiner
		'\uFEFF': // Zero-Width No-Break Space / BOM
		return true
	}

	return unicode.Is(unicode.Cf, r)
}
