package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"go-auth-tokens/internal/model"
)

func TestSanitizeUsername(t *testing.T) {
	t.Parallel()

	t.Run("trims surrounding space", func(t *testing.T) {
		actual, err := SanitizeUsername("  alice ")
		require.NoError(t, err)
		require.Equal(t, "alice", actual)
	})

	t.Run("keeps case", func(t *testing.T) {
		actual, err := SanitizeUsername("Alice")
		require.NoError(t, err)
		require.Equal(t, "Alice", actual)
	})

	t.Run("strips zero-width characters", func(t *testing.T) {
		actual, err := SanitizeUsername("al\u200bice\ufeff")
		require.NoError(t, err)
		require.Equal(t, "alice", actual)
	})

	t.Run("rejects empty names", func(t *testing.T) {
		for _, name := range []string{"", "   ", "\u200b"} {
			_, err := SanitizeUsername(name)
			require.ErrorIs(t, err, model.ErrInvalidInput, "name %q", name)
		}
	})

	t.Run("rejects control characters", func(t *testing.T) {
		_, err := SanitizeUsername("ali\x00ce")
		require.ErrorIs(t, err, model.ErrInvalidInput)

		_, err = SanitizeUsername("alice\nadmin")
		require.ErrorIs(t, err, model.ErrInvalidInput)
	})

	t.Run("rejects invalid UTF-8", func(t *testing.T) {
		_, err := SanitizeUsername("al\xffice")
		require.ErrorIs(t, err, model.ErrInvalidInput)
	})

	t.Run("enforces length by runes", func(t *testing.T) {
		_, err := SanitizeUsername(strings.Repeat("é", MaxUsernameLength))
		require.NoError(t, err)

		_, err = SanitizeUsername(strings.Repeat("a", MaxUsernameLength+1))
		require.ErrorIs(t, err, model.ErrInvalidInput)
	})
}

func TestNormalizeUsername(t *testing.T) {
	t.Parallel()

	require.Equal(t, "alice", NormalizeUsername("  Alice "))
	require.Equal(t, NormalizeUsername("ALICE"), NormalizeUsername("alice"))

	sanitized, err := SanitizeUsername("Al\u200bice")
	require.NoError(t, err)
	require.Equal(t, "alice", NormalizeUsername(sanitized))
}
