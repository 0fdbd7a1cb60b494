package password

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"go-auth-tokens/internal/model"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func hashers() map[string]Hasher {
	return map[string]Hasher{
		SchemeHMACSHA512: NewHMACSHA512(),
		SchemeArgon2id:   NewArgon2id(),
	}
}

func TestHasherRoundTrip(t *testing.T) {
	t.Parallel()

	for name, h := range hashers() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			for _, pw := range []string{"pw1", "correct horse battery staple", "pässwörd-ünïcode", ""} {
				hash, salt, err := h.Hash(pw)
				require.NoError(t, err)
				require.True(t, h.Verify(pw, hash, salt), "password %q should verify", pw)
			}
		})
	}
}

func TestHasherRejectsDifferentPassword(t *testing.T) {
	t.Parallel()

	for name, h := range hashers() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			hash, salt, err := h.Hash("pw1")
			require.NoError(t, err)

			require.False(t, h.Verify("wrong", hash, salt))
			require.False(t, h.Verify("pw1 ", hash, salt))
			require.False(t, h.Verify("PW1", hash, salt))
		})
	}
}

func TestHasherFreshSaltPerHash(t *testing.T) {
	t.Parallel()

	for name, h := range hashers() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			hash1, salt1, err := h.Hash("same-password")
			require.NoError(t, err)
			hash2, salt2, err := h.Hash("same-password")
			require.NoError(t, err)

			require.False(t, bytes.Equal(salt1, salt2))
			require.False(t, bytes.Equal(hash1, hash2))
		})
	}
}

func TestHasherPairsAreNotInterchangeable(t *testing.T) {
	t.Parallel()

	h := NewHMACSHA512()
	hash1, _, err := h.Hash("pw")
	require.NoError(t, err)
	_, salt2, err := h.Hash("pw")
	require.NoError(t, err)

	require.False(t, h.Verify("pw", hash1, salt2))
}

func TestHMACSHA512Widths(t *testing.T) {
	t.Parallel()

	hash, salt, err := NewHMACSHA512().Hash("pw")
	require.NoError(t, err)
	require.Len(t, hash, 64)
	require.Len(t, salt, 128)
}

func TestHasherEmptySaltNeverVerifies(t *testing.T) {
	t.Parallel()

	for name, h := range hashers() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			hash, _, err := h.Hash("pw")
			require.NoError(t, err)
			require.False(t, h.Verify("pw", hash, nil))
			require.False(t, h.Verify("pw", nil, []byte("salt")))
		})
	}
}

func TestHasherRandomnessFailure(t *testing.T) {
	t.Parallel()

	h := &HMACSHA512{rand: failingReader{}}
	_, _, err := h.Hash("pw")
	require.Error(t, err)

	a := &Argon2id{rand: failingReader{}}
	_, _, err = a.Hash("pw")
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	t.Parallel()

	h, err := New("")
	require.NoError(t, err)
	require.IsType(t, &HMACSHA512{}, h)

	h, err = New(" Argon2id ")
	require.NoError(t, err)
	require.IsType(t, &Argon2id{}, h)

	_, err = New("md5")
	require.ErrorIs(t, err, model.ErrConfiguration)
}
