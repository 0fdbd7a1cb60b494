package token

import (
	"encoding/base64"
	"errors"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRefreshGeneratorGenerate(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)}
	g := NewRefreshGenerator(0, WithRefreshClock(clock.Now))

	rt, err := g.Generate()
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(rt.Token)
	require.NoError(t, err)
	require.Len(t, raw, RefreshTokenBytes)
	require.Equal(t, clock.now, rt.Created)
	require.Equal(t, clock.now.Add(7*24*time.Hour), rt.Expires)
	require.Equal(t, DefaultRefreshTokenTTL, g.TTL())
}

func TestRefreshGeneratorUniqueTokens(t *testing.T) {
	t.Parallel()

	g := NewRefreshGenerator(time.Hour)
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		rt, err := g.Generate()
		require.NoError(t, err)
		_, dup := seen[rt.Token]
		require.False(t, dup)
		seen[rt.Token] = struct{}{}
	}
}

func TestRefreshGeneratorEntropyFailure(t *testing.T) {
	t.Parallel()

	g := NewRefreshGenerator(time.Hour, WithRandomSource(iotest.ErrReader(errors.New("no entropy"))))
	_, err := g.Generate()
	require.Error(t, err)
}
