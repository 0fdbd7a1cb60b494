package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"go-auth-tokens/internal/model"
)

const (
	RefreshTokenBytes      = 64
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

type RefreshGenerator struct {
	ttl  time.Duration
	now  func() time.Time
	rand io.Reader
}

type RefreshOption func(*RefreshGenerator)

func WithRefreshClock(now func() time.Time) RefreshOption {
	return func(g *RefreshGenerator) { g.now = now }
}

func WithRandomSource(r io.Reader) RefreshOption {
	return func(g *RefreshGenerator) { g.rand = r }
}

func NewRefreshGenerator(ttl time.Duration, opts ...RefreshOption) *RefreshGenerator {
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}

	g := &RefreshGenerator{
		ttl:  ttl,
		now:  time.Now,
		rand: rand.Reader,
	}
	for _, opt := range opts {
		opt(g)
	}

	return g
}

func (g *RefreshGenerator) TTL() time.Duration {
	return g.ttl
}

func (g *RefreshGenerator) Generate() (model.RefreshToken, error) {
	buf := make([]byte, RefreshTokenBytes)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return model.RefreshToken{}, fmt.Errorf("read refresh token entropy: %w", err)
	}

	now := g.now().UTC()
	return model.RefreshToken{
		Token:   base64.StdEncoding.EncodeToString(buf),
		Created: now,
		Expires: now.Add(g.ttl),
	}, nil
}
