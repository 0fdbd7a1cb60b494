// Package token issues and verifies signed access tokens and generates
// opaque refresh tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"go-auth-tokens/internal/model"
)

const (
	// MinKeyLength is the shortest secret accepted for HS512.
	MinKeyLength = 16
	// RecommendedKeyLength matches the 512-bit MAC output.
	RecommendedKeyLength = 64
)

var signingMethod = jwt.SigningMethodHS512

type accessClaims struct {
	Name       string `json:"name"`
	UniqueName string `json:"unique_name,omitempty"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

type Signer struct {
	key              []byte
	issuer           string
	legacyNameClaims bool
	now              func() time.Time
}

type Option func(*Signer)

func WithIssuer(issuer string) Option {
	return func(s *Signer) { s.issuer = issuer }
}

// WithLegacyNameClaims also writes the identity under "unique_name" for
// consumers that read ASP.NET style name claims.
func WithLegacyNameClaims(enabled bool) Option {
	return func(s *Signer) { s.legacyNameClaims = enabled }
}

func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

func NewSigner(secret string, opts ...Option) (*Signer, error) {
	if len(secret) < MinKeyLength {
		return nil, fmt.Errorf("%w: signing secret must be at least %d bytes", model.ErrConfiguration, MinKeyLength)
	}

	s := &Signer{
		key: []byte(secret),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// WeakKey reports a secret shorter than RecommendedKeyLength.
func (s *Signer) WeakKey() bool {
	return len(s.key) < RecommendedKeyLength
}

func (s *Signer) Algorithm() string {
	return signingMethod.Alg()
}

func (s *Signer) Issue(identity model.Identity, ttl time.Duration) (model.AccessToken, error) {
	if identity.Name == "" {
		return model.AccessToken{}, fmt.Errorf("%w: token subject is required", model.ErrInvalidInput)
	}
	if ttl <= 0 {
		return model.AccessToken{}, fmt.Errorf("%w: token ttl must be positive", model.ErrInvalidInput)
	}

	now := s.now()
	expiresAt := now.Add(ttl)

	displayName := identity.DisplayName
	if displayName == "" {
		displayName = identity.Name
	}

	claims := accessClaims{
		Name: displayName,
		Role: identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Name,
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if s.legacyNameClaims {
		claims.UniqueName = identity.Name
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(s.key)
	if err != nil {
		return model.AccessToken{}, fmt.Errorf("sign access token: %w", err)
	}

	return model.AccessToken{Token: signed, ExpiresAt: claims.ExpiresAt.UTC()}, nil
}

// Verify checks signature, algorithm and expiry. A token is rejected at its
// exact expiry instant.
func (s *Signer) Verify(tokenString string) (*model.AuthClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &accessClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, model.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", model.ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, model.ErrTokenInvalid
	}

	out := &model.AuthClaims{
		Subject: claims.Subject,
		Name:    claims.Name,
		Role:    claims.Role,
		TokenID: claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.UTC()
	}

	return out, nil
}
