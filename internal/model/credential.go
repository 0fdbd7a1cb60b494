package model

import (
	"bytes"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Credential is the stored record for one identity. Values are treated as
// immutable snapshots: mutate by building a new value and handing it to the
// store, never by editing a value a store returned.
type Credential struct {
	Username            string    `json:"username"`
	PasswordHash        []byte    `json:"-"`
	PasswordSalt        []byte    `json:"-"`
	Role                string    `json:"role"`
	RefreshToken        string    `json:"-"`
	RefreshTokenCreated time.Time `json:"-"`
	RefreshTokenExpires time.Time `json:"-"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type PublicCredential struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (c Credential) Public() PublicCredential {
	return PublicCredential{Username: c.Username, Role: c.Role}
}

// Clone returns a deep copy so byte slices are never shared between snapshots.
func (c Credential) Clone() Credential {
	out := c
	out.PasswordHash = bytes.Clone(c.PasswordHash)
	out.PasswordSalt = bytes.Clone(c.PasswordSalt)
	return out
}

// WithRefreshToken returns a new snapshot carrying rt as the live refresh token.
// A zero rt clears the refresh state.
func (c Credential) WithRefreshToken(rt RefreshToken, now time.Time) Credential {
	out := c.Clone()
	out.RefreshToken = rt.Token
	out.RefreshTokenCreated = rt.Created
	out.RefreshTokenExpires = rt.Expires
	out.UpdatedAt = now
	return out
}

func (c Credential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// RefreshTokenExpired reports whether the live refresh token is past its
// expiry. A token is still valid at exactly its expiry instant.
func (c Credential) RefreshTokenExpired(now time.Time) bool {
	return now.After(c.RefreshTokenExpires)
}
