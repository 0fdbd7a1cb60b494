package model

import "time"

// Identity is the claim set embedded in an access token.
type Identity struct {
	Name        string
	DisplayName string
	Role        string
}

type AuthClaims struct {
	Subject   string    `json:"sub"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	TokenID   string    `json:"jti"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// RefreshToken is the opaque rotating artifact handed to the transport layer.
type RefreshToken struct {
	Token   string
	Created time.Time
	Expires time.Time
}

func (rt RefreshToken) IsZero() bool {
	return rt.Token == ""
}

// Session is the result of a successful Login or Refresh.
type Session struct {
	AccessToken  AccessToken
	RefreshToken RefreshToken
	User         PublicCredential
}

type AccessTokenResponse struct {
	AccessToken string           `json:"access_token"`
	TokenType   string           `json:"token_type"`
	ExpiresAt   time.Time        `json:"expires_at"`
	User        PublicCredential `json:"user"`
}
