package model

import "errors"

var (
	// Credential errors
	ErrNotFound          = errors.New("credential not found")
	ErrAlreadyExists     = errors.New("credential already exists")
	ErrInvalidCredential = errors.New("invalid credential")

	// Refresh token errors. Each is reported wrapped together with ErrUnauthorized.
	ErrUnauthorized         = errors.New("unauthorized")
	ErrRefreshTokenMismatch = errors.New("refresh token mismatch")
	ErrRefreshTokenExpired  = errors.New("refresh token expired")
	ErrRefreshTokenStale    = errors.New("refresh token already rotated")

	// Access token errors
	ErrTokenInvalid = errors.New("invalid access token")
	ErrTokenExpired = errors.New("access token expired")

	// Startup errors
	ErrConfiguration = errors.New("configuration error")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
