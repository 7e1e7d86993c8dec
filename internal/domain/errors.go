package domain

import "errors"

var (
	// ErrWeakKey is returned at startup when a signing secret decodes to fewer bytes than required.
	ErrWeakKey = errors.New("signing key too weak")

	ErrMalformedToken = errors.New("malformed token")
	ErrExpiredToken   = errors.New("token expired")
	ErrMissingClaim   = errors.New("required claim missing")
	ErrRevokedToken   = errors.New("token revoked")

	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrSessionSuperseded means a newer login or rotation replaced the session the token belongs to.
	ErrSessionSuperseded  = errors.New("session superseded")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrCacheUnavailable wraps any failure talking to the shared session cache.
	ErrCacheUnavailable = errors.New("session cache unavailable")
)
