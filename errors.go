package tgauth

import "errors"

var (
	// ErrValidation is returned when a Telegram payload fails signature, schema or freshness checks.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized is the parent of every authentication failure.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAuthorizationMissing is returned when no bearer token was presented.
	ErrAuthorizationMissing = wrapUnauthorized("authorization missing")
	// ErrTokenExpired is returned for a genuine access token past its expiry.
	ErrTokenExpired = wrapUnauthorized("token expired")
	// ErrTokenInvalid is returned for any access token that cannot be trusted.
	ErrTokenInvalid = wrapUnauthorized("invalid token")
	// ErrRefreshInvalid is returned when a refresh token is expired, forged or no longer usable.
	ErrRefreshInvalid = wrapUnauthorized("invalid refresh token")
	// ErrInvalidCredentials is returned by password login for unknown users and wrong passwords alike.
	ErrInvalidCredentials = wrapUnauthorized("invalid credentials")
	// ErrAccountDisabled is returned when the user exists but may no longer sign in.
	ErrAccountDisabled = wrapUnauthorized("account disabled")

	ErrLoginRateLimited   = errors.New("login rate limited")
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	ErrUserNotFound       = errors.New("user not found")
	ErrRoleNotAllowed     = errors.New("role not allowed for this login method")
	ErrEngineNotReady     = errors.New("engine not initialized")
	ErrBackend            = errors.New("backend unavailable")
)

type unauthorizedError struct {
	msg string
}

func wrapUnauthorized(msg string) error {
	return &unauthorizedError{msg: msg}
}

func (e *unauthorizedError) Error() string { return e.msg }

func (e *unauthorizedError) Unwrap() error { return ErrUnauthorized }
