// Package api is the HTTP client for the tgauth endpoints. Errors are
// classified so callers can branch with errors.Is on ErrNetwork,
// ErrUnauthorized, ErrValidation and ErrRateLimited.
package api
