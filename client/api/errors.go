package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNetwork matches every *NetworkError: the request never produced an
	// HTTP response.
	ErrNetwork = errors.New("network error")

	// ErrValidation matches 400 answers.
	ErrValidation = errors.New("validation error")
	// ErrUnauthorized matches 401 answers; Code tells expired from invalid tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden matches 403 answers.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound matches 404 answers.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited matches 429 answers; RetryAfter carries the server's hint.
	ErrRateLimited = errors.New("rate limited")
	// ErrServer matches every 5xx answer.
	ErrServer = errors.New("server error")
)

// Codes the server puts in 401 bodies of protected routes.
const (
	CodeAuthorizationMissing = "authorization_missing"
	CodeTokenExpired         = "token_expired"
	CodeTokenInvalid         = "token_invalid"
)

// NetworkError is a request that never produced an HTTP response.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("api: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// StatusError is a non-2xx answer. It unwraps to the sentinel for its status
// class, so errors.Is(err, ErrUnauthorized) holds for every 401.
type StatusError struct {
	StatusCode int
	Message    string
	Code       string
	RetryAfter int64
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("api: %d %s (%s)", e.StatusCode, msg, e.Code)
	}
	return fmt.Sprintf("api: %d %s", e.StatusCode, msg)
}

// TokenExpired reports whether err is a 401 whose access token only expired,
// so a refresh may recover it.
func TokenExpired(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized && se.Code == CodeTokenExpired
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusBadRequest:
		return ErrValidation
	case e.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrServer
	default:
		return nil
	}
}
