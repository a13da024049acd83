package telegram

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPayload is the parent of every payload rejection returned by this package.
	ErrInvalidPayload = errors.New("invalid telegram payload")
	// ErrMissingField reports an absent or empty required field.
	ErrMissingField = fmt.Errorf("%w: missing required field", ErrInvalidPayload)
	// ErrHashMismatch reports a payload whose digest does not match the bot token.
	ErrHashMismatch = fmt.Errorf("%w: hash mismatch", ErrInvalidPayload)
	// ErrExpired reports a correctly signed payload whose auth_date is outside the accepted window.
	ErrExpired = fmt.Errorf("%w: auth_date outside accepted window", ErrInvalidPayload)
	// ErrMalformed reports a payload that cannot be decoded into an AuthPayload.
	ErrMalformed = fmt.Errorf("%w: malformed", ErrInvalidPayload)
)
