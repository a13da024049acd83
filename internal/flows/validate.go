package flows

import (
	"errors"
	"strings"

	"github.com/medmarket/tgauth/jwt"
)

// ValidateFailureKind classifies validation failures for root-level mapping.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureMissing
	ValidateFailureExpired
	ValidateFailureInvalid
)

// ValidateResult returns either claims or a classified failure.
type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.Claims
}

// ValidateDeps captures access-token validation dependencies.
type ValidateDeps struct {
	ParseAccess func(string) (*jwt.Claims, error)
	KnownRole   func(string) bool
}

// RunValidate verifies an access token. Validation is stateless: no store is
// consulted, so a token stays valid until it expires.
func RunValidate(tokenStr string, deps ValidateDeps) ValidateResult {
	if strings.TrimSpace(tokenStr) == "" {
		return ValidateResult{Failure: ValidateFailureMissing}
	}
	if deps.ParseAccess == nil {
		return ValidateResult{Failure: ValidateFailureInvalid, Err: errors.New("validator not configured")}
	}

	claims, err := deps.ParseAccess(tokenStr)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return ValidateResult{Failure: ValidateFailureExpired, Err: err}
		}
		return ValidateResult{Failure: ValidateFailureInvalid, Err: err}
	}
	if deps.KnownRole != nil && !deps.KnownRole(claims.Role) {
		return ValidateResult{Failure: ValidateFailureInvalid, Err: errors.New("unknown role")}
	}

	return ValidateResult{Claims: claims}
}
