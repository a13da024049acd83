package flows

import (
	"context"
	"errors"

	"github.com/medmarket/tgauth/jwt"
)

// RefreshFailureKind classifies refresh failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureNotReady
	RefreshFailureDecode
	RefreshFailureExpired
	RefreshFailureRateLimited
	RefreshFailureRateBackend
	RefreshFailureUserNotFound
	RefreshFailureLookup
	RefreshFailureDisabled
	RefreshFailureIssue
)

// RefreshResult carries either the new pair or failure metadata.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error
	UserID  string
	User    UserRecord
	Tokens  jwt.Pair
}

// RefreshDeps captures refresh dependencies.
type RefreshDeps struct {
	ParseRefresh func(string) (*jwt.Claims, error)
	CheckRate    func(ctx context.Context, key string) error
	RateLimited  error
	GetUser      func(ctx context.Context, userID string) (UserRecord, error)
	UserNotFound error
	Issue        func(jwt.Subject) (jwt.Pair, error)
}

// RunRefresh exchanges a refresh token for a new pair. The user is reloaded so
// the new tokens reflect the current role and profile state; the presented
// token's claims are only trusted for the user id.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	if deps.ParseRefresh == nil || deps.GetUser == nil || deps.Issue == nil {
		return RefreshResult{Failure: RefreshFailureNotReady}
	}

	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return RefreshResult{Failure: RefreshFailureExpired, Err: err}
		}
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}

	if deps.CheckRate != nil {
		if err := deps.CheckRate(ctx, "rf:"+claims.UID); err != nil {
			if deps.RateLimited != nil && errors.Is(err, deps.RateLimited) {
				return RefreshResult{Failure: RefreshFailureRateLimited, Err: err, UserID: claims.UID}
			}
			return RefreshResult{Failure: RefreshFailureRateBackend, Err: err, UserID: claims.UID}
		}
	}

	user, err := deps.GetUser(ctx, claims.UID)
	if err != nil {
		if deps.UserNotFound != nil && errors.Is(err, deps.UserNotFound) {
			return RefreshResult{Failure: RefreshFailureUserNotFound, Err: err, UserID: claims.UID}
		}
		return RefreshResult{Failure: RefreshFailureLookup, Err: err, UserID: claims.UID}
	}
	if user.Disabled {
		return RefreshResult{Failure: RefreshFailureDisabled, UserID: user.UserID, User: user}
	}

	pair, err := deps.Issue(user.Subject())
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, UserID: user.UserID, User: user}
	}

	return RefreshResult{UserID: user.UserID, User: user, Tokens: pair}
}
