package flows

import (
	"context"
	"errors"
	"strings"

	"github.com/medmarket/tgauth/jwt"
)

// PasswordLoginFailureKind classifies staff login failures.
type PasswordLoginFailureKind int

const (
	PasswordLoginFailureNone PasswordLoginFailureKind = iota
	PasswordLoginFailureNotReady
	PasswordLoginFailureRateLimited
	PasswordLoginFailureRateBackend
	PasswordLoginFailureEmptyInput
	PasswordLoginFailureUserNotFound
	PasswordLoginFailureLookup
	PasswordLoginFailureMismatch
	PasswordLoginFailureDisabled
	PasswordLoginFailureIssue
)

// PasswordLoginResult carries the issued pair or the failure. Upgraded reports
// that the stored hash was replaced with a stronger one.
type PasswordLoginResult struct {
	Failure  PasswordLoginFailureKind
	Err      error
	User     UserRecord
	Tokens   jwt.Pair
	Upgraded bool
}

// PasswordLoginDeps captures the staff login dependencies.
type PasswordLoginDeps struct {
	ClientIP     func(context.Context) string
	CheckRate    func(ctx context.Context, key string) error
	ResetRate    func(ctx context.Context, key string) error
	RateLimited  error
	UserNotFound error

	GetStaff           func(ctx context.Context, role, identifier string) (UserRecord, error)
	VerifyPassword     func(password, hash string) (bool, error)
	NeedsUpgrade       func(hash string) (bool, error)
	HashPassword       func(password string) (string, error)
	UpdatePasswordHash func(ctx context.Context, userID, hash string) error
	Issue              func(jwt.Subject) (jwt.Pair, error)
	Warn               func(string, ...any)
}

// RunPasswordLogin authenticates a staff account. Unknown identifiers and wrong
// passwords are reported as distinct kinds so they can be audited, but callers
// must map both to the same public error.
func RunPasswordLogin(ctx context.Context, role, identifier, password string, deps PasswordLoginDeps) PasswordLoginResult {
	if deps.GetStaff == nil || deps.VerifyPassword == nil || deps.Issue == nil {
		return PasswordLoginResult{Failure: PasswordLoginFailureNotReady}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}

	identifier = strings.ToLower(strings.TrimSpace(identifier))
	ip := ""
	if deps.ClientIP != nil {
		ip = deps.ClientIP(ctx)
	}
	rateKey := "pw:" + role + ":" + identifier + ":" + ip

	if deps.CheckRate != nil {
		if err := deps.CheckRate(ctx, rateKey); err != nil {
			if deps.RateLimited != nil && errors.Is(err, deps.RateLimited) {
				return PasswordLoginResult{Failure: PasswordLoginFailureRateLimited, Err: err}
			}
			return PasswordLoginResult{Failure: PasswordLoginFailureRateBackend, Err: err}
		}
	}

	if identifier == "" || password == "" {
		return PasswordLoginResult{Failure: PasswordLoginFailureEmptyInput}
	}

	user, err := deps.GetStaff(ctx, role, identifier)
	if err != nil {
		if deps.UserNotFound != nil && errors.Is(err, deps.UserNotFound) {
			return PasswordLoginResult{Failure: PasswordLoginFailureUserNotFound, Err: err}
		}
		return PasswordLoginResult{Failure: PasswordLoginFailureLookup, Err: err}
	}

	ok, err := deps.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return PasswordLoginResult{Failure: PasswordLoginFailureMismatch, Err: err, User: user}
	}
	if user.Disabled {
		return PasswordLoginResult{Failure: PasswordLoginFailureDisabled, User: user}
	}

	upgraded := false
	if deps.NeedsUpgrade != nil && deps.HashPassword != nil && deps.UpdatePasswordHash != nil {
		if needs, err := deps.NeedsUpgrade(user.PasswordHash); err == nil && needs {
			if hash, err := deps.HashPassword(password); err == nil {
				if err := deps.UpdatePasswordHash(ctx, user.UserID, hash); err != nil {
					deps.Warn("tgauth: password hash upgrade update failed", "user_id", user.UserID)
				} else {
					upgraded = true
				}
			} else {
				deps.Warn("tgauth: password hash upgrade generation failed", "user_id", user.UserID)
			}
		}
	}

	pair, err := deps.Issue(user.Subject())
	if err != nil {
		return PasswordLoginResult{Failure: PasswordLoginFailureIssue, Err: err, User: user}
	}

	if deps.ResetRate != nil {
		if err := deps.ResetRate(ctx, rateKey); err != nil {
			deps.Warn("tgauth: login rate reset failed", "error", err)
		}
	}

	return PasswordLoginResult{User: user, Tokens: pair, Upgraded: upgraded}
}
