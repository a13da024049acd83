package flows

import (
	"context"
	"errors"

	"github.com/medmarket/tgauth/jwt"
	"github.com/medmarket/tgauth/telegram"
)

// TelegramLoginFailureKind classifies Telegram login failures.
type TelegramLoginFailureKind int

const (
	TelegramLoginFailureNone TelegramLoginFailureKind = iota
	TelegramLoginFailureNotReady
	TelegramLoginFailureRateLimited
	TelegramLoginFailureRateBackend
	TelegramLoginFailurePayload
	TelegramLoginFailureUpsert
	TelegramLoginFailureDisabled
	TelegramLoginFailureIssue
)

// TelegramLoginResult carries the issued pair or the failure.
type TelegramLoginResult struct {
	Failure TelegramLoginFailureKind
	Err     error
	Payload *telegram.AuthPayload
	User    UserRecord
	Tokens  jwt.Pair
}

// TelegramLoginDeps captures the Telegram login dependencies.
//
// CheckRate returns RateLimited when the caller is over budget; any other
// error is treated as a backend failure and the login is refused.
type TelegramLoginDeps struct {
	ClientIP    func(context.Context) string
	CheckRate   func(ctx context.Context, key string) error
	RateLimited error
	Verify      func(fields map[string]string) (*telegram.AuthPayload, error)
	UpsertUser  func(ctx context.Context, p *telegram.AuthPayload) (UserRecord, error)
	Issue       func(jwt.Subject) (jwt.Pair, error)
}

// RunTelegramLogin validates a signed Telegram payload, upserts its user and
// issues a token pair. Nothing is persisted before the signature is verified.
func RunTelegramLogin(ctx context.Context, fields map[string]string, deps TelegramLoginDeps) TelegramLoginResult {
	if deps.Verify == nil || deps.UpsertUser == nil || deps.Issue == nil {
		return TelegramLoginResult{Failure: TelegramLoginFailureNotReady}
	}

	if deps.CheckRate != nil {
		ip := ""
		if deps.ClientIP != nil {
			ip = deps.ClientIP(ctx)
		}
		if err := deps.CheckRate(ctx, "tg:"+ip); err != nil {
			if deps.RateLimited != nil && errors.Is(err, deps.RateLimited) {
				return TelegramLoginResult{Failure: TelegramLoginFailureRateLimited, Err: err}
			}
			return TelegramLoginResult{Failure: TelegramLoginFailureRateBackend, Err: err}
		}
	}

	payload, err := deps.Verify(fields)
	if err != nil {
		return TelegramLoginResult{Failure: TelegramLoginFailurePayload, Err: err}
	}

	user, err := deps.UpsertUser(ctx, payload)
	if err != nil {
		return TelegramLoginResult{Failure: TelegramLoginFailureUpsert, Err: err, Payload: payload}
	}
	if user.Disabled {
		return TelegramLoginResult{Failure: TelegramLoginFailureDisabled, Payload: payload, User: user}
	}

	pair, err := deps.Issue(user.Subject())
	if err != nil {
		return TelegramLoginResult{Failure: TelegramLoginFailureIssue, Err: err, Payload: payload, User: user}
	}

	return TelegramLoginResult{Payload: payload, User: user, Tokens: pair}
}
