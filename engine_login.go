package tgauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/medmarket/tgauth/internal/flows"
	"github.com/medmarket/tgauth/telegram"
)

// LoginTelegram authenticates a Telegram payload signed with the configured
// default scheme. See LoginTelegramWithScheme.
func (e *Engine) LoginTelegram(ctx context.Context, fields map[string]string) (*LoginResult, error) {
	return e.LoginTelegramWithScheme(ctx, e.config.Telegram.Scheme, fields)
}

// LoginTelegramWithScheme verifies fields under scheme, creates or refreshes
// the customer record and issues a token pair.
//
// Payload problems return an error matching ErrValidation and wrapping the
// telegram package cause. Nothing is written for a payload that fails
// verification.
func (e *Engine) LoginTelegramWithScheme(ctx context.Context, scheme telegram.Scheme, fields map[string]string) (*LoginResult, error) {
	validator, ok := e.validators[scheme]
	if !ok {
		return nil, ErrEngineNotReady
	}

	var user UserRecord
	deps := e.flows.TelegramLogin
	deps.Verify = validator.Verify
	deps.UpsertUser = func(ctx context.Context, p *telegram.AuthPayload) (flows.UserRecord, error) {
		rec, err := e.userProvider.UpsertTelegramUser(ctx, TelegramUser{
			TelegramID: p.ID,
			FirstName:  p.FirstName,
			LastName:   p.LastName,
			Username:   p.Username,
			PhotoURL:   p.PhotoURL,
		})
		if err != nil {
			return flows.UserRecord{}, err
		}
		user = rec
		return flowUser(rec), nil
	}

	res := flows.RunTelegramLogin(ctx, fields, deps)
	meta := func() map[string]string { return map[string]string{"scheme": string(scheme)} }

	var err error
	switch res.Failure {
	case flows.TelegramLoginFailureNone:
		e.metricInc(MetricTelegramLoginSuccess)
		e.emitAudit(ctx, auditEventTelegramLoginSuccess, true, user.ID, user.Role, nil, meta)
		return &LoginResult{Tokens: pairFromJWT(res.Tokens), Profile: user.Profile()}, nil
	case flows.TelegramLoginFailureNotReady:
		return nil, ErrEngineNotReady
	case flows.TelegramLoginFailureRateLimited:
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", RoleCustomer, ErrLoginRateLimited, meta)
		return nil, ErrLoginRateLimited
	case flows.TelegramLoginFailureRateBackend:
		err = fmt.Errorf("%w: %v", ErrBackend, res.Err)
	case flows.TelegramLoginFailurePayload:
		switch {
		case errors.Is(res.Err, telegram.ErrHashMismatch):
			e.metricInc(MetricTelegramHashMismatch)
		case errors.Is(res.Err, telegram.ErrExpired):
			e.metricInc(MetricTelegramPayloadExpired)
		}
		err = fmt.Errorf("%w: %w", ErrValidation, res.Err)
	case flows.TelegramLoginFailureDisabled:
		err = ErrAccountDisabled
	default:
		err = fmt.Errorf("%w: %v", ErrBackend, res.Err)
	}

	e.metricInc(MetricTelegramLoginFailure)
	e.emitAudit(ctx, auditEventTelegramLoginFailure, false, user.ID, user.Role, err, meta)
	if errors.Is(err, ErrBackend) {
		e.logger.ErrorContext(ctx, "telegram login failed", "error", res.Err)
	}
	return nil, err
}

// LoginPassword authenticates a staff account. Admins and suppliers sign in
// with their email, delivery agents with their phone number. Unknown
// identifiers and wrong passwords both return ErrInvalidCredentials.
func (e *Engine) LoginPassword(ctx context.Context, role Role, identifier, password string) (*LoginResult, error) {
	if !role.IsStaff() {
		return nil, ErrRoleNotAllowed
	}
	if !e.jwtManager.HasRole(string(role)) {
		return nil, ErrEngineNotReady
	}

	var user UserRecord
	deps := e.flows.PasswordLogin
	deps.GetStaff = func(ctx context.Context, role, identifier string) (flows.UserRecord, error) {
		rec, err := e.userProvider.GetStaff(ctx, Role(role), identifier)
		if err != nil {
			return flows.UserRecord{}, err
		}
		user = rec
		return flowUser(rec), nil
	}

	res := flows.RunPasswordLogin(ctx, string(role), identifier, password, deps)
	meta := func() map[string]string {
		return map[string]string{"reason": passwordFailureReason(res.Failure)}
	}

	var err error
	switch res.Failure {
	case flows.PasswordLoginFailureNone:
		e.metricInc(MetricPasswordLoginSuccess)
		if res.Upgraded {
			e.metricInc(MetricPasswordHashUpgraded)
			e.emitAudit(ctx, auditEventPasswordHashUpgraded, true, user.ID, user.Role, nil, nil)
		}
		e.emitAudit(ctx, auditEventPasswordLoginSuccess, true, user.ID, user.Role, nil, nil)
		user.PasswordHash = ""
		return &LoginResult{Tokens: pairFromJWT(res.Tokens), Profile: user.Profile()}, nil
	case flows.PasswordLoginFailureNotReady:
		return nil, ErrEngineNotReady
	case flows.PasswordLoginFailureRateLimited:
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", role, ErrLoginRateLimited, nil)
		return nil, ErrLoginRateLimited
	case flows.PasswordLoginFailureEmptyInput,
		flows.PasswordLoginFailureUserNotFound,
		flows.PasswordLoginFailureMismatch:
		err = ErrInvalidCredentials
	case flows.PasswordLoginFailureDisabled:
		err = ErrAccountDisabled
	default:
		err = fmt.Errorf("%w: %v", ErrBackend, res.Err)
		e.logger.ErrorContext(ctx, "password login failed", "role", role, "error", res.Err)
	}

	e.metricInc(MetricPasswordLoginFailure)
	e.emitAudit(ctx, auditEventPasswordLoginFailure, false, user.ID, role, err, meta)
	return nil, err
}

func passwordFailureReason(kind flows.PasswordLoginFailureKind) string {
	switch kind {
	case flows.PasswordLoginFailureEmptyInput:
		return "empty_input"
	case flows.PasswordLoginFailureUserNotFound:
		return "user_not_found"
	case flows.PasswordLoginFailureMismatch:
		return "password_mismatch"
	case flows.PasswordLoginFailureDisabled:
		return "account_disabled"
	case flows.PasswordLoginFailureRateBackend, flows.PasswordLoginFailureLookup:
		return "backend"
	case flows.PasswordLoginFailureIssue:
		return "issue"
	default:
		return ""
	}
}

// Refresh exchanges a refresh token for a new pair. The user is reloaded so
// role and profile changes take effect, and disabled users are refused.
// Refresh tokens are not rotated server-side: the old one stays valid until
// it expires.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	deps := e.flows.Refresh
	res := flows.RunRefresh(ctx, refreshToken, deps)

	var err error
	var reason string
	switch res.Failure {
	case flows.RefreshFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, res.User.UserID, Role(res.User.Role), nil, nil)
		return pairFromJWT(res.Tokens), nil
	case flows.RefreshFailureNotReady:
		return TokenPair{}, ErrEngineNotReady
	case flows.RefreshFailureRateLimited:
		e.metricInc(MetricRefreshRateLimited)
		e.emitAudit(ctx, auditEventRefreshRateLimited, false, res.UserID, "", ErrRefreshRateLimited, nil)
		return TokenPair{}, ErrRefreshRateLimited
	case flows.RefreshFailureExpired:
		err, reason = ErrRefreshInvalid, "expired"
	case flows.RefreshFailureDecode:
		err, reason = ErrRefreshInvalid, "decode_failed"
	case flows.RefreshFailureUserNotFound:
		err, reason = ErrRefreshInvalid, "user_not_found"
	case flows.RefreshFailureDisabled:
		err, reason = ErrAccountDisabled, "account_disabled"
	default:
		err, reason = fmt.Errorf("%w: %v", ErrBackend, res.Err), "backend"
		e.logger.ErrorContext(ctx, "refresh failed", "user_id", res.UserID, "error", res.Err)
	}

	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshFailure, false, res.UserID, Role(res.User.Role), err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return TokenPair{}, err
}
