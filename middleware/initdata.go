package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/medmarket/tgauth/telegram"
)

// InitDataHeader carries the raw Mini App initData string.
const InitDataHeader = "X-Telegram-Init-Data"

const (
	CodeInitDataMissing  = "init_data_missing"
	CodeInitDataInvalid  = "init_data_invalid"
	CodeInitDataExpired  = "init_data_expired"
	CodeInitDataMismatch = "init_data_mismatch"
)

const (
	msgInitDataMissing  = "Unauthorized: Telegram init data is missing."
	msgInitDataInvalid  = "Unauthorized: Telegram init data is malformed."
	msgInitDataExpired  = "Unauthorized: Telegram init data has expired."
	msgInitDataMismatch = "Forbidden: Telegram init data signature mismatch."
)

type telegramUserContextKey struct{}

// TelegramUserFromContext returns the payload attached by InitData.
func TelegramUserFromContext(ctx context.Context) (*telegram.AuthPayload, bool) {
	p, ok := ctx.Value(telegramUserContextKey{}).(*telegram.AuthPayload)
	return p, ok && p != nil
}

// InitData verifies the initData header of every request against v and
// attaches the signed Telegram user. A missing or malformed header gets 401,
// a bad signature 403. v must use telegram.SchemeWebApp.
func InitData(v *telegram.Validator) func(http.Handler) http.Handler {
	if v == nil {
		panic("middleware: InitData needs a validator")
	}
	if v.Scheme() != telegram.SchemeWebApp {
		panic("middleware: InitData needs a " + string(telegram.SchemeWebApp) + " validator")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(InitDataHeader)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, msgInitDataMissing, CodeInitDataMissing)
				return
			}

			fields, err := telegram.ParseInitData(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, msgInitDataInvalid, CodeInitDataInvalid)
				return
			}
			payload, err := v.Verify(fields)
			switch {
			case err == nil:
			case errors.Is(err, telegram.ErrHashMismatch):
				writeError(w, http.StatusForbidden, msgInitDataMismatch, CodeInitDataMismatch)
				return
			case errors.Is(err, telegram.ErrExpired):
				writeError(w, http.StatusUnauthorized, msgInitDataExpired, CodeInitDataExpired)
				return
			default:
				writeError(w, http.StatusUnauthorized, msgInitDataInvalid, CodeInitDataInvalid)
				return
			}

			ctx := context.WithValue(r.Context(), telegramUserContextKey{}, payload)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
