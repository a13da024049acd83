package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/medmarket/tgauth"
	logctx "github.com/medmarket/tgauth/internal/pkg/log"
	"github.com/medmarket/tgauth/middleware"
	"github.com/medmarket/tgauth/telegram"
)

const maxBodyBytes = 64 << 10

type handlers struct {
	auth Auth
	ping func(ctx context.Context) error
}

type loginResponse struct {
	AccessToken  string             `json:"accessToken"`
	RefreshToken string             `json:"refreshToken"`
	ExpiresAt    time.Time          `json:"expiresAt"`
	UserProfile  tgauth.UserProfile `json:"userProfile"`
}

type widgetRequest struct {
	AuthData json.RawMessage `json:"authData"`
}

type initDataRequest struct {
	InitData string `json:"initData"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type staffLoginRequest struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

type telegramUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photoUrl,omitempty"`
	AuthDate  int64  `json:"authDate"`
}

type messageBody struct {
	Message string `json:"message"`
}

func (h *handlers) telegramWidget(w http.ResponseWriter, r *http.Request) {
	var in widgetRequest
	if err := decodeStrict(w, r, &in); err != nil || len(in.AuthData) == 0 {
		writeMessage(w, http.StatusBadRequest, "authData is required.")
		return
	}
	fields, err := telegram.FieldsFromJSON(in.AuthData)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid Telegram auth data.")
		return
	}
	h.telegramLogin(w, r, telegram.SchemeWidget, fields)
}

func (h *handlers) telegramInitData(w http.ResponseWriter, r *http.Request) {
	var in initDataRequest
	if err := decodeStrict(w, r, &in); err != nil || in.InitData == "" {
		writeMessage(w, http.StatusBadRequest, "initData is required.")
		return
	}
	fields, err := telegram.ParseInitData(in.InitData)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid Telegram init data.")
		return
	}
	h.telegramLogin(w, r, telegram.SchemeWebApp, fields)
}

func (h *handlers) telegramLogin(w http.ResponseWriter, r *http.Request, scheme telegram.Scheme, fields map[string]string) {
	res, err := h.auth.LoginTelegramWithScheme(r.Context(), scheme, fields)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoginResponse(res))
}

func (h *handlers) staffLogin(role tgauth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in staffLoginRequest
		if err := decodeStrict(w, r, &in); err != nil {
			writeMessage(w, http.StatusBadRequest, "Malformed request body.")
			return
		}

		identifier, required := strings.TrimSpace(in.Email), "Email and password are required."
		if role == tgauth.RoleDeliveryAgent {
			identifier, required = strings.TrimSpace(in.PhoneNumber), "Phone number and password are required."
		}
		if identifier == "" || in.Password == "" {
			writeMessage(w, http.StatusBadRequest, required)
			return
		}

		res, err := h.auth.LoginPassword(r.Context(), role, identifier, in.Password)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newLoginResponse(res))
	}
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeStrict(w, r, &in); err != nil || in.RefreshToken == "" {
		writeJSON(w, http.StatusUnauthorized, middleware.ErrorBody{
			Message: "Refresh token is required.",
			Code:    middleware.CodeAuthorizationMissing,
		})
		return
	}

	pair, err := h.auth.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *handlers) profile(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeAuthError(w, r, tgauth.ErrAuthorizationMissing)
		return
	}

	p, err := h.auth.Profile(r.Context(), id.UserID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// telegramMe echoes the Telegram user whose initData header was verified.
func (h *handlers) telegramMe(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.TelegramUserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, middleware.ErrorBody{Message: "Telegram init data is missing.", Code: middleware.CodeInitDataMissing})
		return
	}
	writeJSON(w, http.StatusOK, telegramUser{
		ID:        p.ID,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Username:  p.Username,
		PhotoURL:  p.PhotoURL,
		AuthDate:  p.AuthDate.Unix(),
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			logctx.From(r.Context()).WarnContext(r.Context(), "health check failed", slog.Any("error", err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func newLoginResponse(res *tgauth.LoginResult) loginResponse {
	return loginResponse{
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		ExpiresAt:    res.Tokens.ExpiresAt,
		UserProfile:  res.Profile,
	}
}

// writeAuthError maps Engine sentinels to status codes. Unauthorized
// children share 401 and are told apart by code.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tgauth.ErrValidation):
		writeMessage(w, http.StatusBadRequest, "Invalid Telegram authentication data.")
	case errors.Is(err, tgauth.ErrLoginRateLimited), errors.Is(err, tgauth.ErrRefreshRateLimited):
		writeMessage(w, http.StatusTooManyRequests, "Too many attempts, please try again later.")
	case errors.Is(err, tgauth.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, middleware.ErrorBody{Message: "Invalid credentials.", Code: "invalid_credentials"})
	case errors.Is(err, tgauth.ErrAccountDisabled):
		writeJSON(w, http.StatusUnauthorized, middleware.ErrorBody{Message: "Account is disabled.", Code: "account_disabled"})
	case errors.Is(err, tgauth.ErrRefreshInvalid):
		writeJSON(w, http.StatusUnauthorized, middleware.ErrorBody{Message: "Invalid or expired refresh token.", Code: "refresh_invalid"})
	case errors.Is(err, tgauth.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, middleware.ErrorBody{Message: "Unauthorized.", Code: middleware.CodeTokenInvalid})
	case errors.Is(err, tgauth.ErrUserNotFound):
		writeMessage(w, http.StatusNotFound, "User not found.")
	case errors.Is(err, tgauth.ErrRoleNotAllowed):
		writeMessage(w, http.StatusBadRequest, "Role cannot sign in with this method.")
	case errors.Is(err, tgauth.ErrBackend), errors.Is(err, tgauth.ErrEngineNotReady):
		logctx.From(r.Context()).ErrorContext(r.Context(), "auth backend unavailable", slog.Any("error", err))
		writeMessage(w, http.StatusServiceUnavailable, "Service temporarily unavailable.")
	default:
		logctx.From(r.Context()).ErrorContext(r.Context(), "auth request failed", slog.Any("error", err))
		writeMessage(w, http.StatusInternalServerError, "Internal server error.")
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageBody{Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict rejects unknown fields and bodies over maxBodyBytes.
func decodeStrict(w http.ResponseWriter, r *http.Request, value any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}
