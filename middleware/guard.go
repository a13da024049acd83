package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/medmarket/tgauth"
)

const (
	CodeAuthorizationMissing = "authorization_missing"
	CodeTokenExpired         = "token_expired"
	CodeTokenInvalid         = "token_invalid"
	CodeForbidden            = "forbidden"
)

const (
	msgAuthorizationMissing = `Authorization header is missing or malformed. Expected "Bearer [token]".`
	msgTokenExpired         = "Unauthorized: Token has expired."
	msgTokenInvalid         = "Unauthorized: Invalid token."
	msgForbidden            = "Forbidden: Access denied."
)

// ErrorBody is the JSON body of every 401 and 403 written by this package.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Validator is the subset of *tgauth.Engine the guard needs.
type Validator interface {
	Validate(ctx context.Context, accessToken string) (*tgauth.AuthResult, error)
}

type authResultContextKey struct{}

// AuthResultFromContext returns the result attached by Guard.
func AuthResultFromContext(ctx context.Context) (*tgauth.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*tgauth.AuthResult)
	return res, ok && res != nil
}

// IdentityFromContext returns the identity attached by Guard.
func IdentityFromContext(ctx context.Context) (tgauth.Identity, bool) {
	res, ok := AuthResultFromContext(ctx)
	if !ok {
		return tgauth.Identity{}, false
	}
	return res.Identity, true
}

// WithAuthResult attaches res to ctx. Guard does this for real requests; it is
// exported for handler tests.
func WithAuthResult(ctx context.Context, res *tgauth.AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// Guard authenticates the bearer token of every request. It performs no
// authorization: any valid token of any role passes. Compose with
// RequireRole to restrict a route.
func Guard(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || v == nil {
				writeError(w, http.StatusUnauthorized, msgAuthorizationMissing, CodeAuthorizationMissing)
				return
			}

			res, err := v.Validate(r.Context(), token)
			if err != nil {
				switch {
				case errors.Is(err, tgauth.ErrTokenExpired):
					writeError(w, http.StatusUnauthorized, msgTokenExpired, CodeTokenExpired)
				case errors.Is(err, tgauth.ErrAuthorizationMissing):
					writeError(w, http.StatusUnauthorized, msgAuthorizationMissing, CodeAuthorizationMissing)
				default:
					writeError(w, http.StatusUnauthorized, msgTokenInvalid, CodeTokenInvalid)
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthResult(r.Context(), res)))
		})
	}
}

// RequireRole rejects requests whose identity is not one of roles with 403.
// It must run after Guard; a request without an identity gets 401.
func RequireRole(roles ...tgauth.Role) func(http.Handler) http.Handler {
	allowed := make(map[tgauth.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, msgAuthorizationMissing, CodeAuthorizationMissing)
				return
			}
			if _, ok := allowed[id.Role]; !ok {
				writeError(w, http.StatusForbidden, msgForbidden, CodeForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}

	return token, true
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorBody{Message: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
