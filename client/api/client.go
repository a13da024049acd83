package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medmarket/tgauth"
)

const (
	defaultTimeout  = 30 * time.Second
	maxErrorBody    = 16 << 10
	requestIDHeader = "X-Request-Id"
)

// Options configures a Client. Only BaseURL is required.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	// Timeout applies when HTTPClient is nil.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client talks to the auth endpoints. It holds no tokens; callers pass the
// access token for authenticated calls.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// New validates the base URL and returns a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("api: base URL required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api: unsupported scheme %q", base.Scheme)
	}
	if opts.HTTPClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		opts.HTTPClient = &http.Client{Timeout: timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{base: base, http: opts.HTTPClient, logger: opts.Logger}, nil
}

// Credentials selects one login method. Exactly one of AuthData, InitData or
// Role must be set.
type Credentials struct {
	AuthData map[string]string
	InitData string

	Role       tgauth.Role
	Identifier string
	Password   string
}

// LoginResponse is the body of every successful login.
type LoginResponse struct {
	AccessToken  string             `json:"accessToken"`
	RefreshToken string             `json:"refreshToken"`
	ExpiresAt    time.Time          `json:"expiresAt"`
	UserProfile  tgauth.UserProfile `json:"userProfile"`
}

// Pair returns the tokens without the profile.
func (r *LoginResponse) Pair() tgauth.TokenPair {
	return tgauth.TokenPair{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken, ExpiresAt: r.ExpiresAt}
}

// Login dispatches to the endpoint for c.
func (c *Client) Login(ctx context.Context, cred Credentials) (*LoginResponse, error) {
	switch {
	case cred.AuthData != nil:
		return c.LoginWidget(ctx, cred.AuthData)
	case cred.InitData != "":
		return c.LoginInitData(ctx, cred.InitData)
	case cred.Role != "":
		return c.LoginStaff(ctx, cred.Role, cred.Identifier, cred.Password)
	default:
		return nil, fmt.Errorf("%w: empty credentials", ErrValidation)
	}
}

// LoginWidget posts a Login Widget payload.
func (c *Client) LoginWidget(ctx context.Context, authData map[string]string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.Do(ctx, http.MethodPost, "/auth/telegram-login-widget", "", map[string]any{"authData": authData}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// LoginInitData posts a Mini App initData string.
func (c *Client) LoginInitData(ctx context.Context, initData string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.Do(ctx, http.MethodPost, "/auth/telegram-init-data", "", map[string]string{"initData": initData}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// LoginStaff signs in an admin or supplier by email, or a delivery agent by
// phone number.
func (c *Client) LoginStaff(ctx context.Context, role tgauth.Role, identifier, password string) (*LoginResponse, error) {
	var path string
	body := map[string]string{"password": password}
	switch role {
	case tgauth.RoleAdmin:
		path, body["email"] = "/auth/admin/login", identifier
	case tgauth.RoleSupplier:
		path, body["email"] = "/auth/supplier/login", identifier
	case tgauth.RoleDeliveryAgent:
		path, body["phoneNumber"] = "/auth/delivery/login", identifier
	default:
		return nil, fmt.Errorf("%w: role %q has no password login", ErrValidation, role)
	}

	var out LoginResponse
	if err := c.Do(ctx, http.MethodPost, path, "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh exchanges refreshToken for a new pair. A response without a refresh
// token keeps the presented one.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (tgauth.TokenPair, error) {
	var out tgauth.TokenPair
	if err := c.Do(ctx, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refreshToken}, &out); err != nil {
		return tgauth.TokenPair{}, err
	}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

// Profile fetches the profile of the bearer of accessToken.
func (c *Client) Profile(ctx context.Context, accessToken string) (tgauth.UserProfile, error) {
	var out tgauth.UserProfile
	err := c.Do(ctx, http.MethodGet, "/user/profile", accessToken, nil, &out)
	return out, err
}

// Do sends in as JSON (when non-nil) and decodes a 2xx body into out (when
// non-nil). Transport failures return *NetworkError, non-2xx answers
// *StatusError.
func (c *Client) Do(ctx context.Context, method, path, accessToken string, in, out any) error {
	target := c.base.JoinPath(path).String()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	rid := uuid.NewString()
	req.Header.Set(requestIDHeader, rid)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.DebugContext(ctx, "api request failed", slog.String("request_id", rid), slog.String("path", path), slog.Any("error", err))
		return &NetworkError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeStatusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Method: method, URL: target, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// decodeStatusError accepts both {message, code} and {error, retryAfter}
// bodies.
func decodeStatusError(resp *http.Response) error {
	var body struct {
		Message    string `json:"message"`
		Error      string `json:"error"`
		Code       string `json:"code"`
		RetryAfter int64  `json:"retryAfter"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = json.Unmarshal(raw, &body)

	se := &StatusError{StatusCode: resp.StatusCode, Message: body.Message, Code: body.Code, RetryAfter: body.RetryAfter}
	if se.Message == "" {
		se.Message = body.Error
	}
	return se
}
