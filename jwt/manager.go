package jwt

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinKeyLength is the shortest HS256 secret a Manager accepts.
const MinKeyLength = 32

var (
	// ErrExpired is returned for a correctly signed token whose exp has passed.
	ErrExpired = errors.New("token expired")
	// ErrInvalid is returned for every other verification failure.
	ErrInvalid = errors.New("invalid token")
)

// TokenType separates access tokens from refresh tokens signed with the same key.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

// Config defines issuance and verification parameters.
//
// Keys maps a role name to its HS256 secret. Each role signs and verifies only
// with its own secret, and no two roles may share one.
type Config struct {
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	Keys         map[string][]byte
	Issuer       string
	Audience     string
	Leeway       time.Duration
	MaxFutureIAT time.Duration
	Now          func() time.Time
}

// Manager issues and verifies role-scoped token pairs. It is immutable after
// NewManager and safe for concurrent use.
type Manager struct {
	config Config
}

// Subject is the identity embedded in issued tokens.
type Subject struct {
	UserID           string
	Role             string
	ProfileCompleted bool
}

// Pair is a freshly issued access/refresh pair.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Claims is the JWT payload of both token types.
type Claims struct {
	UID              string    `json:"uid"`
	Role             string    `json:"role"`
	ProfileCompleted bool      `json:"pc,omitempty"`
	Type             TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if len(cfg.Keys) == 0 {
		return nil, errors.New("at least one role key is required")
	}

	keys := make(map[string][]byte, len(cfg.Keys))
	for role, key := range cfg.Keys {
		role = strings.TrimSpace(role)
		if role == "" {
			return nil, errors.New("key map contains empty role")
		}
		if len(key) < MinKeyLength {
			return nil, fmt.Errorf("key for role %q shorter than %d bytes", role, MinKeyLength)
		}
		for other, existing := range keys {
			if bytes.Equal(existing, key) {
				return nil, fmt.Errorf("roles %q and %q share a signing key", other, role)
			}
		}
		keys[role] = append([]byte(nil), key...)
	}
	cfg.Keys = keys

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{config: cfg}, nil
}

// HasRole reports whether a signing key is configured for role.
func (j *Manager) HasRole(role string) bool {
	_, ok := j.config.Keys[role]
	return ok
}

// Issue mints an access and a refresh token for sub, both signed with the key of sub.Role.
func (j *Manager) Issue(sub Subject) (Pair, error) {
	if sub.UserID == "" {
		return Pair{}, errors.New("subject user id is required")
	}
	key, ok := j.config.Keys[sub.Role]
	if !ok {
		return Pair{}, fmt.Errorf("no signing key for role %q", sub.Role)
	}

	now := j.config.Now()
	accessExp := now.Add(j.config.AccessTTL)
	refreshExp := now.Add(j.config.RefreshTTL)

	access, err := j.sign(key, sub, TypeAccess, now, accessExp)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := j.sign(key, sub, TypeRefresh, now, refreshExp)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp.Truncate(time.Second),
		RefreshExpiresAt: refreshExp.Truncate(time.Second),
	}, nil
}

func (j *Manager) sign(key []byte, sub Subject, typ TokenType, now, exp time.Time) (string, error) {
	claims := Claims{
		UID:              sub.UserID,
		Role:             sub.Role,
		ProfileCompleted: sub.ProfileCompleted,
		Type:             typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = sub.Role
	return token.SignedString(key)
}

// ParseAccess verifies an access token.
func (j *Manager) ParseAccess(tokenStr string) (*Claims, error) {
	return j.parse(tokenStr, TypeAccess)
}

// ParseRefresh verifies a refresh token.
func (j *Manager) ParseRefresh(tokenStr string) (*Claims, error) {
	return j.parse(tokenStr, TypeRefresh)
}

func (j *Manager) parse(tokenStr string, want TokenType) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	var kid string
	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		kid, _ = t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.config.Keys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	})
	if err != nil {
		// Claims are validated only after the signature, so an expiry error
		// implies an authentic token.
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalid
	}
	if claims.Role != kid {
		return nil, fmt.Errorf("%w: role claim does not match key", ErrInvalid)
	}
	if claims.Type != want {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrInvalid, claims.Type)
	}
	if claims.UID == "" {
		return nil, fmt.Errorf("%w: missing uid", ErrInvalid)
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(j.config.Now().Add(j.config.MaxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrInvalid)
	}

	return claims, nil
}

// PeekExpiry reads exp from a token without verifying it. Clients use it to
// decide when to refresh; it must never gate access.
func PeekExpiry(tokenStr string) (time.Time, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: missing exp", ErrInvalid)
	}
	return claims.ExpiresAt.Time, nil
}
