package tgauth

import (
	"context"
	"time"

	"github.com/medmarket/tgauth/jwt"
)

// Role is the marketplace role a token is scoped to.
type Role string

const (
	RoleCustomer      Role = "customer"
	RoleAdmin         Role = "admin"
	RoleSupplier      Role = "supplier"
	RoleDeliveryAgent Role = "delivery_agent"
)

// Roles lists every known role.
func Roles() []Role {
	return []Role{RoleCustomer, RoleAdmin, RoleSupplier, RoleDeliveryAgent}
}

// ParseRole returns the Role named by s.
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleCustomer, RoleAdmin, RoleSupplier, RoleDeliveryAgent:
		return r, true
	default:
		return "", false
	}
}

// IsStaff reports whether the role signs in with a password instead of Telegram.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleSupplier || r == RoleDeliveryAgent
}

// Identity is what a valid access token proves about its bearer.
type Identity struct {
	UserID           string
	Role             Role
	ProfileCompleted bool
}

// TokenPair is returned by every login and refresh. ExpiresAt is the access-token expiry.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"-"`
}

// UserProfile is the public view of a user returned at login and by /user/profile.
type UserProfile struct {
	ID               string `json:"id"`
	TelegramID       int64  `json:"telegramId,omitempty"`
	FirstName        string `json:"firstName,omitempty"`
	LastName         string `json:"lastName,omitempty"`
	Username         string `json:"username,omitempty"`
	PhotoURL         string `json:"photoUrl,omitempty"`
	Email            string `json:"email,omitempty"`
	PhoneNumber      string `json:"phoneNumber,omitempty"`
	Role             Role   `json:"role"`
	ProfileCompleted bool   `json:"profileCompleted"`
	CityID           *int64 `json:"cityId,omitempty"`
}

// UserRecord is the persisted user as seen by the Engine.
type UserRecord struct {
	ID               string
	TelegramID       int64
	FirstName        string
	LastName         string
	Username         string
	PhotoURL         string
	Email            string
	PhoneNumber      string
	Role             Role
	ProfileCompleted bool
	CityID           *int64
	Disabled         bool
	PasswordHash     string
}

// Profile returns the public view of r.
func (r UserRecord) Profile() UserProfile {
	return UserProfile{
		ID:               r.ID,
		TelegramID:       r.TelegramID,
		FirstName:        r.FirstName,
		LastName:         r.LastName,
		Username:         r.Username,
		PhotoURL:         r.PhotoURL,
		Email:            r.Email,
		PhoneNumber:      r.PhoneNumber,
		Role:             r.Role,
		ProfileCompleted: r.ProfileCompleted,
		CityID:           r.CityID,
	}
}

// TelegramUser is the subset of a verified Telegram payload that is persisted.
type TelegramUser struct {
	TelegramID int64
	FirstName  string
	LastName   string
	Username   string
	PhotoURL   string
}

// UserProvider is the user repository the Engine depends on.
//
// UpsertTelegramUser creates a customer on first login and refreshes the
// Telegram-owned name fields afterwards; it must never change an existing
// user's role. GetStaff looks up a password account by email (admin,
// supplier) or phone number (delivery agent). Lookups that find nothing
// return an error wrapping ErrUserNotFound.
type UserProvider interface {
	UpsertTelegramUser(ctx context.Context, u TelegramUser) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	GetStaff(ctx context.Context, role Role, identifier string) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}

// AuthResult is attached to a request that passed the guard.
type AuthResult struct {
	Identity
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// LoginResult is returned by both login methods.
type LoginResult struct {
	Tokens  TokenPair
	Profile UserProfile
}

func identityFromClaims(c *jwt.Claims) Identity {
	return Identity{
		UserID:           c.UID,
		Role:             Role(c.Role),
		ProfileCompleted: c.ProfileCompleted,
	}
}

func pairFromJWT(p jwt.Pair) TokenPair {
	return TokenPair{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		ExpiresAt:        p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}
