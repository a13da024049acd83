package flows

import "github.com/medmarket/tgauth/jwt"

// Deps groups the flow dependency sets. The Engine builds it once at Build time.
type Deps struct {
	TelegramLogin TelegramLoginDeps
	PasswordLogin PasswordLoginDeps
	Refresh       RefreshDeps
	Validate      ValidateDeps
}

// UserRecord is the flow-local view of a persisted user.
type UserRecord struct {
	UserID           string
	Role             string
	ProfileCompleted bool
	Disabled         bool
	PasswordHash     string
}

// Subject converts the record into token claims.
func (u UserRecord) Subject() jwt.Subject {
	return jwt.Subject{
		UserID:           u.UserID,
		Role:             u.Role,
		ProfileCompleted: u.ProfileCompleted,
	}
}
