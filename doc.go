// Package tgauth is the authentication core of the marketplace backend.
//
// Customers sign in through Telegram: the Mini App posts its initData and the
// website posts the Login Widget callback. Both payloads are HMAC-verified
// against the bot token before any user record is touched. Staff (admins,
// suppliers and delivery agents) sign in with a password.
//
// Every login returns a short-lived access token and a long-lived refresh
// token. Each role signs with its own HS256 secret, so a token minted for one
// role can never be replayed as another. Validation is stateless: a token is
// good until it expires.
//
// Build an [Engine] with [New]:
//
//	engine, err := tgauth.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithUserProvider(users).
//		Build()
//
// Engine methods are safe for concurrent use. Errors are sentinels grouped
// under [ErrUnauthorized], [ErrValidation] and [ErrBackend]; use errors.Is.
package tgauth
