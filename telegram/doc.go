// Package telegram verifies Telegram-issued identity payloads: Mini App initData strings and
// Login Widget objects.
//
// # Check string
//
// Every field except "hash" is rendered as key=value, sorted by key and joined with "\n".
// The digest is HMAC-SHA256 of that string keyed by a secret derived from the bot token:
//
//   - [SchemeWebApp]: secret = HMAC-SHA256(key="WebAppData", msg=botToken)
//   - [SchemeWidget]: secret = SHA256(botToken)
//
// [Validate] and [ValidateWidget] answer only "is this signed by the bot". Freshness is a
// separate concern handled by [Validator.Verify], which callers should prefer.
package telegram
