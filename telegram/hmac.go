package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Scheme selects how the HMAC secret is derived from the bot token.
type Scheme string

const (
	// SchemeWebApp is used by Mini App initData.
	SchemeWebApp Scheme = "webapp"
	// SchemeWidget is used by the Telegram Login Widget.
	SchemeWidget Scheme = "widget"
)

const (
	hashField      = "hash"
	webAppKeyLabel = "WebAppData"
)

// Validate reports whether fields carry a valid Mini App signature for botToken.
// It never panics and returns false for an empty payload, an empty token, a missing
// or non-hex hash, or a digest mismatch. auth_date is not checked.
func Validate(fields map[string]string, botToken string) bool {
	return validate(fields, botToken, SchemeWebApp)
}

// ValidateWidget is Validate for Login Widget payloads.
func ValidateWidget(fields map[string]string, botToken string) bool {
	return validate(fields, botToken, SchemeWidget)
}

func validate(fields map[string]string, botToken string, scheme Scheme) bool {
	if len(fields) == 0 || botToken == "" {
		return false
	}
	supplied, ok := fields[hashField]
	if !ok || supplied == "" {
		return false
	}
	got, err := hex.DecodeString(supplied)
	if err != nil {
		return false
	}
	want := digest(fields, botToken, scheme)
	if want == nil {
		return false
	}
	return hmac.Equal(got, want)
}

// Sign returns the hex digest Telegram would attach to fields. The "hash" entry,
// if present, is ignored. Sign returns "" for an unknown scheme.
func Sign(fields map[string]string, botToken string, scheme Scheme) string {
	sum := digest(fields, botToken, scheme)
	if sum == nil {
		return ""
	}
	return hex.EncodeToString(sum)
}

// CheckString builds the canonical data-check string for fields.
func CheckString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == hashField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

func digest(fields map[string]string, botToken string, scheme Scheme) []byte {
	secret := secretKey(botToken, scheme)
	if secret == nil {
		return nil
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(CheckString(fields)))
	return mac.Sum(nil)
}

func secretKey(botToken string, scheme Scheme) []byte {
	switch scheme {
	case SchemeWebApp:
		mac := hmac.New(sha256.New, []byte(webAppKeyLabel))
		mac.Write([]byte(botToken))
		return mac.Sum(nil)
	case SchemeWidget:
		sum := sha256.Sum256([]byte(botToken))
		return sum[:]
	default:
		return nil
	}
}

// ParseScheme maps a configuration string to a Scheme. Empty selects SchemeWebApp.
func ParseScheme(s string) (Scheme, bool) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case "", SchemeWebApp:
		return SchemeWebApp, true
	case SchemeWidget:
		return SchemeWidget, true
	default:
		return "", false
	}
}
