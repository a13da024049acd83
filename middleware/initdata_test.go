package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/medmarket/tgauth/telegram"
)

const initDataBotToken = "123456:AAE-test-bot-token"

func newInitDataValidator(t *testing.T, now time.Time) *telegram.Validator {
	t.Helper()
	v, err := telegram.NewValidator(telegram.Config{
		BotToken: initDataBotToken,
		Scheme:   telegram.SchemeWebApp,
		MaxAge:   time.Hour,
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return v
}

func signedInitData(t *testing.T, authDate time.Time) url.Values {
	t.Helper()
	fields := map[string]string{
		"query_id":  "AAHdF6IQAAAAAN0XohDhrOrc",
		"user":      `{"id":279058397,"first_name":"Vladislav","username":"vdkfrost"}`,
		"auth_date": strconv.FormatInt(authDate.Unix(), 10),
	}
	fields["hash"] = telegram.Sign(fields, initDataBotToken, telegram.SchemeWebApp)
	q := url.Values{}
	for k, v := range fields {
		q.Set(k, v)
	}
	return q
}

func TestInitData(t *testing.T) {
	now := time.Unix(1_750_000_000, 0)
	v := newInitDataValidator(t, now)

	var got *telegram.AuthPayload
	h := InitData(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = TelegramUserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tampered := signedInitData(t, now)
	tampered.Set("user", `{"id":1,"first_name":"Mallory"}`)
	noHash := signedInitData(t, now)
	noHash.Del("hash")

	cases := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"signed", signedInitData(t, now.Add(-time.Minute)).Encode(), http.StatusNoContent, ""},
		{"missing", "", http.StatusUnauthorized, CodeInitDataMissing},
		{"malformed", "user=%zz", http.StatusUnauthorized, CodeInitDataInvalid},
		{"no hash", noHash.Encode(), http.StatusUnauthorized, CodeInitDataInvalid},
		{"tampered", tampered.Encode(), http.StatusForbidden, CodeInitDataMismatch},
		{"stale", signedInitData(t, now.Add(-2*time.Hour)).Encode(), http.StatusUnauthorized, CodeInitDataExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got = nil
			req := httptest.NewRequest(http.MethodGet, "/telegram/me", nil)
			if tc.header != "" {
				req.Header.Set(InitDataHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if tc.code == "" {
				if got == nil || got.ID != 279058397 || got.Username != "vdkfrost" {
					t.Fatalf("unexpected payload %+v", got)
				}
				return
			}
			if got != nil {
				t.Fatal("handler ran for a rejected request")
			}
			if body := decodeError(t, rec); body.Code != tc.code {
				t.Fatalf("code = %q, want %q", body.Code, tc.code)
			}
		})
	}
}

func TestInitDataRejectsWidgetValidator(t *testing.T) {
	v, err := telegram.NewValidator(telegram.Config{BotToken: initDataBotToken, Scheme: telegram.SchemeWidget})
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for a widget validator")
		}
	}()
	InitData(v)
}
