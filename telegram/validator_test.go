package telegram

import (
	"errors"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func newTestValidator(t *testing.T, scheme Scheme, now time.Time) *Validator {
	t.Helper()
	v, err := NewValidator(Config{
		BotToken: testBotToken,
		Scheme:   scheme,
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return v
}

func TestVerifyWidgetPayload(t *testing.T) {
	now := time.Unix(1_750_000_000, 0)
	v := newTestValidator(t, SchemeWidget, now)
	fields := signedFields(t, SchemeWidget, map[string]string{
		"id":         "123456789",
		"first_name": "John",
		"username":   "john",
		"auth_date":  strconv.FormatInt(now.Add(-time.Minute).Unix(), 10),
	})

	p, err := v.Verify(fields)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.ID != 123456789 || p.FirstName != "John" || p.Username != "john" {
		t.Fatalf("unexpected payload %+v", p)
	}
	if !p.AuthDate.Equal(now.Add(-time.Minute)) {
		t.Fatalf("unexpected auth date %v", p.AuthDate)
	}
	fields["id"] = "1"
	if p.Raw["id"] != "123456789" {
		t.Fatal("expected Raw to be a copy of the input")
	}
}

func TestVerifyInitDataPayload(t *testing.T) {
	now := time.Unix(1_750_000_000, 0)
	v := newTestValidator(t, SchemeWebApp, now)

	fields := signedFields(t, SchemeWebApp, map[string]string{
		"query_id":  "AAHdF6IQAAAAAN0XohDhrOrc",
		"user":      `{"id":279058397,"first_name":"Vladislav","username":"vdkfrost","photo_url":"https://t.me/a.jpg"}`,
		"auth_date": strconv.FormatInt(now.Unix(), 10),
	})
	q := url.Values{}
	for k, val := range fields {
		q.Set(k, val)
	}

	parsed, err := ParseInitData(q.Encode())
	if err != nil {
		t.Fatalf("parse init data: %v", err)
	}
	p, err := v.Verify(parsed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.ID != 279058397 || p.Username != "vdkfrost" || p.PhotoURL != "https://t.me/a.jpg" {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestVerifyRejectsStalePayload(t *testing.T) {
	now := time.Unix(1_750_000_000, 0)
	v := newTestValidator(t, SchemeWebApp, now)
	fields := signedFields(t, SchemeWebApp, johnFields(now.Add(-25*time.Hour)))

	_, err := v.Verify(fields)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload parent, got %v", err)
	}
}

func TestVerifyRejectsFuturePayload(t *testing.T) {
	now := time.Unix(1_750_000_000, 0)
	v := newTestValidator(t, SchemeWebApp, now)
	fields := signedFields(t, SchemeWebApp, johnFields(now.Add(10*time.Minute)))

	if _, err := v.Verify(fields); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired for future auth_date, got %v", err)
	}
}

func TestVerifyChecksSignatureBeforeParsing(t *testing.T) {
	now := time.Unix(1_750_000_000, 0)
	v := newTestValidator(t, SchemeWebApp, now)
	fields := signedFields(t, SchemeWebApp, johnFields(now))
	fields["first_name"] = "Jane"

	if _, err := v.Verify(fields); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected ErrHashMismatch, got %v", err)
	}
}

func TestVerifyMissingFields(t *testing.T) {
	now := time.Unix(1_750_000_000, 0)
	v := newTestValidator(t, SchemeWebApp, now)

	for _, drop := range []string{"hash", "auth_date", "id"} {
		fields := signedFields(t, SchemeWebApp, johnFields(now))
		delete(fields, drop)
		if _, err := v.Verify(fields); !errors.Is(err, ErrMissingField) {
			t.Fatalf("drop %s: expected ErrMissingField, got %v", drop, err)
		}
	}
	if _, err := v.Verify(nil); !errors.Is(err, ErrMissingField) {
		t.Fatalf("nil payload: expected ErrMissingField, got %v", err)
	}
}

func TestNewValidatorRejectsBadConfig(t *testing.T) {
	if _, err := NewValidator(Config{}); err == nil {
		t.Fatal("expected missing bot token to fail")
	}
	if _, err := NewValidator(Config{BotToken: "x", Scheme: "nope"}); err == nil {
		t.Fatal("expected unknown scheme to fail")
	}
	if _, err := NewValidator(Config{BotToken: "x", MaxAge: -time.Second}); err == nil {
		t.Fatal("expected negative max age to fail")
	}
}

func TestFieldsFromJSONRendersNumbersVerbatim(t *testing.T) {
	fields, err := FieldsFromJSON([]byte(`{"id":123456789,"first_name":"John","auth_date":1700000000,"hash":"ab","last_name":null}`))
	if err != nil {
		t.Fatalf("fields from json: %v", err)
	}
	if fields["id"] != "123456789" || fields["auth_date"] != "1700000000" {
		t.Fatalf("unexpected numeric rendering %+v", fields)
	}
	if _, ok := fields["last_name"]; ok {
		t.Fatal("expected null field to be dropped")
	}
}

func TestFieldsFromJSONRejectsNested(t *testing.T) {
	if _, err := FieldsFromJSON([]byte(`{"id":{"x":1}}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if _, err := FieldsFromJSON([]byte(`null`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for null, got %v", err)
	}
}

func TestParseInitDataRejectsRepeatedKeys(t *testing.T) {
	if _, err := ParseInitData("a=1&a=2&hash=x"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if _, err := ParseInitData("  "); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for empty input, got %v", err)
	}
}
